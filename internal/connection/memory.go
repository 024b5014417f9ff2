package connection

import (
	"sync"
	"time"
)

// Responder — реакция симулированного устройства на записанные байты при данной скорости.
// Возвращённые байты попадают во входной буфер соединения.
type Responder func(written []byte, baud int) []byte

// Memory — соединение в памяти для симуляции устройства. Чтение не ждёт:
// пустой буфер равносилен истёкшему таймауту.
type Memory struct {
	mu      sync.Mutex
	name    string
	in      []byte
	out     []byte
	baud    int
	timeout time.Duration
	closed  bool
	resets  int

	respond Responder
}

// NewMemory создаёт соединение с именем name
func NewMemory(name string, baud int) *Memory {
	return &Memory{name: name, baud: baud}
}

// SetResponder подключает симулятор устройства
func (m *Memory) SetResponder(r Responder) {
	m.mu.Lock()
	m.respond = r
	m.mu.Unlock()
}

// Feed добавляет байты во входной буфер
func (m *Memory) Feed(p []byte) {
	m.mu.Lock()
	m.in = append(m.in, p...)
	m.mu.Unlock()
}

// Written возвращает копию всего записанного
func (m *Memory) Written() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]byte(nil), m.out...)
}

// Resets — сколько раз сбрасывался входной буфер
func (m *Memory) Resets() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.resets
}

// Closed — соединение закрыто
func (m *Memory) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func (m *Memory) Read(n int) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	return takePending(&m.in, n), nil
}

func (m *Memory) ReadUntil(delim []byte, limit int) ([]byte, error) {
	return readUntil(m.Read, delim, limit)
}

func (m *Memory) ReadReady() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.in) > 0
}

func (m *Memory) ReadAll() ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	return takePending(&m.in, len(m.in)), nil
}

func (m *Memory) Write(p []byte) (int, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return 0, ErrClosed
	}
	m.out = append(m.out, p...)
	respond, baud := m.respond, m.baud
	m.mu.Unlock()
	if respond != nil {
		if reply := respond(append([]byte(nil), p...), baud); len(reply) > 0 {
			m.Feed(reply)
		}
	}
	return len(p), nil
}

func (m *Memory) ResetInputBuffer() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.in = nil
	m.resets++
	return nil
}

func (m *Memory) SetTimeout(d time.Duration) error {
	m.mu.Lock()
	m.timeout = d
	m.mu.Unlock()
	return nil
}

func (m *Memory) Timeout() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.timeout
}

func (m *Memory) SetBaud(baud int) error {
	m.mu.Lock()
	m.baud = baud
	m.mu.Unlock()
	return nil
}

func (m *Memory) Baud() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.baud
}

func (m *Memory) Name() string { return m.name }

func (m *Memory) Kind() Kind { return KindMemory }

func (m *Memory) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}
