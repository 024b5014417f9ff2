package devicesim

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shiwa/imulink/internal/connection"
)

// DataPort — порт данных симулятора: пока модуль выдаёт телеметрию, каждое чтение
// из пустого буфера получает очередной кадр. Ответ X3 на команду приходит после кадра,
// который модуль уже начал выдавать.
type DataPort struct {
	*connection.Memory
	dev *Device
}

// NewDataPort создаёт порт данных модуля d
func NewDataPort(d *Device, name string, baud int) *DataPort {
	p := &DataPort{Memory: connection.NewMemory(name, baud), dev: d}
	p.SetResponder(func(written []byte, baud int) []byte {
		if !d.X3 {
			return nil
		}
		resp := d.respond(written, 1)
		if resp == nil || !d.Outputting() {
			return resp
		}
		return append(d.NextOutput(), resp...)
	})
	return p
}

func (p *DataPort) Read(n int) ([]byte, error) {
	if !p.Memory.ReadReady() && p.dev.Outputting() && !p.Closed() {
		p.Feed(p.dev.NextOutput())
	}
	return p.Memory.Read(n)
}

func (p *DataPort) ReadUntil(delim []byte, limit int) ([]byte, error) {
	var out []byte
	for limit <= 0 || len(out) < limit {
		b, err := p.Read(1)
		if err != nil || len(b) == 0 {
			return out, err
		}
		out = append(out, b...)
		if len(delim) > 0 && len(out) >= len(delim) && string(out[len(out)-len(delim):]) == string(delim) {
			break
		}
	}
	return out, nil
}

func (p *DataPort) ReadAll() ([]byte, error) {
	if p.dev.Outputting() && !p.Closed() {
		p.Feed(p.dev.NextOutput())
	}
	return p.Memory.ReadAll()
}

func (p *DataPort) ReadReady() bool {
	return p.Memory.ReadReady() || p.dev.Outputting()
}

// Bus — набор симулированных портов с исключительным открытием, как у ОС
type Bus struct {
	mu     sync.Mutex
	ports  map[string]func(baud int) connection.Connection
	open   map[string]connection.Connection
	opened []Open
}

// Open — запись об открытии порта
type Open struct {
	Name string
	Baud int
}

// NewBus создаёт пустую шину
func NewBus() *Bus {
	return &Bus{
		ports: map[string]func(int) connection.Connection{},
		open:  map[string]connection.Connection{},
	}
}

// AddControl подключает порт команд модуля d
func (b *Bus) AddControl(name string, d *Device) {
	b.add(name, func(baud int) connection.Connection {
		m := connection.NewMemory(name, baud)
		m.SetResponder(d.Responder())
		return m
	})
}

// AddData подключает порт данных модуля d
func (b *Bus) AddData(name string, d *Device) {
	b.add(name, func(baud int) connection.Connection {
		return NewDataPort(d, name, baud)
	})
}

// AddSilent подключает порт, на котором никто не отвечает
func (b *Bus) AddSilent(name string) {
	b.add(name, func(baud int) connection.Connection {
		return connection.NewMemory(name, baud)
	})
}

func (b *Bus) add(name string, f func(int) connection.Connection) {
	b.mu.Lock()
	b.ports[name] = f
	b.mu.Unlock()
}

// List возвращает имена портов по возрастанию
func (b *Bus) List() ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	names := make([]string, 0, len(b.ports))
	for n := range b.ports {
		names = append(names, n)
	}
	sort.Strings(names)
	return names, nil
}

// Opener открывает порт шины; повторное открытие до Close — ErrPortBusy
func (b *Bus) Opener(name string, baud int, timeout time.Duration) (connection.Connection, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	f, ok := b.ports[name]
	if !ok {
		return nil, fmt.Errorf("serial open %s: no such port", name)
	}
	if c, busy := b.open[name]; busy && !isClosed(c) {
		return nil, fmt.Errorf("serial open %s: %w", name, connection.ErrPortBusy)
	}
	c := f(baud)
	_ = c.SetTimeout(timeout)
	b.open[name] = c
	b.opened = append(b.opened, Open{Name: name, Baud: baud})
	return c, nil
}

// Opened — история открытий
func (b *Bus) Opened() []Open {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Open(nil), b.opened...)
}

// StillOpen — имена портов, открытых и не закрытых
func (b *Bus) StillOpen() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	var names []string
	for n, c := range b.open {
		if !isClosed(c) {
			names = append(names, n)
		}
	}
	sort.Strings(names)
	return names
}

func isClosed(c connection.Connection) bool {
	switch m := c.(type) {
	case *connection.Memory:
		return m.Closed()
	case *DataPort:
		return m.Closed()
	}
	return false
}
