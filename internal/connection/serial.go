package connection

import (
	"fmt"
	"sort"
	"time"

	"go.bug.st/serial"
)

// Serial — последовательный порт через go.bug.st/serial, 8N1
type Serial struct {
	port    serial.Port
	name    string
	mode    serial.Mode
	timeout time.Duration
	pending []byte
	release func()
}

// OpenSerial открывает порт name на скорости baud с таймаутом чтения timeout
func OpenSerial(name string, baud int, timeout time.Duration) (*Serial, error) {
	release, err := DefaultRegistry.Claim(name)
	if err != nil {
		return nil, err
	}
	mode := serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	p, err := serial.Open(name, &mode)
	if err != nil {
		release()
		return nil, fmt.Errorf("serial open %s: %w", name, err)
	}
	if err := p.SetReadTimeout(timeout); err != nil {
		p.Close()
		release()
		return nil, fmt.Errorf("serial timeout %s: %w", name, err)
	}
	return &Serial{
		port:    p,
		name:    name,
		mode:    mode,
		timeout: timeout,
		release: release,
	}, nil
}

// ListPorts возвращает имена последовательных портов системы в порядке сортировки
func ListPorts() ([]string, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("list ports: %w", err)
	}
	sort.Strings(ports)
	return ports, nil
}

// Read читает до n байт; возвращает меньше, если истёк таймаут
func (s *Serial) Read(n int) ([]byte, error) {
	if s.port == nil {
		return nil, ErrClosed
	}
	out := takePending(&s.pending, n)
	if len(out) == n {
		return out, nil
	}
	buf := make([]byte, n-len(out))
	for len(out) < n {
		k, err := s.port.Read(buf[:n-len(out)])
		if err != nil {
			return out, fmt.Errorf("serial read %s: %w", s.name, err)
		}
		if k == 0 {
			break
		}
		out = append(out, buf[:k]...)
	}
	return out, nil
}

// ReadUntil читает до delim включительно или до limit байт
func (s *Serial) ReadUntil(delim []byte, limit int) ([]byte, error) {
	return readUntil(s.Read, delim, limit)
}

// poll забирает всё, что уже лежит в драйвере, без ожидания
func (s *Serial) poll() error {
	if err := s.port.SetReadTimeout(0); err != nil {
		return err
	}
	defer s.port.SetReadTimeout(s.timeout)
	buf := make([]byte, 4096)
	for {
		k, err := s.port.Read(buf)
		if err != nil {
			return fmt.Errorf("serial read %s: %w", s.name, err)
		}
		if k == 0 {
			return nil
		}
		s.pending = append(s.pending, buf[:k]...)
		if k < len(buf) {
			return nil
		}
	}
}

// ReadReady — есть непрочитанные байты
func (s *Serial) ReadReady() bool {
	if s.port == nil {
		return false
	}
	if len(s.pending) > 0 {
		return true
	}
	if err := s.poll(); err != nil {
		return false
	}
	return len(s.pending) > 0
}

// ReadAll забирает всё доступное без ожидания
func (s *Serial) ReadAll() ([]byte, error) {
	if s.port == nil {
		return nil, ErrClosed
	}
	if err := s.poll(); err != nil {
		return nil, err
	}
	return takePending(&s.pending, len(s.pending)), nil
}

// Write пишет байты в порт
func (s *Serial) Write(p []byte) (int, error) {
	if s.port == nil {
		return 0, ErrClosed
	}
	n, err := s.port.Write(p)
	if err != nil {
		return n, fmt.Errorf("serial write %s: %w", s.name, err)
	}
	return n, nil
}

// ResetInputBuffer сбрасывает входной буфер драйвера
func (s *Serial) ResetInputBuffer() error {
	if s.port == nil {
		return ErrClosed
	}
	s.pending = nil
	return s.port.ResetInputBuffer()
}

// SetTimeout меняет таймаут чтения
func (s *Serial) SetTimeout(d time.Duration) error {
	if s.port == nil {
		return ErrClosed
	}
	if err := s.port.SetReadTimeout(d); err != nil {
		return fmt.Errorf("serial timeout %s: %w", s.name, err)
	}
	s.timeout = d
	return nil
}

// Timeout возвращает таймаут чтения
func (s *Serial) Timeout() time.Duration { return s.timeout }

// SetBaud меняет скорость открытого порта
func (s *Serial) SetBaud(baud int) error {
	if s.port == nil {
		return ErrClosed
	}
	mode := s.mode
	mode.BaudRate = baud
	if err := s.port.SetMode(&mode); err != nil {
		return fmt.Errorf("serial baud %s %d: %w", s.name, baud, err)
	}
	s.mode = mode
	return nil
}

// Baud возвращает текущую скорость
func (s *Serial) Baud() int { return s.mode.BaudRate }

// Name возвращает имя порта
func (s *Serial) Name() string { return s.name }

// Kind — KindSerial
func (s *Serial) Kind() Kind { return KindSerial }

// Close закрывает порт и освобождает имя в реестре
func (s *Serial) Close() error {
	if s.port == nil {
		return nil
	}
	err := s.port.Close()
	s.port = nil
	s.pending = nil
	s.release()
	return err
}
