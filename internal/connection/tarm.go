package connection

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/tarm/serial"
)

// TarmSerial — последовательный порт через tarm/serial. Драйвер не умеет менять
// параметры на лету, поэтому смена скорости и таймаута переоткрывает порт.
// Минимальный таймаут чтения — 100 мс (VTIME в децисекундах).
type TarmSerial struct {
	port    *serial.Port
	cfg     serial.Config
	pending []byte
	release func()
}

// OpenTarm открывает порт через tarm/serial
func OpenTarm(name string, baud int, timeout time.Duration) (*TarmSerial, error) {
	release, err := DefaultRegistry.Claim(name)
	if err != nil {
		return nil, err
	}
	t := &TarmSerial{
		cfg: serial.Config{
			Name:        name,
			Baud:        baud,
			ReadTimeout: tarmTimeout(timeout),
			Size:        8,
			Parity:      serial.ParityNone,
			StopBits:    serial.Stop1,
		},
		release: release,
	}
	if err := t.open(); err != nil {
		release()
		return nil, err
	}
	return t, nil
}

// tarm трактует нулевой таймаут как блокирующее чтение
func tarmTimeout(d time.Duration) time.Duration {
	if d <= 0 {
		return time.Millisecond
	}
	return d
}

func (t *TarmSerial) open() error {
	p, err := serial.OpenPort(&t.cfg)
	if err != nil {
		return fmt.Errorf("serial open %s: %w", t.cfg.Name, err)
	}
	t.port = p
	return nil
}

func (t *TarmSerial) reopen() error {
	if t.port != nil {
		_ = t.port.Close()
		t.port = nil
	}
	t.pending = nil
	return t.open()
}

// Read читает до n байт за таймаут
func (t *TarmSerial) Read(n int) ([]byte, error) {
	if t.port == nil {
		return nil, ErrClosed
	}
	out := takePending(&t.pending, n)
	buf := make([]byte, n)
	for len(out) < n {
		k, err := t.port.Read(buf[:n-len(out)])
		if errors.Is(err, io.EOF) || (err == nil && k == 0) {
			break
		}
		if err != nil {
			return out, fmt.Errorf("serial read %s: %w", t.cfg.Name, err)
		}
		out = append(out, buf[:k]...)
	}
	return out, nil
}

// ReadUntil читает до delim или limit байт
func (t *TarmSerial) ReadUntil(delim []byte, limit int) ([]byte, error) {
	return readUntil(t.Read, delim, limit)
}

// ReadReady выполняет одно чтение с текущим таймаутом и оставляет данные в буфере
func (t *TarmSerial) ReadReady() bool {
	if t.port == nil {
		return false
	}
	if len(t.pending) > 0 {
		return true
	}
	buf := make([]byte, 1024)
	k, err := t.port.Read(buf)
	if err != nil || k == 0 {
		return false
	}
	t.pending = append(t.pending, buf[:k]...)
	return true
}

// ReadAll читает, пока чтение не вернёт пусто
func (t *TarmSerial) ReadAll() ([]byte, error) {
	if t.port == nil {
		return nil, ErrClosed
	}
	out := takePending(&t.pending, len(t.pending))
	buf := make([]byte, 4096)
	for {
		k, err := t.port.Read(buf)
		if errors.Is(err, io.EOF) || (err == nil && k == 0) {
			return out, nil
		}
		if err != nil {
			return out, fmt.Errorf("serial read %s: %w", t.cfg.Name, err)
		}
		out = append(out, buf[:k]...)
	}
}

// Write пишет байты в порт
func (t *TarmSerial) Write(p []byte) (int, error) {
	if t.port == nil {
		return 0, ErrClosed
	}
	return t.port.Write(p)
}

// ResetInputBuffer — TCIFLUSH через Flush
func (t *TarmSerial) ResetInputBuffer() error {
	if t.port == nil {
		return ErrClosed
	}
	t.pending = nil
	return t.port.Flush()
}

// SetTimeout переоткрывает порт с новым таймаутом
func (t *TarmSerial) SetTimeout(d time.Duration) error {
	if tarmTimeout(d) == t.cfg.ReadTimeout && t.port != nil {
		return nil
	}
	t.cfg.ReadTimeout = tarmTimeout(d)
	return t.reopen()
}

// Timeout возвращает таймаут чтения
func (t *TarmSerial) Timeout() time.Duration { return t.cfg.ReadTimeout }

// SetBaud переоткрывает порт на новой скорости
func (t *TarmSerial) SetBaud(baud int) error {
	if baud == t.cfg.Baud && t.port != nil {
		return nil
	}
	t.cfg.Baud = baud
	return t.reopen()
}

// Baud возвращает скорость
func (t *TarmSerial) Baud() int { return t.cfg.Baud }

// Name возвращает имя порта
func (t *TarmSerial) Name() string { return t.cfg.Name }

// Kind — KindSerial
func (t *TarmSerial) Kind() Kind { return KindSerial }

// Close закрывает порт и освобождает имя, даже если переоткрытие не удалось
func (t *TarmSerial) Close() error {
	var err error
	if t.port != nil {
		err = t.port.Close()
		t.port = nil
	}
	t.release()
	return err
}
