// Package connection — байтовые каналы к устройству: последовательный порт, UDP,
// файлы записи/воспроизведения, заглушка и канал в памяти для симуляции.
package connection

import (
	"errors"
	"time"
)

var (
	// ErrClosed — операция над закрытым соединением
	ErrClosed = errors.New("connection closed")
	// ErrUnsupported — операция не поддерживается этим видом соединения
	ErrUnsupported = errors.New("operation not supported")
	// ErrPortBusy — порт уже открыт этим процессом
	ErrPortBusy = errors.New("port busy")
)

// Reader — чтение байтов с таймаутом. Пустой результат без ошибки означает таймаут.
type Reader interface {
	// Read читает до n байт, ожидая не дольше таймаута
	Read(n int) ([]byte, error)
	// ReadUntil читает до разделителя включительно или до limit байт
	ReadUntil(delim []byte, limit int) ([]byte, error)
	// ReadReady сообщает, есть ли данные для чтения без ожидания
	ReadReady() bool
	// ReadAll забирает всё, что уже доступно
	ReadAll() ([]byte, error)
}

// Writer — запись байтов
type Writer interface {
	Write(p []byte) (int, error)
}

// Buffered — управление входным буфером
type Buffered interface {
	ResetInputBuffer() error
}

// Timed — управление таймаутом чтения
type Timed interface {
	SetTimeout(d time.Duration) error
	Timeout() time.Duration
}

// BaudSetter — скорость линии; вне последовательного порта ничего не делает
type BaudSetter interface {
	SetBaud(baud int) error
	Baud() int
}

// Connection — полный набор возможностей канала
type Connection interface {
	Reader
	Writer
	Buffered
	Timed
	BaudSetter
	// Name — имя порта или адрес для логов и кэша
	Name() string
	Kind() Kind
	Close() error
}

// Kind — вид соединения
type Kind int

const (
	KindDummy Kind = iota
	KindSerial
	KindUDP
	KindFileReader
	KindFileWriter
	KindMemory
)

func (k Kind) String() string {
	switch k {
	case KindDummy:
		return "dummy"
	case KindSerial:
		return "serial"
	case KindUDP:
		return "udp"
	case KindFileReader:
		return "file_reader"
	case KindFileWriter:
		return "file_writer"
	case KindMemory:
		return "memory"
	default:
		return "unknown"
	}
}

// IsLive — соединение с реальным устройством (не заглушка и не файл)
func (k Kind) IsLive() bool {
	return k == KindSerial || k == KindUDP || k == KindMemory
}

// readUntil читает по байту, пока не встретится delim, не наберётся limit байт
// или чтение не вернёт пусто (таймаут).
func readUntil(read func(n int) ([]byte, error), delim []byte, limit int) ([]byte, error) {
	var out []byte
	for limit <= 0 || len(out) < limit {
		b, err := read(1)
		if err != nil {
			return out, err
		}
		if len(b) == 0 {
			return out, nil
		}
		out = append(out, b...)
		if len(delim) > 0 && len(out) >= len(delim) && string(out[len(out)-len(delim):]) == string(delim) {
			return out, nil
		}
	}
	return out, nil
}

// takePending отдаёт до n байт из буфера уже принятых данных
func takePending(pending *[]byte, n int) []byte {
	if len(*pending) == 0 || n <= 0 {
		return nil
	}
	if n > len(*pending) {
		n = len(*pending)
	}
	out := append([]byte(nil), (*pending)[:n]...)
	*pending = (*pending)[n:]
	if len(*pending) == 0 {
		*pending = nil
	}
	return out
}
