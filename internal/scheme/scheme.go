// Package scheme — кодировки провода: ASCII, Binary и смешанная Binary/ASCII (X3).
// Scheme читает ровно одно сообщение из соединения и пишет одно сообщение в него.
package scheme

import (
	"fmt"

	"github.com/shiwa/imulink/internal/connection"
	"github.com/shiwa/imulink/internal/message"
)

// ReadLimit — максимум байт, просматриваемых за один ReadOneMessage
const ReadLimit = 1000

// Scheme — кодировка сообщений
type Scheme interface {
	// ReadOneMessage возвращает (nil, nil), если сообщения нет (таймаут или шум),
	// сообщение с Valid=false при ошибке кадра и ошибку только при отказе транспорта.
	ReadOneMessage(c connection.Reader) (*message.Message, error)
	// WriteOneMessage кодирует и пишет сообщение
	WriteOneMessage(m *message.Message, c connection.Writer) error
	// Name — имя кодировки для логов
	Name() string
}

// Codec — разбор готового кадра и сборка кадра без соединения
type Codec interface {
	Parse(frame []byte) *message.Message
	Encode(m *message.Message) ([]byte, error)
}

// ByName — кодировка по имени: ascii, binary или mixed
func ByName(name string) (Scheme, error) {
	switch name {
	case "ascii":
		return ASCII{}, nil
	case "binary":
		return Binary{}, nil
	case "mixed":
		return NewMixed(), nil
	default:
		return nil, fmt.Errorf("unknown scheme %q", name)
	}
}

func write(c connection.Writer, frame []byte) error {
	for len(frame) > 0 {
		n, err := c.Write(frame)
		if err != nil {
			return err
		}
		frame = frame[n:]
	}
	return nil
}

func limitOr(n int) int {
	if n <= 0 {
		return ReadLimit
	}
	return n
}
