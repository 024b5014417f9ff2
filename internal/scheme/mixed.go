package scheme

import (
	"github.com/shiwa/imulink/internal/connection"
	"github.com/shiwa/imulink/internal/message"
)

// mixedState — состояние автомата разбора смешанного потока
type mixedState int

const (
	stateStart mixedState = iota
	stateASCIIPreamble1
	stateASCIIPreamble2
	stateASCIIBody
	stateASCIIChecksum1
	stateASCIIChecksum2
	stateBinaryPreamble
	stateBinaryType
	stateBinaryLength
	stateBinaryBody
)

func (s mixedState) String() string {
	switch s {
	case stateStart:
		return "start"
	case stateASCIIPreamble1:
		return "ascii_preamble_1"
	case stateASCIIPreamble2:
		return "ascii_preamble_2"
	case stateASCIIBody:
		return "ascii_body"
	case stateASCIIChecksum1:
		return "ascii_cs1"
	case stateASCIIChecksum2:
		return "ascii_cs2"
	case stateBinaryPreamble:
		return "binary_preamble"
	case stateBinaryType:
		return "binary_type"
	case stateBinaryLength:
		return "binary_length"
	case stateBinaryBody:
		return "binary_body"
	default:
		return "unknown"
	}
}

// Mixed — поток X3: binary телеметрия и ASCII ответы на одном порту.
// Читает по одному байту; готовый кадр разбирается ASCII или Binary кодеком.
// Команды всегда пишутся в ASCII. Экземпляр не для конкурентного использования.
type Mixed struct {
	ASCII  ASCII
	Binary Binary
	Limit  int

	state    mixedState
	buf      []byte
	expected int
	counter  int
	done     message.Encoding
}

// NewMixed создаёт смешанную кодировку с настройками по умолчанию
func NewMixed() *Mixed {
	return &Mixed{}
}

// Name — "mixed"
func (m *Mixed) Name() string { return "mixed" }

// WriteOneMessage пишет команду в ASCII
func (m *Mixed) WriteOneMessage(msg *message.Message, c connection.Writer) error {
	return m.ASCII.WriteOneMessage(msg, c)
}

func (m *Mixed) reset() {
	m.state = stateStart
	m.buf = m.buf[:0]
	m.expected, m.counter = 0, 0
}

// ReadOneMessage прогоняет автомат не более чем по Limit байтам
func (m *Mixed) ReadOneMessage(c connection.Reader) (*message.Message, error) {
	m.reset()
	limit := limitOr(m.Limit)
	for i := 0; i < limit; i++ {
		chunk, err := c.Read(1)
		if err != nil {
			m.reset()
			return nil, err
		}
		if len(chunk) == 0 {
			m.reset()
			return nil, nil
		}
		if m.step(chunk[0]) {
			frame := append([]byte(nil), m.buf...)
			enc := m.done
			m.reset()
			if enc == message.EncodingBinary {
				return m.Binary.Parse(frame), nil
			}
			return m.ASCII.Parse(frame), nil
		}
	}
	m.reset()
	return nil, nil
}

// step обрабатывает один байт; true — кадр собран в m.buf
func (m *Mixed) step(b byte) bool {
	m.buf = append(m.buf, b)
	switch m.state {
	case stateStart:
		switch b {
		case BinaryPreamble1:
			m.state = stateBinaryPreamble
		case ASCIIStart:
			m.state = stateASCIIPreamble1
		default:
			m.buf = m.buf[:0]
		}
	case stateASCIIPreamble1:
		m.expectOrRestart(b == ASCIITalker[0], stateASCIIPreamble2)
	case stateASCIIPreamble2:
		m.expectOrRestart(b == ASCIITalker[1], stateASCIIBody)
	case stateASCIIBody:
		switch b {
		case ASCIIChecksumSep:
			m.state = stateASCIIChecksum1
		case BinaryPreamble1:
			// новый binary кадр посреди ASCII
			m.buf = append(m.buf[:0], b)
			m.state = stateBinaryPreamble
		case ASCIIStart:
			// новый ASCII кадр; talker не проверяется повторно
			m.buf = append(m.buf[:0], b)
		}
	case stateASCIIChecksum1:
		m.state = stateASCIIChecksum2
	case stateASCIIChecksum2:
		m.state = stateStart
		m.done = message.EncodingASCII
		return true
	case stateBinaryPreamble:
		m.expectOrRestart(b == BinaryPreamble2, stateBinaryType)
	case stateBinaryType:
		m.state = stateBinaryLength
	case stateBinaryLength:
		m.expected = int(b) + binaryCRCLen
		m.counter = 0
		m.state = stateBinaryBody
	case stateBinaryBody:
		m.counter++
		if m.counter >= m.expected {
			m.state = stateStart
			m.done = message.EncodingBinary
			return true
		}
	}
	return false
}

func (m *Mixed) expectOrRestart(ok bool, next mixedState) {
	if ok {
		m.state = next
		return
	}
	m.buf = m.buf[:0]
	m.state = stateStart
}
