package board

import (
	"errors"
	"fmt"
	"time"

	"github.com/shiwa/imulink/internal/connection"
	"github.com/shiwa/imulink/internal/message"
)

var (
	// ErrNotConnected — у сессии нет соединения с портом команд
	ErrNotConnected = errors.New("board not connected")
	// ErrRetriesExhausted — ответ не получен за все попытки
	ErrRetriesExhausted = errors.New("retries exhausted")
)

// DeviceError — устройство отвергло команду по содержанию (ERR с кодом не из 1, 3, 4)
type DeviceError struct {
	Code message.ErrorCode
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("device error %d: %s", int(e.Code), e.Code)
}

// максимум сообщений телеметрии, пропускаемых в ожидании ответа
const controlSkipLimit = 100

// SendControlMessage отправляет команду и ждёт ровно один ответ. Без ответа возвращает
// сообщение с Reason=timeout; ошибка только при отказе транспорта.
func (b *Board) SendControlMessage(m *message.Message) (*message.Message, error) {
	b.cmdMu.Lock()
	defer b.cmdMu.Unlock()
	c := b.Control()
	if c == nil {
		return nil, ErrNotConnected
	}
	if err := clearInput(c); err != nil {
		return nil, err
	}
	if err := b.ControlScheme().WriteOneMessage(m, c); err != nil {
		return nil, fmt.Errorf("write %s: %w", m.Type, err)
	}
	if b.opts.Settle > 0 {
		time.Sleep(b.opts.Settle)
	}
	resp, err := b.readControlResponse(c)
	if err != nil {
		return nil, err
	}
	if resp == nil {
		return message.Timeout(), nil
	}
	return resp, nil
}

// SendNoWait пишет команду без ожидания ответа (RST 0/2, ODO)
func (b *Board) SendNoWait(m *message.Message) error {
	b.cmdMu.Lock()
	defer b.cmdMu.Unlock()
	c := b.Control()
	if c == nil {
		return ErrNotConnected
	}
	if err := b.ControlScheme().WriteOneMessage(m, c); err != nil {
		return fmt.Errorf("write %s: %w", m.Type, err)
	}
	return nil
}

// readControlResponse пропускает телеметрию: старые прошивки выдают её и на порт команд,
// X3 выдаёт двоичные кадры на тот же порт, куда отвечает. Ответы всегда ASCII.
func (b *Board) readControlResponse(c connection.Connection) (*message.Message, error) {
	s := b.ControlScheme()
	for i := 0; i < controlSkipLimit; i++ {
		resp, err := s.ReadOneMessage(c)
		if err != nil || resp == nil {
			return nil, err
		}
		if resp.Encoding == message.EncodingBinary || (resp.Valid && resp.Type.IsOutput()) {
			continue
		}
		return resp, nil
	}
	return nil, nil
}

// clearInput сбрасывает входной буфер порта команд перед записью
func clearInput(c connection.Connection) error {
	if err := c.ResetInputBuffer(); err != nil {
		return fmt.Errorf("reset input %s: %w", c.Name(), err)
	}
	return nil
}

// Accept проверяет ответ; false — ответ не подходит, команду стоит повторить
type Accept func(resp *message.Message) bool

// RetryCommand выполняет send до Retries раз. Повтор — при отсутствии ответа, битом ответе,
// ответе другого типа или ERR с кодом повреждения канала (1, 3, 4). ERR с любым другим кодом
// возвращается сразу как *DeviceError. accept (может быть nil) дополнительно проверяет ответ.
func (b *Board) RetryCommand(send func() (*message.Message, error), expected message.Type, accept Accept) (*message.Message, error) {
	retries := b.opts.Retries
	if retries <= 0 {
		retries = DefaultRetries
	}
	var last error
	for attempt := 1; attempt <= retries; attempt++ {
		if attempt > 1 && b.opts.RetryDelay > 0 {
			time.Sleep(b.opts.RetryDelay)
		}
		resp, err := send()
		switch {
		case err != nil:
			if errors.Is(err, ErrNotConnected) {
				return nil, err
			}
			last = err
		case resp == nil || !resp.Valid:
			last = fmt.Errorf("%s: %s", expected, reasonOf(resp))
		case resp.Type == message.TypeERR && expected != message.TypeERR:
			code, _ := resp.DeviceError()
			if !code.IsCommunication() {
				b.log.WithField("code", int(code)).Debugf("%s rejected: %s", expected, code)
				return nil, &DeviceError{Code: code}
			}
			last = &DeviceError{Code: code}
		case resp.Type != expected:
			last = fmt.Errorf("%s: unexpected response %s", expected, resp.Type)
		case accept != nil && !accept(resp):
			last = fmt.Errorf("%s: response rejected: %s", expected, resp)
		default:
			return resp, nil
		}
		b.log.WithField("attempt", attempt).Debugf("retry %s: %v", expected, last)
	}
	return nil, fmt.Errorf("%w: %s after %d attempts: %v", ErrRetriesExhausted, expected, retries, last)
}

func reasonOf(m *message.Message) message.Reason {
	if m == nil {
		return message.ReasonTimeout
	}
	return m.Reason
}

// Command отправляет запрос и повторяет его до ответа типа expected
func (b *Board) Command(req *message.Message, expected message.Type) (*message.Message, error) {
	return b.RetryCommand(func() (*message.Message, error) {
		return b.SendControlMessage(req)
	}, expected, nil)
}
