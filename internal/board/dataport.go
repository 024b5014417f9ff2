package board

import (
	"errors"
	"fmt"
	"time"

	"github.com/shiwa/imulink/internal/connection"
	"github.com/shiwa/imulink/internal/message"
	"github.com/shiwa/imulink/internal/scheme"
)

// Значения mfm (формат выдачи)
const (
	FormatBinary   = "0"
	FormatASCII    = "1"
	FormatExternal = "4" // RTCM, разбирается внешним декодером
)

// ErrNoBaud — модуль не ответил ни на одной скорости
var ErrNoBaud = errors.New("no baud answered")

// сколько сообщений порта данных смотреть при проверке
const dataCheckReads = 4

// selectDataScheme выбирает кодировку порта данных по mfm. X3 всегда смешанная.
func (b *Board) selectDataScheme(mfm string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.format = mfm
	if b.product == ProductX3 {
		b.dataScheme = scheme.NewMixed()
		return
	}
	switch mfm {
	case FormatBinary:
		b.dataScheme = scheme.Binary{Check: b.opts.BinaryCheck}
	case FormatASCII:
		b.dataScheme = scheme.ASCII{}
	case FormatExternal:
		b.dataScheme = b.opts.External
	}
}

// Format — последнее известное значение mfm
func (b *Board) Format() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.format
}

// SetupDataPort читает mfm из flash и выбирает кодировку порта данных
func (b *Board) SetupDataPort() error {
	mfm, err := b.GetValue(message.TypeCFG, true, "mfm")
	if err != nil {
		return err
	}
	b.selectDataScheme(mfm)
	return nil
}

// CheckDataPort проверяет, что порт данных выдаёт телеметрию. Если выдача выключена
// (odr=0 или uart=off), временно включает её и после проверки возвращает как было.
func (b *Board) CheckDataPort() bool {
	data := b.Data()
	if data == nil || data.Kind() == connection.KindDummy {
		return false
	}
	changedODR, changedUART := false, false
	if odr, err := b.GetValue(message.TypeCFG, true, "odr"); err == nil && odr == "0" {
		if err := b.SetCFGFlash(map[string]string{"odr": "100"}); err == nil {
			changedODR = true
			if err := b.ResetWithWaits(0, 0); err != nil {
				b.log.Debugf("check data port: reset: %v", err)
			}
		}
	}
	if err := b.SetupDataPort(); err != nil {
		// старые прошивки не знают mfm: остаётся текущая кодировка
		b.log.Debugf("check data port: mfm: %v", err)
	}
	if uart, err := b.GetValue(message.TypeCFG, false, "uart"); err == nil && uart == "off" {
		if err := b.SetCFG(map[string]string{"uart": "on"}); err == nil {
			changedUART = true
		}
	}

	_, _ = data.ReadAll()
	ok := false
	for i := 0; i < dataCheckReads; i++ {
		m, err := b.ReadOneMessage()
		if err != nil {
			break
		}
		if m != nil && m.Valid && m.Type.IsOutput() {
			ok = true
			break
		}
	}

	if changedODR {
		_ = b.SetCFGFlash(map[string]string{"odr": "0"})
	}
	if changedUART {
		_ = b.SetCFG(map[string]string{"uart": "off"})
	}
	return ok
}

// AutoDetectBaud перебирает скорости на уже открытом порту команд до ответа PNG,
// затем ставит порту данных скорость из flash (bau).
func (b *Board) AutoDetectBaud(bauds []int) (controlBaud, dataBaud int, err error) {
	control := b.Control()
	if control == nil {
		return 0, 0, ErrNotConnected
	}
	for _, baud := range bauds {
		if err := control.SetBaud(baud); err != nil {
			return 0, 0, err
		}
		b.mu.Lock()
		b.controlBaud = baud
		b.mu.Unlock()
		_ = control.ResetInputBuffer()
		if !b.CheckControlPort() {
			continue
		}
		flashBaud, ferr := b.GetDataBaudFlash()
		if ferr != nil {
			flashBaud = baud
		}
		if data := b.Data(); data != nil {
			_ = data.SetBaud(flashBaud)
			_ = data.ResetInputBuffer()
		}
		b.mu.Lock()
		b.dataBaud = flashBaud
		b.mu.Unlock()
		b.log.WithField("baud", baud).Debug("baud detected")
		return baud, flashBaud, nil
	}
	return 0, 0, fmt.Errorf("%s: %w", control.Name(), ErrNoBaud)
}

// ClearConnection вычищает из соединения всё накопленное: читает с нулевым таймаутом,
// ждёт wait (задержка порта), читает снова и отбрасывает неполные сообщения.
func ClearConnection(c connection.Connection, s scheme.Scheme, wait time.Duration) error {
	if c == nil {
		return ErrNotConnected
	}
	if err := c.ResetInputBuffer(); err != nil {
		return err
	}
	old := c.Timeout()
	if err := c.SetTimeout(0); err != nil {
		return err
	}
	defer func() { _ = c.SetTimeout(old) }()

	drain := func() error {
		for {
			p, err := c.Read(1)
			if err != nil {
				return err
			}
			if len(p) == 0 {
				return nil
			}
		}
	}
	if err := drain(); err != nil {
		return err
	}
	if wait > 0 {
		time.Sleep(wait)
	}
	if err := drain(); err != nil {
		return err
	}
	if s == nil {
		return nil
	}
	for i := 0; i < scheme.ReadLimit; i++ {
		m, err := s.ReadOneMessage(c)
		if err != nil {
			return err
		}
		if m == nil || m.Valid || !c.ReadReady() {
			return nil
		}
	}
	return nil
}

// ClearControlPort очищает порт команд с короткой задержкой
func (b *Board) ClearControlPort() error {
	return ClearConnection(b.Control(), b.ControlScheme(), b.opts.PortLatency)
}

// ClearDataPort очищает порт данных с удвоенной наибольшей задержкой порта
func (b *Board) ClearDataPort() error {
	return ClearConnection(b.Data(), b.DataScheme(), 2*MaxPortLatency)
}

// ResetWithWaits перезапускает модуль и ждёт ответа на PNG. Ненулевые скорости
// применяются к соединениям после RST, если модуль перезапускается на новой скорости.
func (b *Board) ResetWithWaits(newControlBaud, newDataBaud int) error {
	wait := b.opts.ResetWait
	if wait > 0 {
		time.Sleep(wait)
	}
	if err := b.Reset(0); err != nil {
		return err
	}
	if wait > 0 {
		time.Sleep(wait)
	}
	if err := b.SetConnectionBaud(newControlBaud, newDataBaud); err != nil {
		return err
	}
	limit := b.opts.ResetPings
	if limit <= 0 {
		limit = 1
	}
	for i := 0; i < limit; i++ {
		if b.CheckControlPort() {
			b.reloadFormat()
			return nil
		}
		if wait > 0 {
			time.Sleep(wait)
		}
	}
	return fmt.Errorf("reset: %w", ErrRetriesExhausted)
}

// reloadFormat перечитывает mfm из RAM после перезапуска: RAM принимает значения flash
func (b *Board) reloadFormat() {
	mfm, err := b.GetValue(message.TypeCFG, false, "mfm")
	if err != nil || mfm == "" {
		return
	}
	b.selectDataScheme(mfm)
}
