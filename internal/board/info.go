package board

import (
	"fmt"
	"time"

	"github.com/shiwa/imulink/internal/connection"
	"github.com/shiwa/imulink/internal/message"
	"github.com/shiwa/imulink/internal/scheme"
)

// Ping отправляет PNG один раз, без повторов. Ответ с Reason=timeout, если модуль молчит.
func (b *Board) Ping() (*message.Message, error) {
	return b.SendControlMessage(message.NewPing())
}

// CheckControlPort — на PNG пришёл валидный ответ не с порта данных X3 (код 0 или 2)
func (b *Board) CheckControlPort() bool {
	resp, err := b.Ping()
	if err != nil {
		return false
	}
	p, ok := resp.Ping()
	return ok && p.IsControlPort()
}

func (b *Board) infoText(t message.Type, field string) (string, error) {
	resp, err := b.Command(message.NewRequest(t), t)
	if err != nil {
		return "", err
	}
	v, ok := resp.Text(field)
	if !ok {
		return "", fmt.Errorf("%s: no field %s", t, field)
	}
	return v, nil
}

// Version — версия прошивки
func (b *Board) Version() (string, error) { return b.infoText(message.TypeVER, "ver") }

// Serial — серийный номер
func (b *Board) Serial() (string, error) { return b.infoText(message.TypeSER, "ser") }

// PID — строка продукта
func (b *Board) PID() (string, error) { return b.infoText(message.TypePID, "pid") }

// IHW — версия железа IMU
func (b *Board) IHW() (string, error) { return b.infoText(message.TypeIHW, "ihw") }

// FHW — версия железа FOG
func (b *Board) FHW() (string, error) { return b.infoText(message.TypeFHW, "fhw") }

// FSN — серийный номер FOG
func (b *Board) FSN() (string, error) { return b.infoText(message.TypeFSN, "fsn") }

// Status — пары состояния из STA
func (b *Board) Status() (message.Config, error) {
	resp, err := b.Command(message.NewRequest(message.TypeSTA), message.TypeSTA)
	if err != nil {
		return message.Config{}, err
	}
	c, _ := resp.Config()
	return c, nil
}

// Info — идентификация модуля
type Info struct {
	Version string
	Serial  string
	PID     string
	IHW     string
	FHW     string
	FSN     string
}

// Identify читает VER/SER/PID (обязательно) и IHW/FHW/FSN (если модуль их знает),
// по PID определяет семейство.
func (b *Board) Identify() (Info, error) {
	var info Info
	var err error
	if info.Version, err = b.Version(); err != nil {
		return info, err
	}
	if info.Serial, err = b.Serial(); err != nil {
		return info, err
	}
	if info.PID, err = b.PID(); err != nil {
		return info, err
	}
	// у модулей без FOG эти команды отвечают ERR
	info.IHW, _ = b.IHW()
	info.FHW, _ = b.FHW()
	info.FSN, _ = b.FSN()
	b.SetProduct(ProductFromPID(info.PID))
	b.mu.Lock()
	b.info, b.identified = info, true
	b.mu.Unlock()
	return info, nil
}

// Info — идентификация, полученная при подключении. Модуль опрашивается только если
// Identify в этой сессии ещё не выполнялся.
func (b *Board) Info() (Info, error) {
	b.mu.Lock()
	info, ok := b.info, b.identified
	b.mu.Unlock()
	if ok {
		return info, nil
	}
	return b.Identify()
}

// Echo — модуль возвращает переданный текст
func (b *Board) Echo(contents string) (string, error) {
	resp, err := b.Command(message.NewEcho(contents), message.TypeECH)
	if err != nil {
		return "", err
	}
	v, _ := resp.Text("contents")
	return v, nil
}

// Unlock снимает блокировку flash кодом code
func (b *Board) Unlock(code string) error {
	_, err := b.Command(message.NewUnlock(code), message.TypeUNL)
	return err
}

// Reset отправляет RST с кодом: 0 — перезапуск, 2 — загрузчик. Ответа нет.
func (b *Board) Reset(code int) error {
	return b.SendNoWait(message.NewReset(code))
}

// ApplyLookupTables — RST 3: таблицы из flash применяются без перезапуска, модуль отвечает
func (b *Board) ApplyLookupTables() error {
	_, err := b.Command(message.NewReset(3), message.TypeRST)
	return err
}

// EnterBootloader отправляет RST 2 и ждёт, пока модуль перестанет отвечать на PNG
func (b *Board) EnterBootloader() bool {
	for i := 0; i < DefaultRetries; i++ {
		if err := b.Reset(2); err != nil {
			return false
		}
		if b.opts.Settle > 0 {
			time.Sleep(b.opts.Settle)
		}
		if !b.CheckControlPort() {
			return true
		}
	}
	return false
}

// SendOdometer отправляет скорость: по каналу одометра, если он есть, иначе в порт команд
func (b *Board) SendOdometer(speed float64) error {
	b.mu.Lock()
	odo := b.odometer
	b.mu.Unlock()
	m := message.NewOdometer(speed)
	if odo == nil {
		return b.SendNoWait(m)
	}
	return b.ControlScheme().WriteOneMessage(m, odo)
}

// SendInit отправляет INI (начальные условия)
func (b *Board) SendInit(entries ...message.ConfigEntry) (*message.Message, error) {
	return b.SendControlMessage(message.NewKeyValue(message.TypeINI, entries...))
}

// SendUpdate отправляет UPD
func (b *Board) SendUpdate(entries ...message.ConfigEntry) (*message.Message, error) {
	return b.SendControlMessage(message.NewKeyValue(message.TypeUPD, entries...))
}

// SendRaw отправляет произвольный ASCII текст с рассчитанной контрольной суммой
// и возвращает ответ.
func (b *Board) SendRaw(text string) (*message.Message, error) {
	frame := FormCustomMessage(text)
	b.cmdMu.Lock()
	defer b.cmdMu.Unlock()
	c := b.Control()
	if c == nil {
		return nil, ErrNotConnected
	}
	if err := clearInput(c); err != nil {
		return nil, err
	}
	if _, err := c.Write(frame); err != nil {
		return nil, fmt.Errorf("write raw: %w", err)
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

// FormCustomMessage обрамляет текст вида "APCFG,r,odr": '#', '*', контрольная сумма, CRLF
func FormCustomMessage(text string) []byte {
	return scheme.FormCustom(text)
}

// CheckDataPortPing — порт данных X3 отвечает на PNG кодом 0 или 1 (не 2)
func (b *Board) CheckDataPortPing() bool {
	data := b.Data()
	if data == nil || data.Kind() == connection.KindDummy {
		return false
	}
	b.cmdMu.Lock()
	defer b.cmdMu.Unlock()
	if err := clearInput(data); err != nil {
		return false
	}
	if err := b.ControlScheme().WriteOneMessage(message.NewPing(), data); err != nil {
		return false
	}
	if b.opts.Settle > 0 {
		time.Sleep(b.opts.Settle)
	}
	resp, err := b.readControlResponse(data)
	if err != nil || resp == nil {
		return false
	}
	p, ok := resp.Ping()
	return ok && p.IsDataPort()
}
