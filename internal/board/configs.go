package board

import (
	"fmt"
	"math"
	"sort"
	"strconv"

	"github.com/shiwa/imulink/internal/message"
)

const (
	// допуск при сверке эха записи для чисел
	echoTolerance = 1e-6
	// относительный допуск при поштучной записи с проверкой
	verifyTolerance = 0.01
)

// GetConfig читает конфигурацию типа t (CFG или VEH) из RAM или flash. Без имён — всё.
// Каждое запрошенное имя обязано прийти в ответе.
func (b *Board) GetConfig(t message.Type, flash bool, names ...string) (map[string]string, error) {
	mode := message.ReadRAM
	if flash {
		mode = message.ReadFlash
	}
	req := message.NewConfigRead(t, mode, names...)
	resp, err := b.RetryCommand(func() (*message.Message, error) {
		return b.SendControlMessage(req)
	}, t, func(resp *message.Message) bool {
		c, ok := resp.Config()
		if !ok {
			return false
		}
		for _, n := range names {
			if _, ok := c.Lookup(n); !ok {
				return false
			}
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	c, _ := resp.Config()
	return c.Map(), nil
}

// GetCFG читает пользовательскую конфигурацию из RAM
func (b *Board) GetCFG(names ...string) (map[string]string, error) {
	return b.GetConfig(message.TypeCFG, false, names...)
}

// GetCFGFlash читает пользовательскую конфигурацию из flash
func (b *Board) GetCFGFlash(names ...string) (map[string]string, error) {
	return b.GetConfig(message.TypeCFG, true, names...)
}

// GetVEHFlash читает конфигурацию транспортного средства из flash
func (b *Board) GetVEHFlash(names ...string) (map[string]string, error) {
	return b.GetConfig(message.TypeVEH, true, names...)
}

// GetValue читает одно значение
func (b *Board) GetValue(t message.Type, flash bool, name string) (string, error) {
	m, err := b.GetConfig(t, flash, name)
	if err != nil {
		return "", err
	}
	return m[name], nil
}

// SetConfig пишет все пары одной командой и сверяет эхо ответа (числа — с допуском 1e-6).
func (b *Board) SetConfig(t message.Type, flash bool, values map[string]string) error {
	mode := message.WriteRAM
	if flash {
		mode = message.WriteFlash
	}
	names := sortedKeys(values)
	entries := make([]message.ConfigEntry, len(names))
	for i, n := range names {
		entries[i] = message.Entry(n, values[n])
	}
	req := message.NewConfig(t, mode, entries...)
	_, err := b.RetryCommand(func() (*message.Message, error) {
		return b.SendControlMessage(req)
	}, t, func(resp *message.Message) bool {
		c, ok := resp.Config()
		if !ok {
			return false
		}
		diff := ConfigsDifferent(values, c.Map())
		if len(diff) > 0 {
			b.log.Debugf("%s write mismatch: %v", t, diff)
		}
		return len(diff) == 0
	})
	if err != nil {
		return err
	}
	b.afterConfigWrite(t, flash, values)
	return nil
}

// SetCFG пишет пользовательскую конфигурацию в RAM
func (b *Board) SetCFG(values map[string]string) error {
	return b.SetConfig(message.TypeCFG, false, values)
}

// SetCFGFlash пишет пользовательскую конфигурацию во flash
func (b *Board) SetCFGFlash(values map[string]string) error {
	return b.SetConfig(message.TypeCFG, true, values)
}

// SetVEHFlash пишет конфигурацию транспортного средства во flash
func (b *Board) SetVEHFlash(values map[string]string) error {
	return b.SetConfig(message.TypeVEH, true, values)
}

// SetCFGFlashNoWait пишет во flash без ожидания ответа (перед перезапуском)
func (b *Board) SetCFGFlashNoWait(values map[string]string) error {
	names := sortedKeys(values)
	entries := make([]message.ConfigEntry, len(names))
	for i, n := range names {
		entries[i] = message.Entry(n, values[n])
	}
	return b.SendNoWait(message.NewConfig(message.TypeCFG, message.WriteFlash, entries...))
}

// SetConfigsVerified пишет значения по одному и подтверждает каждое по эху:
// дробные — с относительным допуском 1%, остальные — побайтно. Останавливается на
// первой ошибке содержимого; возвращает имена, которые записать не удалось.
func (b *Board) SetConfigsVerified(t message.Type, flash bool, values map[string]message.Value) ([]string, error) {
	mode := message.WriteRAM
	if flash {
		mode = message.WriteFlash
	}
	var failed []string
	var firstErr error
	for _, name := range sortedKeys(values) {
		want := values[name]
		req := message.NewConfig(t, mode, message.Entry(name, want.Text()))
		_, err := b.RetryCommand(func() (*message.Message, error) {
			return b.SendControlMessage(req)
		}, t, func(resp *message.Message) bool {
			c, ok := resp.Config()
			if !ok {
				return false
			}
			got, ok := c.Lookup(name)
			return ok && valueMatches(want, got)
		})
		if err != nil {
			failed = append(failed, name)
			if firstErr == nil {
				firstErr = fmt.Errorf("set %s: %w", name, err)
			}
			continue
		}
		b.afterConfigWrite(t, flash, map[string]string{name: want.Text()})
	}
	return failed, firstErr
}

// valueMatches сравнивает записанное значение с эхом модуля
func valueMatches(want message.Value, got []byte) bool {
	if want.Kind == message.KindFloat {
		g, err := strconv.ParseFloat(string(got), 64)
		if err != nil {
			return false
		}
		if want.Float == 0 {
			return g == 0
		}
		return math.Abs((g-want.Float)/want.Float) < verifyTolerance
	}
	return want.Text() == string(got)
}

// ConfigsDifferent возвращает описания расхождений между ожидаемыми и подтверждёнными
// значениями; пусто — совпадают. Числа сравниваются с допуском 1e-6.
func ConfigsDifferent(expected, confirmed map[string]string) []string {
	var diff []string
	for _, name := range sortedKeys(expected) {
		want := expected[name]
		got, ok := confirmed[name]
		if !ok {
			diff = append(diff, fmt.Sprintf("%s: expected %s, was missing", name, want))
			continue
		}
		wf, errW := strconv.ParseFloat(want, 64)
		gf, errG := strconv.ParseFloat(got, 64)
		if errW == nil && errG == nil && math.Abs(wf-gf) < echoTolerance {
			continue
		}
		if want != got {
			diff = append(diff, fmt.Sprintf("%s: expected %s, was %s", name, want, got))
		}
	}
	return diff
}

// afterConfigWrite перевыбирает кодировку данных после смены mfm в RAM. Запись во flash
// вступает в силу только после перезапуска (см. ResetWithWaits).
func (b *Board) afterConfigWrite(t message.Type, flash bool, values map[string]string) {
	if t != message.TypeCFG || flash {
		return
	}
	if mfm, ok := values["mfm"]; ok {
		b.selectDataScheme(mfm)
	}
}

// GetDataBaudFlash — скорость порта данных (bau)
func (b *Board) GetDataBaudFlash() (int, error) {
	v, err := b.GetValue(message.TypeCFG, true, "bau")
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(v)
}

// GetControlBaudFlash — скорость порта команд. Прошивки до 1.3 не знают bau_input,
// у них bau общая для обоих портов.
func (b *Board) GetControlBaudFlash() (int, error) {
	v, err := b.GetValue(message.TypeCFG, true, "bau_input")
	if err != nil {
		return b.GetDataBaudFlash()
	}
	return strconv.Atoi(v)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
