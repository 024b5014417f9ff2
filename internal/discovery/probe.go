package discovery

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/shiwa/imulink/internal/board"
	"github.com/shiwa/imulink/internal/connection"
	"github.com/shiwa/imulink/internal/message"
)

var trailingDigits = regexp.MustCompile(`\d*$`)

// ComputeDataPort сдвигает номер в конце имени порта: "/dev/ttyUSB3", -3 → "/dev/ttyUSB0"
func ComputeDataPort(controlPort string, offset int) (string, error) {
	loc := trailingDigits.FindStringIndex(controlPort)
	digits := controlPort[loc[0]:]
	if digits == "" {
		return "", fmt.Errorf("port %q has no number", controlPort)
	}
	n, err := strconv.Atoi(digits)
	if err != nil {
		return "", err
	}
	if n+offset < 0 {
		return "", fmt.Errorf("port %q: offset %d out of range", controlPort, offset)
	}
	return controlPort[:loc[0]] + strconv.Itoa(n+offset), nil
}

// findDataPort подключает к сессии порт данных.
// EVK — по смещению номера (по серийному номеру — пробой выдачи), без проверки;
// X3 — сначала кандидат по смещению, потом остальные, проверка PNG;
// прочие — перебор портов с проверкой телеметрии.
func (d *Discoverer) findDataPort(ctx context.Context, b *board.Board, control string, ports []string, baud int, bySerial bool) error {
	product := b.Product()
	offset, hasOffset := product.DataPortOffset()

	if product == board.ProductEVK {
		var name string
		var err error
		if bySerial {
			name, err = d.toggleProbe(ctx, b, control, ports, baud)
		} else {
			name, err = ComputeDataPort(control, offset)
		}
		if err != nil {
			return err
		}
		c, err := d.Open(name, baud, board.TimeoutRegular)
		if err != nil {
			return fmt.Errorf("data port %s: %w", name, err)
		}
		b.AttachData(c)
		return nil
	}

	candidates := make([]string, 0, len(ports))
	if hasOffset {
		if name, err := ComputeDataPort(control, offset); err == nil {
			candidates = append(candidates, name)
		}
	}
	for _, p := range ports {
		if p != control && (len(candidates) == 0 || p != candidates[0]) {
			candidates = append(candidates, p)
		}
	}
	for _, name := range candidates {
		if err := ctx.Err(); err != nil {
			return err
		}
		c, err := d.Open(name, baud, board.TimeoutRegular)
		if err != nil {
			continue
		}
		b.AttachData(c)
		ok := false
		if product == board.ProductX3 {
			ok = b.CheckDataPortPing()
		} else {
			ok = b.CheckDataPort()
		}
		if ok {
			return nil
		}
		b.ReleaseData()
	}
	return fmt.Errorf("%s: no data port found", control)
}

// toggleProbe находит порт данных по реакции на uart: ищет порты, выдающие данные при
// uart=on и замолкающие при uart=off. Кандидат должен быть ровно один.
func (d *Discoverer) toggleProbe(ctx context.Context, b *board.Board, control string, ports []string, baud int) (string, error) {
	state, err := b.GetValue(message.TypeCFG, false, "uart")
	if err != nil {
		return "", err
	}
	if err := b.SetCFG(map[string]string{"uart": "on"}); err != nil {
		return "", err
	}
	defer func() {
		if err := b.SetCFG(map[string]string{"uart": state}); err != nil {
			d.log.Warnf("restore uart: %v", err)
		}
	}()

	var outputting []string
	for _, p := range ports {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		if p != control && d.isOutputting(p, baud) {
			outputting = append(outputting, p)
		}
	}
	if err := b.SetCFG(map[string]string{"uart": "off"}); err != nil {
		return "", err
	}
	var candidates []string
	for _, p := range outputting {
		if !d.isOutputting(p, baud) {
			candidates = append(candidates, p)
		}
	}
	if len(candidates) != 1 {
		return "", fmt.Errorf("%s: %d candidates %v: %w", control, len(candidates), candidates, ErrAmbiguousDataPort)
	}
	return candidates[0], nil
}

// isOutputting открывает порт и смотрит, приходят ли данные во второй половине
// выборок (первая может содержать накопленное до открытия).
func (d *Discoverer) isOutputting(name string, baud int) bool {
	c, err := d.Open(name, baud, board.TimeoutRegular)
	if err != nil {
		return false
	}
	defer c.Close()
	return sampleOutput(c, d.ProbeSamples, d.ProbeInterval)
}

func sampleOutput(c connection.Connection, samples int, interval time.Duration) bool {
	if samples <= 0 {
		samples = DefaultProbeSamples
	}
	counts := make([]int, samples)
	for i := range counts {
		if interval > 0 {
			time.Sleep(interval)
		}
		p, err := c.ReadAll()
		if err != nil {
			return false
		}
		counts[i] = len(p)
	}
	total := 0
	for _, n := range counts[samples/2:] {
		total += n
	}
	return total > 0
}
