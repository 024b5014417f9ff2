// Package discovery находит модуль на последовательных портах: порт команд, его
// скорость и порт данных. Удачный результат кэшируется и проверяется при следующем запуске.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/shiwa/imulink/internal/board"
	"github.com/shiwa/imulink/internal/connection"
	"github.com/shiwa/imulink/internal/logger"
)

var (
	// ErrNotFound — ни один порт не ответил как порт команд
	ErrNotFound = errors.New("device not found")
	// ErrAmbiguousDataPort — порт данных не определён однозначно
	ErrAmbiguousDataPort = errors.New("data port ambiguous")
)

// Параметры пробы выдачи по умолчанию
const (
	DefaultProbeSamples  = 10
	DefaultProbeInterval = 10 * time.Millisecond
)

// Discoverer перебирает порты и скорости. List и Open подменяются в тестах.
type Discoverer struct {
	List    func() ([]string, error)
	Open    connection.Opener
	Store   Store // nil — без кэша
	Bauds   []int
	Options board.Options

	ProbeSamples  int
	ProbeInterval time.Duration

	log *logrus.Entry
}

// New создаёт Discoverer с порядком скоростей board.AllowedBauds
func New(list func() ([]string, error), open connection.Opener, store Store) *Discoverer {
	return &Discoverer{
		List:          list,
		Open:          open,
		Store:         store,
		Bauds:         board.AllowedBauds,
		Options:       board.DefaultOptions(),
		ProbeSamples:  DefaultProbeSamples,
		ProbeInterval: DefaultProbeInterval,
		log:           logger.Component("discovery"),
	}
}

// Serial создаёт Discoverer для реальных портов
func Serial(driver string, store Store) *Discoverer {
	return New(connection.ListPorts, connection.SerialOpener(driver), store)
}

// Discover подключается к модулю: сначала по кэшу, затем полным перебором.
// withDataPort — искать и порт данных.
func (d *Discoverer) Discover(ctx context.Context, withDataPort bool) (*board.Board, error) {
	return d.discover(ctx, "", withDataPort)
}

// DiscoverBySerial — то же, но принимается только модуль с серийным номером sn
func (d *Discoverer) DiscoverBySerial(ctx context.Context, sn string, withDataPort bool) (*board.Board, error) {
	if sn == "" {
		return nil, fmt.Errorf("serial number required")
	}
	return d.discover(ctx, sn, withDataPort)
}

func (d *Discoverer) discover(ctx context.Context, sn string, withDataPort bool) (*board.Board, error) {
	if b := d.fromCache(sn, withDataPort); b != nil {
		return b, nil
	}
	b, err := d.probeAll(ctx, sn, withDataPort)
	if err != nil {
		return nil, err
	}
	d.save(b, withDataPort)
	return b, nil
}

// fromCache подключается по сохранённым портам; nil — кэша нет или он устарел
func (d *Discoverer) fromCache(sn string, withDataPort bool) *board.Board {
	if d.Store == nil {
		return nil
	}
	s, ok, err := d.Store.Load(withDataPort)
	if err != nil {
		d.log.Warnf("read cache: %v", err)
		return nil
	}
	if !ok {
		return nil
	}
	b, err := board.Open(d.Open, s.ControlPort, s.DataPort, s.ControlBaud, s.DataBaud, d.Options)
	if err != nil {
		d.log.Debugf("cached %s: %v", s.ControlPort, err)
		return nil
	}
	if sn != "" && !serialMatches(b, sn) {
		b.Release()
		return nil
	}
	d.log.WithFields(logrus.Fields{"port": s.ControlPort, "baud": b.ControlBaud()}).Info("connected from cache")
	d.save(b, withDataPort)
	return b
}

func (d *Discoverer) save(b *board.Board, withDataPort bool) {
	if d.Store == nil {
		return
	}
	s := Settings{ControlPort: b.ControlPort(), ControlBaud: b.ControlBaud()}
	if withDataPort {
		s.DataPort, s.DataBaud = b.DataPort(), b.DataBaud()
	}
	if err := d.Store.Save(withDataPort, s); err != nil {
		d.log.Warnf("write cache: %v", err)
	}
}

// probeAll — полный перебор: скорости по предпочтению, порты от последнего к первому.
// Первый ответивший порт команд завершает перебор.
func (d *Discoverer) probeAll(ctx context.Context, sn string, withDataPort bool) (*board.Board, error) {
	ports, err := d.List()
	if err != nil {
		return nil, fmt.Errorf("list ports: %w", err)
	}
	sort.Strings(ports)
	reversed := make([]string, len(ports))
	for i, p := range ports {
		reversed[len(ports)-1-i] = p
	}

	var lastErr error
	for _, baud := range d.Bauds {
		for _, port := range reversed {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			b, found, err := d.probePort(ctx, port, baud, ports, sn, withDataPort)
			if b != nil {
				return b, nil
			}
			if err != nil {
				lastErr = err
				d.log.WithFields(logrus.Fields{"port": port, "baud": baud}).Debugf("probe: %v", err)
			}
			if found {
				// порт команд нашёлся, но сессию собрать не удалось
				return nil, fmt.Errorf("%s: %w", port, lastErr)
			}
		}
	}
	if errors.Is(lastErr, ErrAmbiguousDataPort) {
		return nil, lastErr
	}
	return nil, ErrNotFound
}

// probePort проверяет один порт на одной скорости. found — порт ответил как порт
// команд (и, для DiscoverBySerial, серийный номер совпал).
func (d *Discoverer) probePort(ctx context.Context, port string, baud int, ports []string, sn string, withDataPort bool) (b *board.Board, found bool, err error) {
	c, err := d.Open(port, baud, board.TimeoutAutobaud)
	if err != nil {
		return nil, false, err
	}
	b = board.New(d.Options)
	b.Attach(c, nil, nil)
	if !b.CheckControlPort() {
		b.Release()
		return nil, false, nil
	}
	_ = c.SetTimeout(board.TimeoutRegular)
	if sn != "" && !serialMatches(b, sn) {
		b.Release()
		return nil, false, nil
	}
	if _, err := b.Identify(); err != nil {
		d.log.Debugf("identify %s: %v", port, err)
	}

	dataBaud := baud
	if b.Product() != board.ProductX3 {
		// у X3 общая скорость на обоих портах
		if fb, err := b.GetDataBaudFlash(); err == nil {
			dataBaud = fb
		}
	}
	if err := b.SetConnectionBaud(baud, dataBaud); err != nil {
		b.Release()
		return nil, true, err
	}

	if withDataPort {
		if err := d.findDataPort(ctx, b, port, ports, dataBaud, sn != ""); err != nil {
			b.Release()
			return nil, true, err
		}
	}
	if err := b.SetupDataPort(); err != nil {
		d.log.Debugf("setup data port: %v", err)
	}
	b.MarkConnected()
	d.log.WithFields(logrus.Fields{
		"control": port, "baud": baud, "data": b.DataPort(), "product": b.Product(),
	}).Info("device found")
	return b, true, nil
}

func serialMatches(b *board.Board, sn string) bool {
	got, err := b.Serial()
	return err == nil && got == sn
}
