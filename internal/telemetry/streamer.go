// Package telemetry — фоновая задача порта данных: вычитывает телеметрию, пишет сырой
// поток в файл, раздаёт разобранные сообщения получателям и пишет в порт поправки.
// Задача — единственный владелец соединения порта данных.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/shiwa/imulink/internal/connection"
	"github.com/shiwa/imulink/internal/logger"
	"github.com/shiwa/imulink/internal/message"
	"github.com/shiwa/imulink/internal/monitor"
	"github.com/shiwa/imulink/internal/scheme"
)

// ErrNotRunning — поток не запущен (Run не работает или ещё не стартовал)
var ErrNotRunning = errors.New("streamer not running")

// Sink — получатель разобранной телеметрии
type Sink interface {
	Name() string
	Consume(ctx context.Context, m *message.Message) error
}

// Opener открывает соединение порта данных при Start
type Opener func() (connection.Connection, error)

// Options — параметры потока
type Options struct {
	// Capture — запись сырого потока (FileWriter); nil — без записи
	Capture connection.Writer
	// Parse — разбирать поток выбранной кодировкой и раздавать получателям
	Parse bool
	// FlushEvery — сброс записи на диск каждые N порций
	FlushEvery int
	// Idle — пауза, когда данных нет
	Idle time.Duration
	// Corrections — ёмкость очереди поправок
	Corrections int
}

// DefaultOptions — значения по умолчанию
func DefaultOptions() Options {
	return Options{Parse: true, FlushEvery: 200, Idle: time.Millisecond, Corrections: 64}
}

type commandKind int

const (
	cmdStart commandKind = iota
	cmdStop
)

type command struct {
	kind  commandKind
	reply chan error
}

// Stats — счётчики потока
type Stats struct {
	Bytes       uint64
	Messages    uint64
	Invalid     uint64
	Corrections uint64
}

// Streamer — задача порта данных. Управляется командами Start/Stop; Run крутится до
// отмены контекста.
type Streamer struct {
	open   Opener
	scheme func() scheme.Scheme
	sinks  []Sink
	opts   Options

	cmds        chan command
	corrections chan []byte
	running     atomic.Bool

	bytes, messages, invalid, corrected atomic.Uint64

	log *logrus.Entry
}

// New создаёт поток. dataScheme вызывается на каждое сообщение: кодировка порта данных
// может смениться после записи mfm.
func New(open Opener, dataScheme func() scheme.Scheme, opts Options, sinks ...Sink) *Streamer {
	if opts.FlushEvery <= 0 {
		opts.FlushEvery = DefaultOptions().FlushEvery
	}
	if opts.Corrections <= 0 {
		opts.Corrections = DefaultOptions().Corrections
	}
	return &Streamer{
		open:        open,
		scheme:      dataScheme,
		sinks:       sinks,
		opts:        opts,
		cmds:        make(chan command),
		corrections: make(chan []byte, opts.Corrections),
		log:         logger.Component("telemetry"),
	}
}

// Corrections — очередь байтов для записи в порт данных (поправки RTCM)
func (s *Streamer) Corrections() chan<- []byte {
	return s.corrections
}

// Running — порт данных открыт и читается
func (s *Streamer) Running() bool {
	return s.running.Load()
}

// Stats возвращает снимок счётчиков
func (s *Streamer) Stats() Stats {
	return Stats{
		Bytes:       s.bytes.Load(),
		Messages:    s.messages.Load(),
		Invalid:     s.invalid.Load(),
		Corrections: s.corrected.Load(),
	}
}

// Start открывает порт данных и ждёт результата
func (s *Streamer) Start(ctx context.Context) error {
	return s.send(ctx, cmdStart)
}

// Stop закрывает порт данных; Run продолжает ждать команд
func (s *Streamer) Stop(ctx context.Context) error {
	return s.send(ctx, cmdStop)
}

func (s *Streamer) send(ctx context.Context, kind commandKind) error {
	c := command{kind: kind, reply: make(chan error, 1)}
	select {
	case s.cmds <- c:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-c.reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run обслуживает команды и порт данных до отмены ctx
func (s *Streamer) Run(ctx context.Context) error {
	var conn connection.Connection
	var src connection.Reader
	writes := 0

	closeConn := func() {
		if conn == nil {
			return
		}
		_ = conn.Close()
		conn, src = nil, nil
		s.running.Store(false)
		s.flush()
	}
	defer closeConn()

	for {
		if conn == nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case c := <-s.cmds:
				if c.kind == cmdStart {
					var err error
					conn, err = s.open()
					if err != nil {
						conn = nil
						c.reply <- fmt.Errorf("open data port: %w", err)
						continue
					}
					src = s.reader(conn)
					s.running.Store(true)
					s.log.WithField("port", conn.Name()).Info("data port started")
				}
				c.reply <- nil
			case <-s.corrections:
				// порт закрыт: поправки некуда писать
			}
			continue
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case c := <-s.cmds:
			if c.kind == cmdStop {
				closeConn()
				s.log.Info("data port stopped")
			}
			c.reply <- nil
			continue
		case p := <-s.corrections:
			if _, err := conn.Write(p); err != nil {
				s.log.Warnf("write corrections: %v", err)
			} else {
				s.corrected.Add(uint64(len(p)))
				monitor.CorrectionBytes.Add(float64(len(p)))
			}
			continue
		default:
		}

		got, err := s.step(ctx, src)
		if err != nil {
			s.log.Errorf("data port: %v", err)
			closeConn()
			continue
		}
		if got {
			writes++
			if writes >= s.opts.FlushEvery {
				writes = 0
				s.flush()
			}
		} else if s.opts.Idle > 0 {
			time.Sleep(s.opts.Idle)
		}
	}
}

// reader оборачивает соединение записью сырых байтов
func (s *Streamer) reader(c connection.Reader) connection.Reader {
	r := &countingReader{r: c, n: &s.bytes}
	if s.opts.Capture == nil {
		return r
	}
	return &teeReader{r: r, w: s.opts.Capture}
}

// step читает одну порцию: сообщение при разборе, иначе всё доступное. false — данных нет.
func (s *Streamer) step(ctx context.Context, src connection.Reader) (bool, error) {
	var sch scheme.Scheme
	if s.opts.Parse && s.scheme != nil {
		sch = s.scheme()
	}
	if sch == nil {
		if !src.ReadReady() {
			return false, nil
		}
		p, err := src.ReadAll()
		return len(p) > 0, err
	}
	m, err := sch.ReadOneMessage(src)
	if err != nil || m == nil {
		return false, err
	}
	s.dispatch(ctx, m)
	return true, nil
}

func (s *Streamer) dispatch(ctx context.Context, m *message.Message) {
	monitor.ObserveMessage(m)
	if !m.Valid {
		s.invalid.Add(1)
		s.log.Debugf("invalid %s: %s", m.Type, m.Reason)
		return
	}
	s.messages.Add(1)
	for _, sink := range s.sinks {
		if err := sink.Consume(ctx, m); err != nil {
			monitor.SinkErrors.WithLabelValues(sink.Name()).Inc()
			s.log.WithField("sink", sink.Name()).Debugf("consume %s: %v", m.Type, err)
		}
	}
}

func (s *Streamer) flush() {
	if f, ok := s.opts.Capture.(interface{ Flush() error }); ok {
		if err := f.Flush(); err != nil {
			s.log.Warnf("flush capture: %v", err)
		}
	}
}
