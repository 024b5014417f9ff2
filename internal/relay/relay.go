// Package relay — ретранслятор поправок: читает поток из сетевого источника и передаёт его
// в порт данных модуля с ограничением скорости. При обрыве переподключается с
// фиксированным интервалом.
package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/shiwa/imulink/internal/logger"
	"github.com/shiwa/imulink/internal/monitor"
)

// ErrConnect — источник недоступен после всех начальных попыток
var ErrConnect = errors.New("correction source unavailable")

const (
	DefaultRetryInterval   = 15 * time.Second
	DefaultInitialAttempts = 3
	DefaultReadSize        = 1024
)

// Source — источник потока поправок
type Source interface {
	Name() string
	Connect(ctx context.Context) (io.ReadCloser, error)
}

// TCPSource — поток по TCP. Request, если задан, отправляется сразу после соединения.
type TCPSource struct {
	Addr    string
	Request []byte
	Timeout time.Duration
}

func (s TCPSource) Name() string { return "tcp://" + s.Addr }

// Connect устанавливает соединение
func (s TCPSource) Connect(ctx context.Context) (io.ReadCloser, error) {
	d := net.Dialer{Timeout: s.Timeout}
	conn, err := d.DialContext(ctx, "tcp", s.Addr)
	if err != nil {
		return nil, err
	}
	if len(s.Request) > 0 {
		if _, err := conn.Write(s.Request); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("send request: %w", err)
		}
	}
	return conn, nil
}

// Options — ограничения ретранслятора
type Options struct {
	// BytesPerSecond — потолок скорости; 0 — без ограничения
	BytesPerSecond int
	// Window — окно, за которое допускается всплеск BytesPerSecond*Window
	Window          time.Duration
	RetryInterval   time.Duration
	InitialAttempts int
	ReadSize        int
}

// DefaultOptions — значения по умолчанию
func DefaultOptions() Options {
	return Options{
		Window:          time.Second,
		RetryInterval:   DefaultRetryInterval,
		InitialAttempts: DefaultInitialAttempts,
		ReadSize:        DefaultReadSize,
	}
}

// Relay — ретранслятор. Единственный писатель в out.
type Relay struct {
	src     Source
	out     chan<- []byte
	opts    Options
	limiter *rate.Limiter

	connected  atomic.Bool
	forwarded  atomic.Uint64
	reconnects atomic.Uint64

	log *logrus.Entry
}

// New создаёт ретранслятор из src в out
func New(src Source, out chan<- []byte, opts Options) *Relay {
	d := DefaultOptions()
	if opts.RetryInterval <= 0 {
		opts.RetryInterval = d.RetryInterval
	}
	if opts.InitialAttempts <= 0 {
		opts.InitialAttempts = d.InitialAttempts
	}
	if opts.ReadSize <= 0 {
		opts.ReadSize = d.ReadSize
	}
	if opts.Window <= 0 {
		opts.Window = d.Window
	}
	return &Relay{
		src:     src,
		out:     out,
		opts:    opts,
		limiter: newLimiter(opts),
		log:     logger.Component("relay").WithField("source", src.Name()),
	}
}

func newLimiter(opts Options) *rate.Limiter {
	if opts.BytesPerSecond <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	burst := int(float64(opts.BytesPerSecond) * opts.Window.Seconds())
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(opts.BytesPerSecond), burst)
}

// Connected — источник сейчас подключён
func (r *Relay) Connected() bool { return r.connected.Load() }

// Forwarded — байты, переданные в out
func (r *Relay) Forwarded() uint64 { return r.forwarded.Load() }

// Reconnects — попытки переподключения после обрыва
func (r *Relay) Reconnects() uint64 { return r.reconnects.Load() }

// Run подключается (до InitialAttempts попыток подряд) и передаёт поток до отмены ctx.
// После обрыва переподключается раз в RetryInterval.
func (r *Relay) Run(ctx context.Context) error {
	var stream io.ReadCloser
	var err error
	for i := 0; i < r.opts.InitialAttempts; i++ {
		if stream, err = r.src.Connect(ctx); err == nil {
			break
		}
		r.log.Debugf("connect attempt %d: %v", i+1, err)
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	if err != nil {
		return fmt.Errorf("%s: %w: %v", r.src.Name(), ErrConnect, err)
	}

	for {
		r.setConnected(true)
		r.log.Info("connected")
		err := r.pump(ctx, stream)
		_ = stream.Close()
		r.setConnected(false)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		r.log.Warnf("disconnected: %v", err)
		if stream, err = r.reconnect(ctx); err != nil {
			return err
		}
	}
}

// reconnect пробует раз в RetryInterval, пока не получится или ctx не отменят
func (r *Relay) reconnect(ctx context.Context) (io.ReadCloser, error) {
	t := time.NewTicker(r.opts.RetryInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-t.C:
		}
		r.reconnects.Add(1)
		monitor.RelayReconnects.Inc()
		stream, err := r.src.Connect(ctx)
		if err == nil {
			return stream, nil
		}
		r.log.Debugf("reconnect: %v", err)
	}
}

// pump читает поток до ошибки или EOF
func (r *Relay) pump(ctx context.Context, stream io.ReadCloser) error {
	stop := context.AfterFunc(ctx, func() { _ = stream.Close() })
	defer stop()

	buf := make([]byte, r.opts.ReadSize)
	for {
		n, err := stream.Read(buf)
		if n > 0 {
			if ferr := r.forward(ctx, buf[:n]); ferr != nil {
				return ferr
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return io.ErrUnexpectedEOF
			}
			return err
		}
	}
}

// forward ждёт разрешения лимитера порциями не больше всплеска и отдаёт копию в out
func (r *Relay) forward(ctx context.Context, p []byte) error {
	for len(p) > 0 {
		n := len(p)
		if b := r.limiter.Burst(); r.limiter.Limit() != rate.Inf && n > b {
			n = b
		}
		if err := r.limiter.WaitN(ctx, n); err != nil {
			return err
		}
		chunk := append([]byte(nil), p[:n]...)
		select {
		case r.out <- chunk:
		case <-ctx.Done():
			return ctx.Err()
		}
		r.forwarded.Add(uint64(n))
		p = p[n:]
	}
	return nil
}

func (r *Relay) setConnected(ok bool) {
	r.connected.Store(ok)
	if ok {
		monitor.RelayConnected.Set(1)
	} else {
		monitor.RelayConnected.Set(0)
	}
}
