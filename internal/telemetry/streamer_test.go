package telemetry

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shiwa/imulink/internal/connection"
	"github.com/shiwa/imulink/internal/devicesim"
	"github.com/shiwa/imulink/internal/message"
	"github.com/shiwa/imulink/internal/scheme"
)

// collectSink запоминает полученные сообщения
type collectSink struct {
	mu   sync.Mutex
	msgs []*message.Message
	err  error
}

func (c *collectSink) Name() string { return "collect" }

func (c *collectSink) Consume(_ context.Context, m *message.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, m)
	return c.err
}

func (c *collectSink) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.msgs)
}

func asciiScheme() scheme.Scheme { return scheme.ASCII{} }

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func corrupt(frame []byte) []byte {
	out := append([]byte(nil), frame...)
	i := len(out) - 3 // последняя цифра контрольной суммы
	if out[i] == 'a' {
		out[i] = 'b'
	} else {
		out[i] = 'a'
	}
	return out
}

func runStreamer(t *testing.T, s *Streamer) (context.Context, func()) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = s.Run(ctx)
		close(done)
	}()
	return ctx, func() {
		cancel()
		<-done
	}
}

func TestStreamerParsesAndCaptures(t *testing.T) {
	dev := devicesim.New()
	var feed []byte
	feed = append(feed, dev.NextOutput()...)
	feed = append(feed, corrupt(dev.NextOutput())...)
	feed = append(feed, dev.NextOutput()...)

	data := connection.NewMemory("/dev/ttyUSB0", 921600)
	data.Feed(feed)
	capture := connection.NewMemory("capture", 0)
	sink := &collectSink{}

	opts := DefaultOptions()
	opts.Capture = capture
	s := New(func() (connection.Connection, error) { return data, nil }, asciiScheme, opts, sink)
	ctx, stop := runStreamer(t, s)
	defer stop()

	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !s.Running() {
		t.Error("not running after Start")
	}
	waitFor(t, "two messages", func() bool { return sink.count() == 2 })
	waitFor(t, "capture", func() bool { return bytes.Equal(capture.Written(), feed) })

	st := s.Stats()
	if st.Messages != 2 || st.Invalid != 1 {
		t.Errorf("stats %+v, want 2 messages and 1 invalid", st)
	}
	if st.Bytes != uint64(len(feed)) {
		t.Errorf("bytes %d, want %d", st.Bytes, len(feed))
	}
	sink.mu.Lock()
	defer sink.mu.Unlock()
	for _, m := range sink.msgs {
		if !m.Is(message.TypeIMU) {
			t.Errorf("got %s", m)
		}
	}
}

func TestStreamerRawCapture(t *testing.T) {
	data := connection.NewMemory("/dev/ttyUSB0", 921600)
	data.Feed([]byte("\xc5\x50 raw bytes"))
	capture := connection.NewMemory("capture", 0)
	sink := &collectSink{}

	opts := DefaultOptions()
	opts.Parse = false
	opts.Capture = capture
	s := New(func() (connection.Connection, error) { return data, nil }, asciiScheme, opts, sink)
	ctx, stop := runStreamer(t, s)
	defer stop()

	if err := s.Start(ctx); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "capture", func() bool { return string(capture.Written()) == "\xc5\x50 raw bytes" })
	if sink.count() != 0 {
		t.Errorf("raw mode dispatched %d messages", sink.count())
	}
}

func TestStreamerWritesCorrections(t *testing.T) {
	data := connection.NewMemory("/dev/ttyUSB0", 921600)
	s := New(func() (connection.Connection, error) { return data, nil }, asciiScheme, DefaultOptions())
	ctx, stop := runStreamer(t, s)
	defer stop()

	if err := s.Start(ctx); err != nil {
		t.Fatal(err)
	}
	s.Corrections() <- []byte{0xd3, 0x00, 0x13}
	s.Corrections() <- []byte{0x3e, 0xd0}
	waitFor(t, "corrections", func() bool { return bytes.Equal(data.Written(), []byte{0xd3, 0x00, 0x13, 0x3e, 0xd0}) })
	if got := s.Stats().Corrections; got != 5 {
		t.Errorf("corrections %d, want 5", got)
	}
}

func TestStreamerStartError(t *testing.T) {
	busy := errors.New("busy")
	s := New(func() (connection.Connection, error) { return nil, busy }, asciiScheme, DefaultOptions())
	ctx, stop := runStreamer(t, s)
	defer stop()

	if err := s.Start(ctx); !errors.Is(err, busy) {
		t.Errorf("Start err = %v, want busy", err)
	}
	if s.Running() {
		t.Error("running after failed Start")
	}
}

func TestStreamerStopClosesPort(t *testing.T) {
	data := connection.NewMemory("/dev/ttyUSB0", 921600)
	s := New(func() (connection.Connection, error) { return data, nil }, asciiScheme, DefaultOptions())
	ctx, stop := runStreamer(t, s)
	defer stop()

	if err := s.Start(ctx); err != nil {
		t.Fatal(err)
	}
	if err := s.Stop(ctx); err != nil {
		t.Fatal(err)
	}
	if !data.Closed() || s.Running() {
		t.Errorf("closed=%v running=%v after Stop", data.Closed(), s.Running())
	}
}

func TestStreamerSinkErrorDoesNotStop(t *testing.T) {
	dev := devicesim.New()
	data := connection.NewMemory("/dev/ttyUSB0", 921600)
	data.Feed(append(dev.NextOutput(), dev.NextOutput()...))
	sink := &collectSink{err: errors.New("sink down")}

	s := New(func() (connection.Connection, error) { return data, nil }, asciiScheme, DefaultOptions(), sink)
	ctx, stop := runStreamer(t, s)
	defer stop()

	if err := s.Start(ctx); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "both messages", func() bool { return sink.count() == 2 })
}

func TestStreamerStartAfterCancel(t *testing.T) {
	s := New(func() (connection.Connection, error) { return connection.Dummy{}, nil }, asciiScheme, DefaultOptions())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := s.Start(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}
