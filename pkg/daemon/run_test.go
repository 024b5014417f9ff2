package daemon

import (
	"bytes"
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/shiwa/imulink/internal/board"
	"github.com/shiwa/imulink/internal/connection"
	"github.com/shiwa/imulink/internal/devicesim"
	"github.com/shiwa/imulink/internal/message"
	"github.com/shiwa/imulink/internal/scheme"
	"github.com/shiwa/imulink/pkg/config"
)

type collectSink struct {
	mu   sync.Mutex
	msgs []*message.Message
}

func (c *collectSink) Name() string { return "collect" }

func (c *collectSink) Consume(_ context.Context, m *message.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, m)
	return nil
}

func (c *collectSink) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.msgs)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// simBoard — сессия, открытая так же, как board.Open: идентификация и кодировка данных
func simBoard(t *testing.T) (*board.Board, *connection.Memory, *devicesim.DataPort, *devicesim.Device) {
	t.Helper()
	d := devicesim.New()
	ctl := connection.NewMemory("/dev/ttyUSB3", board.DefaultBaud)
	ctl.SetResponder(d.Responder())
	data := devicesim.NewDataPort(d, "/dev/ttyUSB0", board.DefaultBaud)
	b := board.New(board.Options{})
	b.Attach(ctl, data, nil)
	if _, err := b.Identify(); err != nil {
		t.Fatal(err)
	}
	if err := b.SetupDataPort(); err != nil {
		t.Fatal(err)
	}
	return b, ctl, data, d
}

func TestServeStreamsTelemetry(t *testing.T) {
	b, ctl, data, dev := simBoard(t)
	cfg := config.Default()
	cfg.Telemetry.Capture = filepath.Join(t.TempDir(), "capture.bin")
	sink := &collectSink{}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Serve(ctx, cfg, b, sink) }()

	waitFor(t, "telemetry", func() bool { return sink.count() >= 3 })
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("Serve = %v, want context.Canceled", err)
	}
	if !ctl.Closed() || !data.Closed() {
		t.Errorf("control closed=%v data closed=%v", ctl.Closed(), data.Closed())
	}
	if b.State() != board.StateDisconnected {
		t.Errorf("state %s after Serve", b.State())
	}
	if n := dev.Count(message.TypeVER); n != 1 {
		t.Errorf("identity queried %d times", n)
	}
	if raw, err := os.ReadFile(cfg.Telemetry.Capture); err != nil || len(raw) == 0 {
		t.Errorf("capture: %d bytes, %v", len(raw), err)
	}
	sink.mu.Lock()
	defer sink.mu.Unlock()
	if !sink.msgs[0].Is(message.TypeIMU) {
		t.Errorf("first message %s", sink.msgs[0])
	}
}

func TestServeRelaysCorrections(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()
	rtcm := []byte{0xd3, 0x00, 0x04, 0x01, 0x02, 0x03, 0x04}
	go func() {
		c, err := ln.Accept()
		if err != nil {
			return
		}
		defer c.Close()
		_, _ = c.Write(rtcm)
		time.Sleep(time.Second)
	}()

	b, _, data, _ := simBoard(t)
	cfg := config.Default()
	cfg.Telemetry.Parse = false
	cfg.Relay.Enable = true
	cfg.Relay.Address = ln.Addr().String()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Serve(ctx, cfg, b) }()

	waitFor(t, "corrections in data port", func() bool { return bytes.Contains(data.Written(), rtcm) })
	cancel()
	<-done
}

func TestServeWithoutTelemetry(t *testing.T) {
	b, _, data, _ := simBoard(t)
	cfg := config.Default()
	cfg.Telemetry.Enable = false

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := Serve(ctx, cfg, b); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Serve = %v", err)
	}
	if !data.Closed() {
		t.Error("data port left open")
	}
}

func TestBoardOptions(t *testing.T) {
	cfg := config.Default()
	cfg.Device.Retries = 2
	cfg.Device.Settle = "5ms"
	cfg.Device.ResetWait = "bogus"
	cfg.Telemetry.VerifyBinaryTrailer = true

	opts := BoardOptions(cfg)
	if opts.Retries != 2 || opts.Settle != 5*time.Millisecond {
		t.Errorf("retries %d settle %v", opts.Retries, opts.Settle)
	}
	if opts.ResetWait != board.DefaultOptions().ResetWait {
		t.Errorf("reset wait %v, want default", opts.ResetWait)
	}
	if opts.BinaryCheck == nil {
		t.Fatal("binary trailer check not set")
	}
	frame := []byte{0x01, 0x02, 0x03}
	if opts.BinaryCheck(frame) != scheme.FletcherTrailer(frame) {
		t.Error("binary check is not the Fletcher trailer")
	}
}

func TestRunDaemonRejectsBadConfig(t *testing.T) {
	if err := RunDaemon(context.Background(), nil, true); err == nil {
		t.Error("nil config accepted")
	}
	cfg := config.Default()
	cfg.Discovery.Enable = false
	if err := RunDaemon(context.Background(), cfg, true); err == nil {
		t.Error("config without control port and discovery accepted")
	}
}
