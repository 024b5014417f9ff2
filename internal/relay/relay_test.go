package relay

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"sync"
	"testing"
	"time"
)

// scriptSource отдаёт заранее заданные потоки по одному на подключение
type scriptSource struct {
	mu       sync.Mutex
	streams  []string
	attempts int
}

func (s *scriptSource) Name() string { return "script" }

func (s *scriptSource) Connect(ctx context.Context) (io.ReadCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts++
	if len(s.streams) == 0 {
		return nil, errors.New("refused")
	}
	next := s.streams[0]
	s.streams = s.streams[1:]
	return io.NopCloser(strings.NewReader(next)), nil
}

func (s *scriptSource) attemptCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts
}

func collect(ctx context.Context, out <-chan []byte, want int) []byte {
	var got []byte
	for len(got) < want {
		select {
		case p := <-out:
			got = append(got, p...)
		case <-ctx.Done():
			return got
		}
	}
	return got
}

func TestRelayInitialAttempts(t *testing.T) {
	src := &scriptSource{}
	r := New(src, make(chan []byte, 1), Options{InitialAttempts: 3})
	err := r.Run(context.Background())
	if !errors.Is(err, ErrConnect) {
		t.Fatalf("err = %v, want ErrConnect", err)
	}
	if src.attemptCount() != 3 {
		t.Errorf("attempts %d, want 3", src.attemptCount())
	}
}

func TestRelayReconnects(t *testing.T) {
	src := &scriptSource{streams: []string{"abc", "def"}}
	out := make(chan []byte, 8)
	r := New(src, out, Options{RetryInterval: 5 * time.Millisecond})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	if got := collect(ctx, out, 6); string(got) != "abcdef" {
		t.Errorf("forwarded %q, want abcdef", got)
	}
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("Run = %v, want context.Canceled", err)
	}
	if r.Reconnects() == 0 {
		t.Error("no reconnect counted")
	}
	if r.Forwarded() != 6 {
		t.Errorf("forwarded %d bytes, want 6", r.Forwarded())
	}
}

func TestRelayRateCeiling(t *testing.T) {
	payload := strings.Repeat("x", 300)
	src := &scriptSource{streams: []string{payload}}
	out := make(chan []byte, 16)
	r := New(src, out, Options{BytesPerSecond: 1000, Window: 100 * time.Millisecond, RetryInterval: time.Hour})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	go func() { _ = r.Run(ctx) }()

	start := time.Now()
	got := collect(ctx, out, len(payload))
	elapsed := time.Since(start)
	if string(got) != payload {
		t.Fatalf("forwarded %d bytes", len(got))
	}
	// всплеск 100 байт сразу, остальные 200 — не быстрее 1000 байт/с
	if elapsed < 150*time.Millisecond {
		t.Errorf("300 bytes in %v, ceiling not applied", elapsed)
	}
}

func TestRelayChunksNotLargerThanBurst(t *testing.T) {
	src := &scriptSource{streams: []string{strings.Repeat("y", 50)}}
	out := make(chan []byte, 16)
	r := New(src, out, Options{BytesPerSecond: 100000, Window: 100 * time.Microsecond, RetryInterval: time.Hour})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	go func() { _ = r.Run(ctx) }()

	total := 0
	for total < 50 {
		select {
		case p := <-out:
			if len(p) > 10 {
				t.Fatalf("chunk of %d bytes exceeds burst 10", len(p))
			}
			total += len(p)
		case <-ctx.Done():
			t.Fatal("timed out")
		}
	}
}

func TestTCPSource(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	request := make(chan []byte, 1)
	go func() {
		c, err := ln.Accept()
		if err != nil {
			return
		}
		defer c.Close()
		buf := make([]byte, 64)
		n, _ := c.Read(buf)
		request <- buf[:n]
		_, _ = c.Write([]byte{0xd3, 0x00, 0x02, 0xaa, 0xbb})
	}()

	out := make(chan []byte, 4)
	src := TCPSource{Addr: ln.Addr().String(), Request: []byte("GET /MOUNT\r\n\r\n"), Timeout: time.Second}
	r := New(src, out, Options{RetryInterval: time.Hour})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	go func() { _ = r.Run(ctx) }()

	got := collect(ctx, out, 5)
	if !bytes.Equal(got, []byte{0xd3, 0x00, 0x02, 0xaa, 0xbb}) {
		t.Errorf("forwarded % x", got)
	}
	if req := <-request; string(req) != "GET /MOUNT\r\n\r\n" {
		t.Errorf("request %q", req)
	}
}
