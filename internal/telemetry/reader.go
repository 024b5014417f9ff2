package telemetry

import (
	"sync/atomic"

	"github.com/shiwa/imulink/internal/connection"
	"github.com/shiwa/imulink/internal/monitor"
)

// countingReader считает принятые байты
type countingReader struct {
	r connection.Reader
	n *atomic.Uint64
}

func (c *countingReader) count(p []byte, err error) ([]byte, error) {
	if len(p) > 0 {
		c.n.Add(uint64(len(p)))
		monitor.BytesReceived.Add(float64(len(p)))
	}
	return p, err
}

func (c *countingReader) Read(n int) ([]byte, error) { return c.count(c.r.Read(n)) }

func (c *countingReader) ReadUntil(delim []byte, limit int) ([]byte, error) {
	return c.count(c.r.ReadUntil(delim, limit))
}

func (c *countingReader) ReadReady() bool { return c.r.ReadReady() }

func (c *countingReader) ReadAll() ([]byte, error) { return c.count(c.r.ReadAll()) }

// teeReader копирует всё прочитанное в w
type teeReader struct {
	r connection.Reader
	w connection.Writer
}

func (t *teeReader) tee(p []byte, err error) ([]byte, error) {
	if len(p) > 0 {
		if _, werr := t.w.Write(p); werr != nil && err == nil {
			err = werr
		}
	}
	return p, err
}

func (t *teeReader) Read(n int) ([]byte, error) { return t.tee(t.r.Read(n)) }

func (t *teeReader) ReadUntil(delim []byte, limit int) ([]byte, error) {
	return t.tee(t.r.ReadUntil(delim, limit))
}

func (t *teeReader) ReadReady() bool { return t.r.ReadReady() }

func (t *teeReader) ReadAll() ([]byte, error) { return t.tee(t.r.ReadAll()) }
