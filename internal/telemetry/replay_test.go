package telemetry

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/shiwa/imulink/internal/connection"
	"github.com/shiwa/imulink/internal/devicesim"
	"github.com/shiwa/imulink/internal/message"
	"github.com/shiwa/imulink/internal/scheme"
)

// writeCapture пишет n кадров модуля d (с шумом между ними) в файл записи
func writeCapture(t *testing.T, d *devicesim.Device, n int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "capture.bin")
	fw, err := connection.CreateFileWriter(path)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < n; i++ {
		if _, err := fw.Write([]byte{0x00, 0xff}); err != nil {
			t.Fatal(err)
		}
		if _, err := fw.Write(d.NextOutput()); err != nil {
			t.Fatal(err)
		}
	}
	if err := fw.Close(); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestReplay(t *testing.T) {
	tests := []struct {
		name   string
		mfm    string
		scheme scheme.Scheme
	}{
		{"ascii", "1", scheme.ASCII{}},
		{"binary", "0", scheme.Binary{}},
		{"mixed over binary", "0", scheme.NewMixed()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := devicesim.New()
			d.SetConfig("mfm", tt.mfm)
			path := writeCapture(t, d, 5)

			fr, err := connection.OpenFileReader(path)
			if err != nil {
				t.Fatal(err)
			}
			defer fr.Close()
			sink := &collectSink{}
			st, err := Replay(context.Background(), fr, tt.scheme, sink)
			if err != nil {
				t.Fatal(err)
			}
			if st.Messages != 5 || sink.count() != 5 {
				t.Fatalf("messages %d, sink got %d, want 5", st.Messages, sink.count())
			}
			if st.Bytes == 0 {
				t.Error("bytes not counted")
			}
			for _, m := range sink.msgs {
				if !m.Is(message.TypeIMU) {
					t.Errorf("unexpected %s", m)
				}
			}
		})
	}
}

func TestReplayCanceled(t *testing.T) {
	d := devicesim.New()
	d.SetConfig("mfm", "1")
	fr, err := connection.OpenFileReader(writeCapture(t, d, 3))
	if err != nil {
		t.Fatal(err)
	}
	defer fr.Close()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := Replay(ctx, fr, scheme.ASCII{}); err != context.Canceled {
		t.Errorf("Replay = %v, want context.Canceled", err)
	}
}
