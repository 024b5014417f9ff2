package daemon

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/shiwa/imulink/internal/board"
	"github.com/shiwa/imulink/internal/devicesim"
	"github.com/shiwa/imulink/pkg/config"
)

func TestReplay(t *testing.T) {
	tests := []struct {
		name    string
		mfm     string
		format  string
		trailer bool
		corrupt bool
		want    uint64
		invalid uint64
	}{
		{"ascii", board.FormatASCII, "ascii", false, false, 4, 0},
		{"binary", board.FormatBinary, "binary", false, false, 4, 0},
		{"binary bad trailer unchecked", board.FormatBinary, "binary", false, true, 4, 0},
		{"binary bad trailer checked", board.FormatBinary, "binary", true, true, 0, 4},
		{"binary good trailer checked", board.FormatBinary, "binary", true, false, 4, 0},
		{"mixed", board.FormatBinary, "mixed", false, false, 4, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := devicesim.New()
			d.SetConfig("mfm", tt.mfm)
			var raw []byte
			for i := 0; i < 4; i++ {
				frame := d.NextOutput()
				if tt.corrupt {
					frame[len(frame)-1] ^= 0xff
				}
				raw = append(raw, frame...)
			}
			path := filepath.Join(t.TempDir(), "capture.bin")
			if err := os.WriteFile(path, raw, 0o644); err != nil {
				t.Fatal(err)
			}

			cfg := config.Default()
			cfg.Telemetry.VerifyBinaryTrailer = tt.trailer
			sink := &collectSink{}
			st, err := Replay(context.Background(), cfg, path, tt.format, sink)
			if err != nil {
				t.Fatal(err)
			}
			if st.Messages != tt.want || uint64(sink.count()) != tt.want {
				t.Errorf("messages %d, sink got %d, want %d", st.Messages, sink.count(), tt.want)
			}
			if st.Invalid != tt.invalid {
				t.Errorf("invalid %d, want %d", st.Invalid, tt.invalid)
			}
		})
	}
}

func TestReplayErrors(t *testing.T) {
	cfg := config.Default()
	if _, err := Replay(context.Background(), cfg, filepath.Join(t.TempDir(), "missing.bin"), "ascii"); err == nil {
		t.Error("missing file accepted")
	}
	if _, err := Replay(context.Background(), cfg, "capture.bin", "nmea"); err == nil {
		t.Error("unknown format accepted")
	}
	if _, err := Replay(context.Background(), nil, "capture.bin", "ascii"); err == nil {
		t.Error("nil config accepted")
	}
}
