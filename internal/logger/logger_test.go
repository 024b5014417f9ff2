package logger

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func reset(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	if err := Setup(LogConfig{Level: "debug", Format: "text"}); err != nil {
		t.Fatal(err)
	}
	SetOutput(&buf)
	Quiet = false
	t.Cleanup(func() {
		Quiet = false
		SetOutput(os.Stdout)
		_ = Setup(LogConfig{Level: "info"})
	})
	return &buf
}

func TestQuietSuppressesInfo(t *testing.T) {
	buf := reset(t)
	SetQuiet(true)
	Info("hidden %d", 1)
	Component("board").Info("hidden too")
	Error("shown %d", 2)
	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("quiet output contains info: %q", out)
	}
	if !strings.Contains(out, "shown 2") {
		t.Errorf("error missing: %q", out)
	}
}

func TestJSONFormatAndComponent(t *testing.T) {
	buf := reset(t)
	if err := Setup(LogConfig{Level: "info", Format: "json"}); err != nil {
		t.Fatal(err)
	}
	Component("relay").WithField("source", "tcp://caster:2101").Info("connected")
	out := buf.String()
	for _, want := range []string{`"component":"relay"`, `"source":"tcp://caster:2101"`, `"msg":"connected"`} {
		if !strings.Contains(out, want) {
			t.Errorf("output %q lacks %s", out, want)
		}
	}
}

func TestSetupBadFileFallsBack(t *testing.T) {
	reset(t)
	path := filepath.Join(t.TempDir(), "missing", "imulink.log")
	if err := Setup(LogConfig{Level: "info", Output: "file", FilePath: path}); err == nil {
		t.Error("expected error for unwritable log path")
	}
}
