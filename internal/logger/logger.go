// Package logger — единый вывод логов imulink с учётом quiet. Поверх logrus:
// уровень, формат и вывод задаются блоком log конфига.
package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

// Quiet при true отключает информационные сообщения (Info); Error выводится всегда.
var Quiet bool

var (
	mu  sync.Mutex
	std = newLogger()
)

func newLogger() *logrus.Logger {
	l := logrus.New()
	l.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})
	return l
}

// LogConfig — параметры вывода
type LogConfig struct {
	Level    string `yaml:"level" config:"level"`   // debug, info, warn, error
	Format   string `yaml:"format" config:"format"` // text или json
	Output   string `yaml:"output" config:"output"` // stdout или file
	FilePath string `yaml:"file_path" config:"file_path"`
}

// Setup настраивает уровень, формат и вывод. При ошибке открытия файла остаётся stdout.
func Setup(cfg LogConfig) error {
	mu.Lock()
	defer mu.Unlock()
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	std.SetLevel(level)
	if strings.EqualFold(cfg.Format, "json") {
		std.SetFormatter(&logrus.JSONFormatter{TimestampFormat: "2006-01-02 15:04:05"})
	} else {
		std.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: "2006-01-02 15:04:05"})
	}
	if cfg.Output == "file" && cfg.FilePath != "" {
		f, err := os.OpenFile(cfg.FilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			std.SetOutput(os.Stdout)
			return fmt.Errorf("log file %s: %w", cfg.FilePath, err)
		}
		std.SetOutput(f)
	}
	return nil
}

// SetQuiet включает quiet и поднимает уровень до warn для логгеров компонентов
func SetQuiet(q bool) {
	mu.Lock()
	defer mu.Unlock()
	Quiet = q
	if q && std.IsLevelEnabled(logrus.InfoLevel) {
		std.SetLevel(logrus.WarnLevel)
	}
}

// SetOutput перенаправляет вывод (тесты)
func SetOutput(w io.Writer) {
	mu.Lock()
	std.SetOutput(w)
	mu.Unlock()
}

// Component возвращает логгер с полем component
func Component(name string) *logrus.Entry {
	return std.WithField("component", name)
}

// Info выводит сообщение, если Quiet == false.
func Info(format string, args ...interface{}) {
	if Quiet {
		return
	}
	std.Infof(format, args...)
}

// Warn выводит предупреждение.
func Warn(format string, args ...interface{}) {
	std.Warnf(format, args...)
}

// Debug выводит отладочное сообщение.
func Debug(format string, args ...interface{}) {
	std.Debugf(format, args...)
}

// Error выводит сообщение об ошибке всегда.
func Error(format string, args ...interface{}) {
	std.Errorf(format, args...)
}
