package daemon

import (
	"context"
	"fmt"

	"github.com/shiwa/imulink/internal/connection"
	"github.com/shiwa/imulink/internal/logger"
	"github.com/shiwa/imulink/internal/scheme"
	"github.com/shiwa/imulink/internal/telemetry"
	"github.com/shiwa/imulink/pkg/config"
)

// Replay разбирает файл, записанный -capture, кодировкой format (ascii, binary, mixed)
// и раздаёт сообщения sinks. Модуль не нужен.
func Replay(ctx context.Context, cfg *config.Config, path, format string, sinks ...telemetry.Sink) (telemetry.Stats, error) {
	if cfg == nil {
		return telemetry.Stats{}, fmt.Errorf("config required")
	}
	sch, err := scheme.ByName(format)
	if err != nil {
		return telemetry.Stats{}, err
	}
	if bin, ok := sch.(scheme.Binary); ok {
		bin.Check = BoardOptions(cfg).BinaryCheck
		sch = bin
	}
	src, err := connection.Open(connection.Endpoint{Kind: "file", Name: path})
	if err != nil {
		return telemetry.Stats{}, err
	}
	defer src.Close()

	st, err := telemetry.Replay(ctx, src, sch, sinks...)
	logger.Info("replay %s (%s): %d bytes, %d messages, %d invalid",
		path, sch.Name(), st.Bytes, st.Messages, st.Invalid)
	return st, err
}
