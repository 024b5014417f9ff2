package telemetry

import (
	"context"

	"github.com/shiwa/imulink/internal/connection"
	"github.com/shiwa/imulink/internal/scheme"
)

// Replay разбирает записанный поток кодировкой sch до конца записи и раздаёт сообщения
// получателям так же, как задача порта данных.
func Replay(ctx context.Context, src connection.Reader, sch scheme.Scheme, sinks ...Sink) (Stats, error) {
	s := New(nil, func() scheme.Scheme { return sch }, DefaultOptions(), sinks...)
	r := s.reader(src)
	for src.ReadReady() {
		if err := ctx.Err(); err != nil {
			return s.Stats(), err
		}
		before := s.bytes.Load()
		ok, err := s.step(ctx, r)
		if err != nil {
			return s.Stats(), err
		}
		// кодировка не продвинулась — хвост записи не разбирается
		if !ok && s.bytes.Load() == before {
			break
		}
	}
	return s.Stats(), nil
}
