package beater

import (
	"context"
	"time"

	"github.com/elastic/beats/v7/libbeat/beat"
	"github.com/elastic/beats/v7/libbeat/common"

	"github.com/shiwa/imulink/internal/message"
)

// Sink — приёмник телеметрии, публикующий сообщения событиями Beat
type Sink struct {
	client beat.Client
	now    func() time.Time
}

// NewSink создаёт приёмник поверх клиента публикации
func NewSink(client beat.Client) *Sink {
	return &Sink{client: client, now: time.Now}
}

func (s *Sink) Name() string { return "beat" }

// Consume публикует одно разобранное сообщение
func (s *Sink) Consume(_ context.Context, m *message.Message) error {
	s.client.Publish(Event(m, s.now()))
	return nil
}

// Event собирает событие Beat из сообщения
func Event(m *message.Message, ts time.Time) beat.Event {
	return beat.Event{
		Timestamp: ts,
		Fields: common.MapStr{
			"type":     string(m.Type),
			"encoding": m.Encoding.String(),
			"fields":   m.FieldMap(),
		},
	}
}
