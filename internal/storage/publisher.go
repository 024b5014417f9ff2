// Package storage — публикация телеметрии в Redis: Pub/Sub канал и ограниченный список
// последних сообщений на каждый тип.
package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/shiwa/imulink/internal/logger"
	"github.com/shiwa/imulink/internal/message"
)

// DefaultHistory — сколько последних сообщений хранить в списке
const DefaultHistory = 1000

// Record — сообщение в JSON
type Record struct {
	Device    string         `json:"device"`
	Type      string         `json:"type"`
	Encoding  string         `json:"encoding"`
	Timestamp time.Time      `json:"timestamp"`
	Fields    map[string]any `json:"fields"`
}

// NewRecord собирает Record из сообщения
func NewRecord(device string, m *message.Message, ts time.Time) Record {
	return Record{
		Device:    device,
		Type:      string(m.Type),
		Encoding:  m.Encoding.String(),
		Timestamp: ts,
		Fields:    m.FieldMap(),
	}
}

// Options — параметры подключения
type Options struct {
	Addr     string
	Password string
	DB       int
	PoolSize int
	Channel  string
	History  int
}

// Publisher — получатель телеметрии, публикующий в Redis
type Publisher struct {
	client  redis.UniversalClient
	channel string
	history int
	device  string
	now     func() time.Time
	log     *logrus.Entry
}

// Connect подключается к Redis и проверяет соединение
func Connect(ctx context.Context, opts Options, device string) (*Publisher, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
		PoolSize: opts.PoolSize,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis %s: %w", opts.Addr, err)
	}
	p := NewPublisher(client, opts.Channel, opts.History, device)
	p.log.WithField("addr", opts.Addr).Info("redis connected")
	return p, nil
}

// NewPublisher оборачивает готовый клиент
func NewPublisher(client redis.UniversalClient, channel string, history int, device string) *Publisher {
	if channel == "" {
		channel = "imulink:telemetry"
	}
	if history <= 0 {
		history = DefaultHistory
	}
	return &Publisher{
		client:  client,
		channel: channel,
		history: history,
		device:  device,
		now:     time.Now,
		log:     logger.Component("storage"),
	}
}

// Name — имя получателя
func (p *Publisher) Name() string { return "redis" }

// ListKey — ключ списка последних сообщений типа t
func (p *Publisher) ListKey(t message.Type) string {
	return fmt.Sprintf("imulink:%s:%s", p.device, t)
}

// Consume публикует сообщение и сохраняет его в список
func (p *Publisher) Consume(ctx context.Context, m *message.Message) error {
	data, err := json.Marshal(NewRecord(p.device, m, p.now()))
	if err != nil {
		return fmt.Errorf("marshal %s: %w", m.Type, err)
	}
	if err := p.client.Publish(ctx, p.channel, data).Err(); err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	key := p.ListKey(m.Type)
	pipe := p.client.TxPipeline()
	pipe.LPush(ctx, key, data)
	pipe.LTrim(ctx, key, 0, int64(p.history-1))
	if _, err := pipe.Exec(ctx); err != nil {
		p.log.Warnf("save %s: %v", key, err)
	}
	return nil
}

// Close закрывает клиент
func (p *Publisher) Close() error {
	return p.client.Close()
}
