package storage

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/shiwa/imulink/internal/message"
)

func TestNewRecordJSON(t *testing.T) {
	m := message.New(message.TypeIMU,
		message.Field{Name: "time", Value: message.Float(1234.5)},
		message.Field{Name: "count", Value: message.Uint(7)},
		message.Field{Name: "temp", Value: message.Int(-3)},
	)
	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	data, err := json.Marshal(NewRecord("2100001", m, ts))
	if err != nil {
		t.Fatal(err)
	}
	var got map[string]any
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatal(err)
	}
	if got["device"] != "2100001" || got["type"] != "IMU" || got["encoding"] != "ascii" {
		t.Errorf("header %v", got)
	}
	if got["timestamp"] != "2024-05-01T12:00:00Z" {
		t.Errorf("timestamp %v", got["timestamp"])
	}
	fields := got["fields"].(map[string]any)
	if fields["time"] != 1234.5 || fields["count"] != 7.0 || fields["temp"] != -3.0 {
		t.Errorf("fields %v", fields)
	}
}

func TestPublisherDefaults(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1"})
	p := NewPublisher(client, "", 0, "2100001")
	defer p.Close()
	if p.channel != "imulink:telemetry" || p.history != DefaultHistory {
		t.Errorf("channel %q history %d", p.channel, p.history)
	}
	if got := p.ListKey(message.TypeINS); got != "imulink:2100001:INS" {
		t.Errorf("list key %q", got)
	}
}

func TestConnectUnreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := Connect(ctx, Options{Addr: "127.0.0.1:1"}, "x"); err == nil {
		t.Error("Connect to a closed port succeeded")
	}
}

func TestConsumeUnreachable(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", MaxRetries: -1})
	p := NewPublisher(client, "ch", 10, "x")
	defer p.Close()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := p.Consume(ctx, message.New(message.TypeIMU)); err == nil {
		t.Error("Consume without a server succeeded")
	}
}
