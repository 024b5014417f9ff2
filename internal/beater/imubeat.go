// Package beater реализует интерфейс Beater для Imubeat (libbeat v7): служба imulink,
// телеметрия которой публикуется событиями Beat.
package beater

import (
	"context"
	"fmt"

	"github.com/elastic/beats/v7/libbeat/beat"
	"github.com/elastic/beats/v7/libbeat/common"
	"github.com/elastic/beats/v7/libbeat/logp"

	"github.com/shiwa/imulink/pkg/config"
	"github.com/shiwa/imulink/pkg/daemon"
)

// Imubeat реализует beat.Beater.
type Imubeat struct {
	done   chan struct{}
	config *config.Config
	client beat.Client
}

// New создаёт Beater из конфигурации Beat (блок imubeat).
func New(b *beat.Beat, cfg *common.Config) (beat.Beater, error) {
	sub, err := cfg.Child("imubeat", -1)
	if err != nil || sub == nil {
		return nil, fmt.Errorf("imubeat config not found: %v", err)
	}
	c := config.Default()
	if err := sub.Unpack(c); err != nil {
		return nil, fmt.Errorf("parse imubeat config: %w", err)
	}
	config.ApplyDefaults(c)
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &Imubeat{
		done:   make(chan struct{}),
		config: c,
	}, nil
}

// Run запускает службу imulink до Stop().
func (bt *Imubeat) Run(b *beat.Beat) error {
	logp.Info("imubeat запущен")
	client, err := b.Publisher.Connect()
	if err != nil {
		return fmt.Errorf("connect publisher: %w", err)
	}
	bt.client = client

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-bt.done
		cancel()
	}()

	err = daemon.RunDaemon(ctx, bt.config, true, NewSink(client))
	if err != nil && err != context.Canceled {
		logp.Warn("imulink завершён: %v", err)
	}
	return nil
}

// Stop останавливает Run.
func (bt *Imubeat) Stop() {
	if bt.client != nil {
		bt.client.Close()
	}
	close(bt.done)
}
