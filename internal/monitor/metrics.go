// Package monitor — метрики Prometheus для сессии, телеметрии и ретранслятора поправок.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shiwa/imulink/internal/logger"
	"github.com/shiwa/imulink/internal/message"
)

var (
	// Телеметрия
	MessagesReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "imulink_messages_received_total",
			Help: "Разобранные сообщения телеметрии",
		},
		[]string{"type", "encoding"},
	)

	InvalidMessages = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "imulink_invalid_messages_total",
			Help: "Сообщения, не прошедшие разбор",
		},
		[]string{"reason"},
	)

	BytesReceived = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "imulink_bytes_received_total",
		Help: "Байты, принятые с порта данных",
	})

	SinkErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "imulink_sink_errors_total",
			Help: "Ошибки получателей телеметрии",
		},
		[]string{"sink"},
	)

	// Поправки
	CorrectionBytes = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "imulink_correction_bytes_total",
		Help: "Байты поправок, записанные в порт данных",
	})

	RelayConnected = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "imulink_relay_connected",
		Help: "1 — источник поправок подключён",
	})

	RelayReconnects = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "imulink_relay_reconnects_total",
		Help: "Попытки переподключения к источнику поправок",
	})

	// Сессия
	SessionConnected = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "imulink_session_connected",
		Help: "1 — сессия с модулем установлена",
	})
)

var registerOnce sync.Once

// Register регистрирует метрики в реестре по умолчанию (повторный вызов ничего не делает)
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			MessagesReceived,
			InvalidMessages,
			BytesReceived,
			SinkErrors,
			CorrectionBytes,
			RelayConnected,
			RelayReconnects,
			SessionConnected,
		)
	})
}

// Handler — /metrics и /health
func Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	return mux
}

// StartMetricsServer поднимает HTTP сервер метрик на порту port до отмены ctx
func StartMetricsServer(ctx context.Context, port int) *http.Server {
	Register()
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	log := logger.Component("monitor")
	log.Infof("metrics server: %s", srv.Addr)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorf("metrics server: %v", err)
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	return srv
}

// ObserveMessage учитывает одно сообщение с порта данных
func ObserveMessage(m *message.Message) {
	if m == nil {
		return
	}
	if !m.Valid {
		InvalidMessages.WithLabelValues(string(m.Reason)).Inc()
		return
	}
	MessagesReceived.WithLabelValues(string(m.Type), m.Encoding.String()).Inc()
}

// SetSessionConnected отражает состояние сессии
func SetSessionConnected(ok bool) {
	if ok {
		SessionConnected.Set(1)
		return
	}
	SessionConnected.Set(0)
}
