package monitor

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/shiwa/imulink/internal/message"
)

func TestObserveMessage(t *testing.T) {
	imu := testutil.ToFloat64(MessagesReceived.WithLabelValues("IMU", "ascii"))
	bad := testutil.ToFloat64(InvalidMessages.WithLabelValues(string(message.ReasonChecksum)))

	ObserveMessage(message.New(message.TypeIMU))
	ObserveMessage(message.New(message.TypeIMU))
	ObserveMessage(message.Invalid(message.TypeIMU, message.ReasonChecksum, nil))
	ObserveMessage(nil)

	if got := testutil.ToFloat64(MessagesReceived.WithLabelValues("IMU", "ascii")) - imu; got != 2 {
		t.Errorf("IMU count +%v, want +2", got)
	}
	if got := testutil.ToFloat64(InvalidMessages.WithLabelValues(string(message.ReasonChecksum))) - bad; got != 1 {
		t.Errorf("invalid count +%v, want +1", got)
	}
}

func TestRegisterTwice(t *testing.T) {
	Register()
	Register()
}

func TestHandler(t *testing.T) {
	Register()
	SetSessionConnected(true)
	srv := httptest.NewServer(Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("health status %d", resp.StatusCode)
	}

	resp, err = http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	buf := new(strings.Builder)
	if _, err := io.Copy(buf, resp.Body); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "imulink_session_connected 1") {
		t.Errorf("metrics output lacks session gauge")
	}
}
