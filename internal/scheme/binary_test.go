package scheme

import (
	"bytes"
	"math/rand"
	"testing"

	"github.com/shiwa/imulink/internal/connection"
	"github.com/shiwa/imulink/internal/message"
)

var binaryIDs = []uint8{
	message.BinaryIMU, message.BinaryGPS, message.BinaryGP2, message.BinaryHDG,
	message.BinaryINS, message.BinaryAHRS, message.BinaryX3IMU,
}

// frameFromPayload собирает кадр с корректным trailer
func frameFromPayload(id uint8, payload []byte) []byte {
	frame := append([]byte{BinaryPreamble1, BinaryPreamble2, id, byte(len(payload))}, payload...)
	ckA, ckB := Fletcher16(frame[2:])
	return append(frame, ckA, ckB)
}

func TestBinaryRoundTrip(t *testing.T) {
	r := rand.New(rand.NewSource(7))
	for _, id := range binaryIDs {
		f, _ := message.BinaryFormatFor(id)
		size := f.Fields.PayloadSize()
		payloads := [][]byte{
			bytes.Repeat([]byte{0x00}, size),
			bytes.Repeat([]byte{0xFF}, size),
			bytes.Repeat([]byte{0x7F}, size),
			bytes.Repeat([]byte{0x80}, size),
		}
		for i := 0; i < 100; i++ {
			p := make([]byte, size)
			r.Read(p)
			payloads = append(payloads, p)
		}
		for _, p := range payloads {
			m := Binary{}.Parse(frameFromPayload(id, p))
			if !m.Valid {
				t.Fatalf("id %d: parse invalid: %s", id, m.Reason)
			}
			frame, err := Binary{}.Encode(m)
			if err != nil {
				t.Fatalf("id %d: encode: %v", id, err)
			}
			got := Binary{Check: FletcherTrailer}.Parse(frame)
			if !got.Valid || got.BinaryID != id || got.Type != f.Type || !got.Fields.Equal(m.Fields) {
				t.Fatalf("id %d: round trip mismatch\n got  %v\n want %v", id, got, m)
			}
		}
	}
}

func TestBinaryScaling(t *testing.T) {
	f, _ := message.BinaryFormatFor(message.BinaryINS)
	p := make([]byte, f.Fields.PayloadSize())
	// imu_time_ns = 2_500_000, lat_deg raw = 373990838 (37.3990838°)
	p[0], p[1], p[2] = 0xA0, 0x25, 0x26
	lat := int32(373990838)
	p[16], p[17], p[18], p[19] = byte(lat), byte(lat>>8), byte(lat>>16), byte(lat>>24)
	m := Binary{}.Parse(frameFromPayload(message.BinaryINS, p))
	ins, ok := m.INS()
	if !ok {
		t.Fatalf("INS() not ok: %v", m)
	}
	if ins.Lat < 37.3990837 || ins.Lat > 37.3990839 {
		t.Errorf("lat = %v", ins.Lat)
	}
	if ins.TimeMs != 2.5 {
		t.Errorf("imu_time_ms = %v, want 2.5", ins.TimeMs)
	}
}

func TestBinaryGPSFixSplit(t *testing.T) {
	f, _ := message.BinaryFormatFor(message.BinaryGPS)
	p := make([]byte, f.Fields.PayloadSize())
	p[len(p)-1] = 0x23
	m := Binary{}.Parse(frameFromPayload(message.BinaryGPS, p))
	gps, ok := m.GPS()
	if !ok || gps.FixType != 3 || gps.CarrierSolution != 2 {
		t.Errorf("gps = %+v, ok %v", gps, ok)
	}
}

func TestBinaryInvalidFrames(t *testing.T) {
	tests := []struct {
		name   string
		frame  []byte
		reason message.Reason
	}{
		{"unknown type", frameFromPayload(99, []byte{1, 2, 3}), message.ReasonUnknownType},
		{"short payload", frameFromPayload(message.BinaryIMU, make([]byte, 14)), message.ReasonLength},
		{"truncated", []byte{BinaryPreamble1, BinaryPreamble2, 2, 48, 0, 0}, message.ReasonIncomplete},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := Binary{}.Parse(tt.frame)
			if m.Valid || m.Reason != tt.reason {
				t.Errorf("valid %v reason %q, want %q", m.Valid, m.Reason, tt.reason)
			}
		})
	}
}

// Trailer не сверяется по умолчанию: испорченная сумма проходит.
func TestBinaryTrailerNotVerifiedByDefault(t *testing.T) {
	f, _ := message.BinaryFormatFor(message.BinaryAHRS)
	frame := frameFromPayload(message.BinaryAHRS, make([]byte, f.Fields.PayloadSize()))
	frame[len(frame)-1] ^= 0xFF
	if m := (Binary{}).Parse(frame); !m.Valid {
		t.Errorf("default parse rejected trailer: %s", m.Reason)
	}
	if m := (Binary{Check: FletcherTrailer}).Parse(frame); m.Valid || m.Reason != message.ReasonChecksum {
		t.Errorf("fletcher check: valid %v reason %q", m.Valid, m.Reason)
	}
}

func TestBinaryReadOneMessage(t *testing.T) {
	f, _ := message.BinaryFormatFor(message.BinaryHDG)
	frame := frameFromPayload(message.BinaryHDG, make([]byte, f.Fields.PayloadSize()))
	c := connection.NewMemory("mem", 0)
	c.Feed([]byte{0x00, 0xC5, 0x11, 0x50})
	c.Feed(frame)
	c.Feed(frame[:10])

	m, err := Binary{}.ReadOneMessage(c)
	if err != nil || !m.Is(message.TypeHDG) || m.Encoding != message.EncodingBinary {
		t.Fatalf("first = %v, %v", m, err)
	}
	m, err = Binary{}.ReadOneMessage(c)
	if err != nil || m == nil || m.Valid || m.Reason != message.ReasonIncomplete {
		t.Fatalf("truncated = %v, %v", m, err)
	}
	if m, err = (Binary{}).ReadOneMessage(c); m != nil || err != nil {
		t.Fatalf("empty = %v, %v", m, err)
	}
}
