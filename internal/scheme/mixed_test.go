package scheme

import (
	"math/rand"
	"testing"

	"github.com/shiwa/imulink/internal/connection"
	"github.com/shiwa/imulink/internal/message"
)

func TestMixedBinaryThenASCII(t *testing.T) {
	payload := make([]byte, 14)
	for i := range payload {
		payload[i] = byte(i + 1)
	}
	c := connection.NewMemory("x3", 0)
	c.Feed([]byte{0xC5, 0x50, 0x02, 0x0E})
	c.Feed(payload)
	c.Feed([]byte{0xAB, 0xCD})
	c.Feed([]byte("#APPNG,0*54\r\n"))

	mx := NewMixed()
	first, err := mx.ReadOneMessage(c)
	if err != nil || first == nil {
		t.Fatalf("first = %v, %v", first, err)
	}
	if first.Encoding != message.EncodingBinary || first.BinaryID != message.BinaryIMU {
		t.Errorf("first = encoding %v id %d", first.Encoding, first.BinaryID)
	}
	second, err := mx.ReadOneMessage(c)
	if err != nil || second == nil {
		t.Fatalf("second = %v, %v", second, err)
	}
	if second.Encoding != message.EncodingASCII || !second.Is(message.TypePNG) {
		t.Errorf("second = %v", second)
	}
	if m, _ := mx.ReadOneMessage(c); m != nil {
		t.Errorf("trailing CRLF produced %v", m)
	}
}

func TestMixedFullIMUAndConfig(t *testing.T) {
	f, _ := message.BinaryFormatFor(message.BinaryX3IMU)
	frame := frameFromPayload(message.BinaryX3IMU, make([]byte, f.Fields.PayloadSize()))
	c := connection.NewMemory("x3", 0)
	c.Feed(frame)
	c.Feed([]byte("#APCFG,r,odr,100*45\r\n"))
	c.Feed(frame)

	mx := NewMixed()
	want := []message.Type{message.TypeIMU, message.TypeCFG, message.TypeIMU}
	for i, typ := range want {
		m, err := mx.ReadOneMessage(c)
		if err != nil || !m.Is(typ) {
			t.Fatalf("message %d = %v, %v; want %s", i, m, err, typ)
		}
	}
}

func TestMixedEarlyAbandon(t *testing.T) {
	tests := []struct {
		name  string
		input []byte
		want  message.Type
		enc   message.Encoding
	}{
		{"ascii restart", []byte("#APCFG,r,od#APPNG,0*54\r\n"), message.TypePNG, message.EncodingASCII},
		{"talker mismatch", []byte("#XY#APPNG,0*54\r\n"), message.TypePNG, message.EncodingASCII},
		{"binary inside ascii", append([]byte("#APIMU,1"), frameFromPayload(message.BinaryAHRS, make([]byte, 29))...), message.TypeAHRS, message.EncodingBinary},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := connection.NewMemory("x3", 0)
			c.Feed(tt.input)
			m, err := NewMixed().ReadOneMessage(c)
			if err != nil || !m.Is(tt.want) || m.Encoding != tt.enc {
				t.Errorf("got %v, %v", m, err)
			}
		})
	}
}

func TestMixedStateResetsBetweenCalls(t *testing.T) {
	c := connection.NewMemory("x3", 0)
	mx := NewMixed()
	c.Feed([]byte("#APPNG,"))
	if m, err := mx.ReadOneMessage(c); m != nil || err != nil {
		t.Fatalf("partial = %v, %v", m, err)
	}
	c.Feed([]byte("#APPNG,0*54\r\n"))
	m, err := mx.ReadOneMessage(c)
	if err != nil || !m.Is(message.TypePNG) {
		t.Fatalf("after reset = %v, %v", m, err)
	}
}

func TestMixedWritesASCII(t *testing.T) {
	c := connection.NewMemory("x3", 0)
	if err := NewMixed().WriteOneMessage(message.NewPing(), c); err != nil {
		t.Fatal(err)
	}
	if got := string(c.Written()); got != "#APPNG*48\r\n" {
		t.Errorf("written %q", got)
	}
}

func TestNoiseYieldsNoMessage(t *testing.T) {
	r := rand.New(rand.NewSource(3))
	noise := make([]byte, 0, 1500)
	for len(noise) < cap(noise) {
		b := byte(r.Intn(256))
		if b == ASCIIStart || b == BinaryPreamble1 {
			continue
		}
		noise = append(noise, b)
	}
	schemes := []Scheme{ASCII{}, Binary{}, NewMixed()}
	for _, s := range schemes {
		t.Run(s.Name(), func(t *testing.T) {
			c := connection.NewMemory("noise", 0)
			c.Feed(noise)
			m, err := s.ReadOneMessage(c)
			if err != nil || m != nil {
				t.Errorf("got %v, %v", m, err)
			}
		})
	}
}

func TestMixedReadLimit(t *testing.T) {
	c := connection.NewMemory("x3", 0)
	// ASCII тело без '*' длиннее лимита
	body := make([]byte, ReadLimit+10)
	for i := range body {
		body[i] = 'a'
	}
	c.Feed([]byte("#AP"))
	c.Feed(body)
	if m, err := NewMixed().ReadOneMessage(c); m != nil || err != nil {
		t.Errorf("got %v, %v", m, err)
	}
}
