package scheme

import (
	"math"
	"math/rand"
	"strings"
	"testing"

	"github.com/shiwa/imulink/internal/connection"
	"github.com/shiwa/imulink/internal/message"
)

func TestASCIIEncode(t *testing.T) {
	tests := []struct {
		name string
		msg  *message.Message
		want string
	}{
		{"ping", message.NewPing(), "#APPNG*48\r\n"},
		{"cfg read", message.NewConfigRead(message.TypeCFG, message.ReadRAM, "odr"), "#APCFG,r,odr*58\r\n"},
		{"cfg response", message.NewConfig(message.TypeCFG, message.ReadRAM, message.Entry("odr", "100")), "#APCFG,r,odr,100*45\r\n"},
		{"odometer", message.NewOdometer(22.5), "#APODO,22.5*62\r\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ASCII{}.Encode(tt.msg)
			if err != nil {
				t.Fatal(err)
			}
			if string(got) != tt.want {
				t.Errorf("Encode = %q, want %q", got, tt.want)
			}
		})
	}
	if _, err := (ASCII{}).Encode(message.New(message.TypeAHRS)); err == nil {
		t.Error("4-character type must not encode as ASCII")
	}
}

func TestASCIIParse(t *testing.T) {
	tests := []struct {
		name   string
		frame  string
		valid  bool
		typ    message.Type
		reason message.Reason
	}{
		{"ping response", "#APPNG,0*54\r\n", true, message.TypePNG, ""},
		{"uppercase checksum", "#APERR,4*4C\r\n", true, message.TypeERR, ""},
		{"no crlf", "#APPNG,0*54", true, message.TypePNG, ""},
		{"bad checksum", "#APPNG,0*55\r\n", false, message.TypePNG, message.ReasonChecksum},
		{"no separator", "#APPNG,0\r\n", false, "", message.ReasonChecksum},
		{"unknown type", "#APXYZ*" + hex(Checksum([]byte("APXYZ"))) + "\r\n", false, "XYZ", message.ReasonUnknownType},
		{"wrong talker", "#GPPNG*" + hex(Checksum([]byte("GPPNG"))) + "\r\n", false, message.TypePNG, message.ReasonTalker},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := ASCII{}.Parse([]byte(tt.frame))
			if m.Valid != tt.valid || m.Type != tt.typ || m.Reason != tt.reason {
				t.Errorf("Parse(%q) = valid %v type %q reason %q", tt.frame, m.Valid, m.Type, m.Reason)
			}
		})
	}
}

func hex(b byte) string {
	const digits = "0123456789abcdef"
	return string([]byte{digits[b>>4], digits[b&0x0F]})
}

func TestASCIIParseTypedFields(t *testing.T) {
	m := ASCII{}.Parse([]byte("#APCFG,r,odr,100*45\r\n"))
	c, ok := m.Config()
	if !ok {
		t.Fatalf("Config() not ok: %v", m)
	}
	if c.Mode != message.ReadRAM || c.Map()["odr"] != "100" {
		t.Errorf("config = %+v", c)
	}

	ins := ASCII{}.Parse(ASCII{}.mustEncode(t, message.New(message.TypeINS,
		message.Field{Name: "imu_time_ms", Value: message.Int(1)},
		message.Field{Name: "gps_time_ns", Value: message.Int(2)},
		message.Field{Name: "ins_solution_status", Value: message.Int(0)},
		message.Field{Name: "lat_deg", Value: message.String("")},
	)))
	if !ins.Valid {
		t.Fatalf("INS with blank field invalid: %v", ins.Reason)
	}
	if v, _ := ins.Get("lat_deg"); v.Kind != message.KindBytes || len(v.Bytes) != 0 {
		t.Errorf("blank lat_deg = %+v", v)
	}
}

func (a ASCII) mustEncode(t *testing.T, m *message.Message) []byte {
	t.Helper()
	b, err := a.Encode(m)
	if err != nil {
		t.Fatal(err)
	}
	return b
}

func TestASCIISingleByteCorruption(t *testing.T) {
	frames := []*message.Message{
		message.New(message.TypePNG, message.Field{Name: "code", Value: message.Int(2)}),
		message.NewConfig(message.TypeCFG, message.WriteFlash, message.Entry("odr", "50"), message.Entry("mfm", "1")),
		message.NewOdometer(-3.25),
	}
	for _, m := range frames {
		frame, err := ASCII{}.Encode(m)
		if err != nil {
			t.Fatal(err)
		}
		for i := range frame {
			bad := append([]byte(nil), frame...)
			bad[i] ^= 0x01
			got := ASCII{}.Parse(bad)
			if got.Valid || got.Reason != message.ReasonChecksum {
				t.Errorf("%s: flip at %d (%q) -> valid %v reason %q", m.Type, i, bad, got.Valid, got.Reason)
			}
		}
	}
}

// randomASCIIFields заполняет формат случайными значениями, включая границы int64
func randomASCIIFields(r *rand.Rand, f message.Format) message.Fields {
	fields := make(message.Fields, 0, len(f))
	for _, spec := range f {
		var v message.Value
		switch spec.Kind {
		case message.KindInt:
			switch r.Intn(4) {
			case 0:
				v = message.Int(math.MaxInt64)
			case 1:
				v = message.Int(math.MinInt64)
			default:
				v = message.Int(r.Int63n(1<<40) - 1<<39)
			}
		case message.KindFloat:
			v = message.Float(math.Round((r.Float64()*2000-1000)*1e6) / 1e6)
		default:
			v = message.String(randomWord(r))
		}
		fields = append(fields, message.Field{Name: spec.Name, Value: v})
	}
	return fields
}

func randomWord(r *rand.Rand) string {
	const alphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789._-"
	n := 1 + r.Intn(12)
	var sb strings.Builder
	for i := 0; i < n; i++ {
		sb.WriteByte(alphabet[r.Intn(len(alphabet))])
	}
	return sb.String()
}

func TestASCIIRoundTrip(t *testing.T) {
	r := rand.New(rand.NewSource(1))
	fixed := []message.Type{
		message.TypeIMU, message.TypeIM1, message.TypeGPS, message.TypeGP2, message.TypeINS,
		message.TypeHDG, message.TypeODO, message.TypeUNL, message.TypeVER, message.TypeSER,
		message.TypePID, message.TypeIHW, message.TypeFHW, message.TypeFSN, message.TypeERR,
		message.TypeRST, message.TypePNG,
	}
	for _, typ := range fixed {
		formats, _ := message.ASCIIFormats(typ)
		for fi, f := range formats {
			for i := 0; i < 50; i++ {
				m := message.New(typ, randomASCIIFields(r, f)...)
				frame, err := ASCII{}.Encode(m)
				if err != nil {
					t.Fatalf("%s/%d: %v", typ, fi, err)
				}
				got := ASCII{}.Parse(frame)
				if !got.Valid || got.Type != typ || !got.Fields.Equal(m.Fields) {
					t.Fatalf("%s/%d: round trip %q -> %v", typ, fi, frame, got)
				}
			}
		}
	}

	modes := []message.ConfigMode{message.ReadRAM, message.WriteRAM, message.ReadFlash, message.WriteFlash}
	for _, typ := range []message.Type{message.TypeCFG, message.TypeVEH} {
		for i := 0; i < 50; i++ {
			var entries []message.ConfigEntry
			for j := r.Intn(5); j >= 0; j-- {
				entries = append(entries, message.Entry(randomWord(r), randomWord(r)))
			}
			m := message.NewConfig(typ, modes[r.Intn(len(modes))], entries...)
			got := ASCII{}.Parse(ASCII{}.mustEncode(t, m))
			if !got.Valid || !got.Fields.Equal(m.Fields) {
				t.Fatalf("%s: round trip %v -> %v", typ, m, got)
			}
		}
	}
	for _, typ := range []message.Type{message.TypeINI, message.TypeUPD, message.TypeSTA} {
		m := message.NewKeyValue(typ, message.Entry("lat", "37.39"), message.Entry("lon", "-121.97"))
		got := ASCII{}.Parse(ASCII{}.mustEncode(t, m))
		if !got.Valid || !got.Fields.Equal(m.Fields) {
			t.Fatalf("%s: round trip %v -> %v", typ, m, got)
		}
	}

	single := message.NewConfigRead(message.TypeCFG, message.ReadFlash, "mfm")
	if got := (ASCII{}).Parse(ASCII{}.mustEncode(t, single)); !got.Fields.Equal(single.Fields) {
		t.Errorf("single-name read round trip: %v", got)
	}
	echo := message.NewEcho("a,b,c")
	if got := (ASCII{}).Parse(ASCII{}.mustEncode(t, echo)); !got.Fields.Equal(echo.Fields) {
		t.Errorf("echo round trip: %v", got)
	}
}

func TestASCIIReadOneMessage(t *testing.T) {
	c := connection.NewMemory("mem", 0)
	c.Feed([]byte("garbage\x00\xff#APPNG,0*54\r\n#APERR,4*4c\r\n#APPNG,"))

	m, err := ASCII{}.ReadOneMessage(c)
	if err != nil || !m.Is(message.TypePNG) {
		t.Fatalf("first = %v, %v", m, err)
	}
	m, err = ASCII{}.ReadOneMessage(c)
	if code, ok := m.DeviceError(); err != nil || !ok || code != message.ErrChecksum {
		t.Fatalf("second = %v, %v", m, err)
	}
	m, err = ASCII{}.ReadOneMessage(c)
	if err != nil || m == nil || m.Valid || m.Reason != message.ReasonIncomplete {
		t.Fatalf("truncated = %v, %v", m, err)
	}
	m, err = ASCII{}.ReadOneMessage(c)
	if err != nil || m != nil {
		t.Fatalf("empty stream = %v, %v", m, err)
	}
}

func TestFormCustom(t *testing.T) {
	if got := string(FormCustom("#APPNG")); got != "#APPNG*48\r\n" {
		t.Errorf("FormCustom = %q", got)
	}
	if got := string(FormCustom("APCFG,r,odr")); got != "#APCFG,r,odr*58\r\n" {
		t.Errorf("FormCustom = %q", got)
	}
}
