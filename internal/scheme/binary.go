package scheme

import (
	"encoding/binary"
	"fmt"
	"math"
	"strings"

	"github.com/shiwa/imulink/internal/connection"
	"github.com/shiwa/imulink/internal/message"
)

// Binary кадр: C5 50 | тип | длина L | L байт little-endian | 2 байта trailer
const (
	BinaryPreamble1 = 0xC5
	BinaryPreamble2 = 0x50
	binaryHeaderLen = 4
	binaryCRCLen    = 2
)

// TrailerCheck проверяет 2-байтовый trailer полного кадра
type TrailerCheck func(frame []byte) bool

// Fletcher16 — сумма Флетчера по типу, длине и payload (без преамбулы)
func Fletcher16(data []byte) (ckA, ckB uint8) {
	for _, b := range data {
		ckA += b
		ckB += ckA
	}
	return ckA, ckB
}

// FletcherTrailer — проверка trailer как суммы Флетчера
func FletcherTrailer(frame []byte) bool {
	if len(frame) < binaryHeaderLen+binaryCRCLen {
		return false
	}
	ckA, ckB := Fletcher16(frame[2 : len(frame)-binaryCRCLen])
	return frame[len(frame)-2] == ckA && frame[len(frame)-1] == ckB
}

// Binary — двоичная кодировка с fixed-point полями.
// Trailer по умолчанию не проверяется: алгоритм устройства не подтверждён.
type Binary struct {
	Limit int
	Check TrailerCheck
}

// Name — "binary"
func (Binary) Name() string { return "binary" }

// ReadOneMessage ищет преамбулу, читает заголовок и ровно L+2 байт
func (b Binary) ReadOneMessage(c connection.Reader) (*message.Message, error) {
	limit := limitOr(b.Limit)
	var prev byte
	found := false
	for i := 0; i < limit; i++ {
		chunk, err := c.Read(1)
		if err != nil {
			return nil, err
		}
		if len(chunk) == 0 {
			return nil, nil
		}
		if prev == BinaryPreamble1 && chunk[0] == BinaryPreamble2 {
			found = true
			break
		}
		prev = chunk[0]
	}
	if !found {
		return nil, nil
	}
	frame := []byte{BinaryPreamble1, BinaryPreamble2}
	head, err := c.Read(2)
	if err != nil {
		return nil, err
	}
	frame = append(frame, head...)
	if len(head) < 2 {
		return message.Invalid("", message.ReasonIncomplete, frame), nil
	}
	body, err := c.Read(int(head[1]) + binaryCRCLen)
	if err != nil {
		return nil, err
	}
	frame = append(frame, body...)
	return b.Parse(frame), nil
}

// WriteOneMessage кодирует и пишет кадр
func (b Binary) WriteOneMessage(m *message.Message, c connection.Writer) error {
	frame, err := b.Encode(m)
	if err != nil {
		return err
	}
	return write(c, frame)
}

// Parse разбирает полный кадр, начиная с преамбулы
func (b Binary) Parse(frame []byte) *message.Message {
	raw := append([]byte(nil), frame...)
	if len(frame) < binaryHeaderLen {
		return message.Invalid("", message.ReasonIncomplete, raw)
	}
	id, length := frame[2], int(frame[3])
	if len(frame) < binaryHeaderLen+length+binaryCRCLen {
		m := message.Invalid("", message.ReasonIncomplete, raw)
		m.BinaryID = id
		return m
	}
	frame = frame[:binaryHeaderLen+length+binaryCRCLen]
	format, ok := message.BinaryFormatFor(id)
	if !ok {
		m := message.Invalid("", message.ReasonUnknownType, raw)
		m.Encoding, m.BinaryID = message.EncodingBinary, id
		return m
	}
	invalid := func(r message.Reason) *message.Message {
		m := message.Invalid(format.Type, r, raw)
		m.Encoding, m.BinaryID = message.EncodingBinary, id
		return m
	}
	if b.Check != nil && !b.Check(frame) {
		return invalid(message.ReasonChecksum)
	}
	payload := frame[binaryHeaderLen : binaryHeaderLen+length]
	if len(payload) < format.Fields.PayloadSize() {
		return invalid(message.ReasonLength)
	}
	fields := make(message.Fields, 0, len(format.Fields)+4)
	off := 0
	for _, spec := range format.Fields {
		v := decodeBinaryValue(spec, payload[off:off+spec.Width.Size()])
		off += spec.Width.Size()
		fields = append(fields, message.Field{Name: spec.Name, Value: v})
	}
	return &message.Message{
		Type:     format.Type,
		Encoding: message.EncodingBinary,
		BinaryID: id,
		Valid:    true,
		Fields:   derive(fields),
		Raw:      raw,
	}
}

func decodeBinaryValue(spec message.FieldSpec, p []byte) message.Value {
	var (
		i int64
		u uint64
	)
	switch spec.Width {
	case message.Int8:
		i = int64(int8(p[0]))
	case message.Uint8:
		u = uint64(p[0])
	case message.Int16:
		i = int64(int16(binary.LittleEndian.Uint16(p)))
	case message.Uint16:
		u = uint64(binary.LittleEndian.Uint16(p))
	case message.Int32:
		i = int64(int32(binary.LittleEndian.Uint32(p)))
	case message.Uint32:
		u = uint64(binary.LittleEndian.Uint32(p))
	case message.Int64:
		i = int64(binary.LittleEndian.Uint64(p))
	case message.Uint64:
		u = binary.LittleEndian.Uint64(p)
	case message.Float32:
		return message.Float(float64(math.Float32frombits(binary.LittleEndian.Uint32(p))))
	case message.Float64:
		return message.Float(math.Float64frombits(binary.LittleEndian.Uint64(p)))
	}
	if spec.Scale != 0 {
		if spec.Width.Signed() {
			return message.Float(float64(i) * spec.Scale)
		}
		return message.Float(float64(u) * spec.Scale)
	}
	if spec.Width.Signed() {
		return message.Int(i)
	}
	return message.Uint(u)
}

// derive добавляет поля, которые ASCII кодировка передаёт напрямую:
// *_time_ms из *_time_ns (кроме времени GPS) и тип фикса/RTK из упакованного байта.
func derive(fields message.Fields) message.Fields {
	out := fields
	for _, f := range fields {
		switch {
		case f.Name == "carrsoln_and_fix":
			out = append(out,
				message.Field{Name: "gnss_fix_type", Value: message.Int(int64(f.Value.Uint & 0x0F))},
				message.Field{Name: "carrier_solution_status", Value: message.Int(int64(f.Value.Uint >> 4))},
			)
		case strings.HasSuffix(f.Name, "_time_ns") && f.Name != "gps_time_ns":
			name := strings.TrimSuffix(f.Name, "_ns") + "_ms"
			out = append(out, message.Field{Name: name, Value: message.Float(float64(f.Value.Uint) / 1e6)})
		}
	}
	return out
}

// Encode собирает кадр по таблице формата; отсутствующие поля пишутся нулями
func (Binary) Encode(m *message.Message) ([]byte, error) {
	id := m.BinaryID
	if id == 0 {
		var ok bool
		if id, ok = message.BinaryIDFor(m.Type); !ok {
			return nil, fmt.Errorf("binary encode: no binary form for %s", m.Type)
		}
	}
	format, ok := message.BinaryFormatFor(id)
	if !ok {
		return nil, fmt.Errorf("binary encode: unknown type id %d", id)
	}
	size := format.Fields.PayloadSize()
	if size > math.MaxUint8 {
		return nil, fmt.Errorf("binary encode: payload %d bytes too long", size)
	}
	frame := make([]byte, 0, binaryHeaderLen+size+binaryCRCLen)
	frame = append(frame, BinaryPreamble1, BinaryPreamble2, id, byte(size))
	for _, spec := range format.Fields {
		v, _ := m.Fields.Get(spec.Name)
		frame = appendBinaryValue(frame, spec, v)
	}
	ckA, ckB := Fletcher16(frame[2:])
	return append(frame, ckA, ckB), nil
}

func appendBinaryValue(buf []byte, spec message.FieldSpec, v message.Value) []byte {
	switch spec.Width {
	case message.Float32:
		f, _ := v.AsFloat()
		return binary.LittleEndian.AppendUint32(buf, math.Float32bits(float32(f)))
	case message.Float64:
		f, _ := v.AsFloat()
		return binary.LittleEndian.AppendUint64(buf, math.Float64bits(f))
	}
	var raw uint64
	if spec.Width.Signed() {
		raw = uint64(clampSigned(signedRaw(spec, v), spec.Width))
	} else {
		raw = clampUnsigned(unsignedRaw(spec, v), spec.Width)
	}
	switch spec.Width.Size() {
	case 1:
		return append(buf, byte(raw))
	case 2:
		return binary.LittleEndian.AppendUint16(buf, uint16(raw))
	case 4:
		return binary.LittleEndian.AppendUint32(buf, uint32(raw))
	default:
		return binary.LittleEndian.AppendUint64(buf, raw)
	}
}

func signedRaw(spec message.FieldSpec, v message.Value) int64 {
	if spec.Scale != 0 {
		f, _ := v.AsFloat()
		return int64(math.Round(f / spec.Scale))
	}
	if i, ok := v.AsInt(); ok {
		return i
	}
	f, _ := v.AsFloat()
	return int64(math.Round(f))
}

func unsignedRaw(spec message.FieldSpec, v message.Value) uint64 {
	if spec.Scale != 0 {
		f, _ := v.AsFloat()
		if f <= 0 {
			return 0
		}
		return uint64(math.Round(f / spec.Scale))
	}
	if v.Kind == message.KindUint {
		return v.Uint
	}
	if i, ok := v.AsInt(); ok && i >= 0 {
		return uint64(i)
	}
	return 0
}

func clampSigned(x int64, w message.Width) int64 {
	bits := uint(w.Size() * 8)
	if bits >= 64 {
		return x
	}
	lo, hi := int64(-1)<<(bits-1), int64(1)<<(bits-1)-1
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}

func clampUnsigned(x uint64, w message.Width) uint64 {
	bits := uint(w.Size() * 8)
	if bits >= 64 {
		return x
	}
	if hi := uint64(1)<<bits - 1; x > hi {
		return hi
	}
	return x
}
