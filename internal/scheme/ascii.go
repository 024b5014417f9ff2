package scheme

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"github.com/shiwa/imulink/internal/connection"
	"github.com/shiwa/imulink/internal/message"
)

// Константы ASCII кадра: #APTYP,f1,f2*cs\r\n
const (
	ASCIIStart        = '#'
	ASCIIChecksumSep  = '*'
	ASCIIPayloadSep   = ','
	ASCIITalker       = "AP"
	asciiTalkerLength = 2
	asciiTypeLength   = 3
)

// ASCIIEnd — конец кадра
var ASCIIEnd = []byte("\r\n")

// ASCII — текстовая кодировка с XOR контрольной суммой
type ASCII struct {
	// Limit — максимум байт на поиск начала и конца кадра (0 — ReadLimit)
	Limit int
}

// Name — "ascii"
func (ASCII) Name() string { return "ascii" }

// Checksum — XOR байтов между '#' и '*'
func Checksum(data []byte) byte {
	var cs byte
	for _, b := range data {
		cs ^= b
	}
	return cs
}

// ReadOneMessage ищет '#', читает до CRLF и разбирает кадр
func (a ASCII) ReadOneMessage(c connection.Reader) (*message.Message, error) {
	limit := limitOr(a.Limit)
	skipped, err := c.ReadUntil([]byte{ASCIIStart}, limit)
	if err != nil {
		return nil, err
	}
	if len(skipped) == 0 || skipped[len(skipped)-1] != ASCIIStart {
		return nil, nil
	}
	rest, err := c.ReadUntil(ASCIIEnd, limit)
	if err != nil {
		return nil, err
	}
	frame := append([]byte{ASCIIStart}, rest...)
	if !bytes.HasSuffix(rest, ASCIIEnd) {
		return message.Invalid("", message.ReasonIncomplete, frame), nil
	}
	return a.Parse(frame), nil
}

// WriteOneMessage кодирует и пишет кадр
func (a ASCII) WriteOneMessage(m *message.Message, c connection.Writer) error {
	frame, err := a.Encode(m)
	if err != nil {
		return err
	}
	return write(c, frame)
}

// Parse разбирает кадр; '#' в начале и CRLF в конце необязательны
func (ASCII) Parse(frame []byte) *message.Message {
	raw := append([]byte(nil), frame...)
	span := bytes.TrimSuffix(bytes.TrimPrefix(frame, []byte{ASCIIStart}), ASCIIEnd)

	sep := bytes.LastIndexByte(span, ASCIIChecksumSep)
	if sep < 0 {
		return message.Invalid("", message.ReasonChecksum, raw)
	}
	body, csText := span[:sep], span[sep+1:]
	var t message.Type
	if len(body) >= asciiTalkerLength+asciiTypeLength {
		t = message.Type(body[asciiTalkerLength : asciiTalkerLength+asciiTypeLength])
	}
	cs, err := strconv.ParseUint(string(csText), 16, 8)
	if err != nil || len(csText) != 2 || byte(cs) != Checksum(body) {
		return message.Invalid(t, message.ReasonChecksum, raw)
	}
	if len(body) < asciiTalkerLength+asciiTypeLength {
		return message.Invalid(t, message.ReasonIncomplete, raw)
	}
	if string(body[:asciiTalkerLength]) != ASCIITalker {
		return message.Invalid(t, message.ReasonTalker, raw)
	}
	if !message.IsKnownASCII(t) {
		return message.Invalid(t, message.ReasonUnknownType, raw)
	}
	payload := body[asciiTalkerLength+asciiTypeLength:]
	var values []string
	if len(payload) > 0 {
		if payload[0] != ASCIIPayloadSep {
			return message.Invalid(t, message.ReasonUnknownType, raw)
		}
		values = strings.Split(string(payload[1:]), string(ASCIIPayloadSep))
	}
	fields, ok := decodeASCIIFields(t, values)
	if !ok {
		return message.Invalid(t, message.ReasonFieldCount, raw)
	}
	return &message.Message{
		Type:     t,
		Encoding: message.EncodingASCII,
		Valid:    true,
		Fields:   fields,
		Raw:      raw,
	}
}

func decodeASCIIFields(t message.Type, values []string) (message.Fields, bool) {
	var fields message.Fields
	if message.IsKeyValue(t) {
		if message.HasMode(t) {
			if len(values) == 0 || len(values[0]) != 1 {
				return nil, false
			}
			fields = append(fields, message.Field{Name: "mode", Value: message.String(values[0])})
			values = values[1:]
		}
		for i := 0; i < len(values); i += 2 {
			if i+1 < len(values) {
				fields = append(fields, message.Field{Name: values[i], Value: message.String(values[i+1])})
			} else {
				fields = append(fields, message.Field{Name: values[i], Value: message.None()})
			}
		}
		return fields, true
	}
	if len(values) == 0 {
		// запрос без полей (PNG, VER, SER...)
		return nil, true
	}
	formats, _ := message.ASCIIFormats(t)
	if t == message.TypeECH {
		return message.Fields{{Name: "contents", Value: message.String(strings.Join(values, ","))}}, true
	}
	format := formats[0]
	for _, f := range formats {
		if len(f) == len(values) {
			format = f
			break
		}
	}
	for i, v := range values {
		if i >= len(format) {
			fields = append(fields, message.Field{Name: fmt.Sprintf("field_%d", i), Value: message.String(v)})
			continue
		}
		fields = append(fields, message.Field{Name: format[i].Name, Value: parseASCIIValue(format[i].Kind, v)})
	}
	return fields, true
}

// parseASCIIValue разбирает число по типу колонки; пустое или нечисловое поле остаётся байтами
func parseASCIIValue(kind message.Kind, s string) message.Value {
	switch kind {
	case message.KindInt:
		if i, err := strconv.ParseInt(s, 10, 64); err == nil {
			return message.Int(i)
		}
		if u, err := strconv.ParseUint(s, 10, 64); err == nil {
			return message.Uint(u)
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return message.Float(f)
		}
	case message.KindFloat:
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return message.Float(f)
		}
	}
	return message.String(s)
}

// Encode собирает кадр из полей сообщения в их порядке
func (ASCII) Encode(m *message.Message) ([]byte, error) {
	if len(m.Type) != asciiTypeLength {
		return nil, fmt.Errorf("ascii encode: type %q must be %d characters", m.Type, asciiTypeLength)
	}
	body := make([]byte, 0, 64)
	body = append(body, ASCIITalker...)
	body = append(body, m.Type...)
	keyValue := message.IsKeyValue(m.Type)
	for i, f := range m.Fields {
		body = append(body, ASCIIPayloadSep)
		if !keyValue || (i == 0 && f.Name == "mode" && message.HasMode(m.Type)) {
			body = append(body, f.Value.Text()...)
			continue
		}
		body = append(body, f.Name...)
		if f.Value.Kind != message.KindNone {
			body = append(body, ASCIIPayloadSep)
			body = append(body, f.Value.Text()...)
		}
	}
	return frameASCII(body), nil
}

func frameASCII(body []byte) []byte {
	frame := make([]byte, 0, len(body)+6)
	frame = append(frame, ASCIIStart)
	frame = append(frame, body...)
	frame = append(frame, ASCIIChecksumSep)
	frame = append(frame, fmt.Sprintf("%02x", Checksum(body))...)
	frame = append(frame, ASCIIEnd...)
	return frame
}

// FormCustom оформляет произвольный текст команды в кадр: добавляет '#', контрольную сумму и CRLF
func FormCustom(text string) []byte {
	return frameASCII([]byte(strings.TrimLeft(text, string(ASCIIStart))))
}
