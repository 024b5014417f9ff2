// Package message — сообщения протокола IMU/GNSS модуля: типы, поля, коды ошибок устройства
// и таблицы форматов ASCII/Binary.
package message

import "fmt"

// Type — тип сообщения (тег из 3–4 символов: IMU, CFG, AHRS...)
type Type string

// Выходные (телеметрия) типы
const (
	TypeIMU  Type = "IMU"
	TypeIM1  Type = "IM1"
	TypeCAL  Type = "CAL"
	TypeGPS  Type = "GPS"
	TypeGP2  Type = "GP2"
	TypeHDG  Type = "HDG"
	TypeINS  Type = "INS"
	TypeAHRS Type = "AHRS"
	TypeINF  Type = "INF"
)

// Команды и ответы
const (
	TypePNG Type = "PNG" // ping
	TypeCFG Type = "CFG" // пользовательская конфигурация
	TypeVEH Type = "VEH" // конфигурация транспортного средства
	TypeERR Type = "ERR" // ошибка устройства
	TypeVER Type = "VER" // версия прошивки
	TypeSER Type = "SER" // серийный номер
	TypePID Type = "PID" // product id
	TypeIHW Type = "IHW" // версия железа IMU
	TypeFHW Type = "FHW" // версия железа FOG
	TypeFSN Type = "FSN" // серийный номер FOG
	TypeSTA Type = "STA" // статус
	TypeRST Type = "RST" // сброс
	TypeODO Type = "ODO" // скорость одометра
	TypeECH Type = "ECH" // эхо
	TypeUNL Type = "UNL" // разблокировка flash
	TypeINI Type = "INI" // начальные условия
	TypeUPD Type = "UPD" // обновление
)

var outputTypes = map[Type]bool{
	TypeIMU: true, TypeIM1: true, TypeCAL: true, TypeGPS: true,
	TypeGP2: true, TypeHDG: true, TypeINS: true, TypeAHRS: true,
}

// IsOutput — true для типов телеметрии, которые устройство шлёт без запроса
func (t Type) IsOutput() bool {
	return outputTypes[t]
}

// Encoding — кодировка, из которой получено сообщение
type Encoding uint8

const (
	EncodingASCII Encoding = iota
	EncodingBinary
)

func (e Encoding) String() string {
	if e == EncodingBinary {
		return "binary"
	}
	return "ascii"
}

// Reason — причина, по которой сообщение не прошло разбор
type Reason string

const (
	ReasonNone        Reason = ""
	ReasonChecksum    Reason = "invalid checksum"
	ReasonUnknownType Reason = "unknown message type"
	ReasonTalker      Reason = "invalid talker"
	ReasonIncomplete  Reason = "incomplete message"
	ReasonLength      Reason = "payload too short"
	ReasonFieldCount  Reason = "unexpected field count"
	ReasonTimeout     Reason = "timeout"
)

// Message — разобранное (или собираемое) сообщение. После возврата из Scheme не изменяется.
type Message struct {
	Type     Type
	Encoding Encoding
	BinaryID uint8 // числовой тип binary кадра, 0 для ASCII
	Valid    bool
	Reason   Reason
	Fields   Fields
	Raw      []byte
}

// New создаёт валидное сообщение заданного типа
func New(t Type, fields ...Field) *Message {
	return &Message{Type: t, Valid: true, Fields: Fields(fields)}
}

// Invalid создаёт сообщение с ошибкой разбора
func Invalid(t Type, reason Reason, raw []byte) *Message {
	return &Message{Type: t, Reason: reason, Raw: raw}
}

// Timeout — ответ не получен
func Timeout() *Message {
	return &Message{Reason: ReasonTimeout}
}

func (m *Message) String() string {
	if m == nil {
		return "<nil>"
	}
	if !m.Valid {
		return fmt.Sprintf("%s invalid (%s)", m.Type, m.Reason)
	}
	s := string(m.Type)
	for _, f := range m.Fields {
		s += fmt.Sprintf(" %s=%s", f.Name, f.Value.Text())
	}
	return s
}

// Get возвращает значение поля
func (m *Message) Get(name string) (Value, bool) {
	return m.Fields.Get(name)
}

// Text возвращает поле как строку
func (m *Message) Text(name string) (string, bool) {
	v, ok := m.Fields.Get(name)
	if !ok {
		return "", false
	}
	return v.Text(), true
}

// Is — валидное сообщение данного типа
func (m *Message) Is(t Type) bool {
	return m != nil && m.Valid && m.Type == t
}

// FieldMap — поля сообщения по именам в виде Native значений
func (m *Message) FieldMap() map[string]any {
	out := make(map[string]any, len(m.Fields))
	for _, f := range m.Fields {
		out[f.Name] = f.Value.Native()
	}
	return out
}
