package message

import (
	"bytes"
	"math"
	"strconv"
)

// Kind — физический тип значения поля
type Kind uint8

const (
	KindNone  Kind = iota // имя без значения (запрос чтения конфигурации)
	KindInt               // знаковое целое
	KindUint              // беззнаковое целое (время в нс)
	KindFloat             // число с плавающей точкой, в т.ч. масштабированное fixed-point
	KindBytes             // непрозрачные байты (строки, пустые поля INS)
)

func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindInt:
		return "int"
	case KindUint:
		return "uint"
	case KindFloat:
		return "float"
	case KindBytes:
		return "bytes"
	default:
		return "unknown"
	}
}

// Value — значение одного поля сообщения
type Value struct {
	Kind  Kind
	Int   int64
	Uint  uint64
	Float float64
	Bytes []byte
}

// Int возвращает целое значение
func Int(v int64) Value { return Value{Kind: KindInt, Int: v} }

// Uint возвращает беззнаковое значение
func Uint(v uint64) Value { return Value{Kind: KindUint, Uint: v} }

// Float возвращает значение с плавающей точкой
func Float(v float64) Value { return Value{Kind: KindFloat, Float: v} }

// Bytes возвращает байтовое значение (копия)
func Bytes(b []byte) Value { return Value{Kind: KindBytes, Bytes: append([]byte{}, b...)} }

// String возвращает байтовое значение из строки
func String(s string) Value { return Value{Kind: KindBytes, Bytes: []byte(s)} }

// None возвращает пустое значение (только имя)
func None() Value { return Value{Kind: KindNone} }

// Text — ASCII представление значения, как оно уходит в провод
func (v Value) Text() string {
	switch v.Kind {
	case KindInt:
		return strconv.FormatInt(v.Int, 10)
	case KindUint:
		return strconv.FormatUint(v.Uint, 10)
	case KindFloat:
		return strconv.FormatFloat(v.Float, 'f', -1, 64)
	case KindBytes:
		return string(v.Bytes)
	default:
		return ""
	}
}

// AsFloat приводит значение к float64; байты разбираются как десятичное число
func (v Value) AsFloat() (float64, bool) {
	switch v.Kind {
	case KindInt:
		return float64(v.Int), true
	case KindUint:
		return float64(v.Uint), true
	case KindFloat:
		return v.Float, true
	case KindBytes:
		f, err := strconv.ParseFloat(string(v.Bytes), 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

// AsInt приводит значение к int64; дробные значения не приводятся
func (v Value) AsInt() (int64, bool) {
	switch v.Kind {
	case KindInt:
		return v.Int, true
	case KindUint:
		if v.Uint > math.MaxInt64 {
			return 0, false
		}
		return int64(v.Uint), true
	case KindFloat:
		if v.Float != math.Trunc(v.Float) {
			return 0, false
		}
		return int64(v.Float), true
	case KindBytes:
		i, err := strconv.ParseInt(string(v.Bytes), 10, 64)
		if err != nil {
			return 0, false
		}
		return i, true
	default:
		return 0, false
	}
}

// Equal сравнивает значения побайтно по виду и содержимому
func (v Value) Equal(o Value) bool {
	if v.Kind != o.Kind {
		return false
	}
	switch v.Kind {
	case KindInt:
		return v.Int == o.Int
	case KindUint:
		return v.Uint == o.Uint
	case KindFloat:
		return v.Float == o.Float || (math.IsNaN(v.Float) && math.IsNaN(o.Float))
	case KindBytes:
		return bytes.Equal(v.Bytes, o.Bytes)
	default:
		return true
	}
}

// Field — именованное поле
type Field struct {
	Name  string
	Value Value
}

// Fields — упорядоченный набор полей (порядок задан форматом провода)
type Fields []Field

// Get возвращает значение поля по имени
func (f Fields) Get(name string) (Value, bool) {
	for _, fd := range f {
		if fd.Name == name {
			return fd.Value, true
		}
	}
	return Value{}, false
}

// Set заменяет значение поля или добавляет его в конец
func (f *Fields) Set(name string, v Value) {
	for i := range *f {
		if (*f)[i].Name == name {
			(*f)[i].Value = v
			return
		}
	}
	*f = append(*f, Field{Name: name, Value: v})
}

// Names возвращает имена полей в порядке провода
func (f Fields) Names() []string {
	names := make([]string, len(f))
	for i, fd := range f {
		names[i] = fd.Name
	}
	return names
}

// Equal сравнивает наборы полей с учётом порядка
func (f Fields) Equal(o Fields) bool {
	if len(f) != len(o) {
		return false
	}
	for i := range f {
		if f[i].Name != o[i].Name || !f[i].Value.Equal(o[i].Value) {
			return false
		}
	}
	return true
}

func (f Fields) float(name string) float64 {
	v, ok := f.Get(name)
	if !ok {
		return 0
	}
	x, _ := v.AsFloat()
	return x
}

func (f Fields) int(name string) int64 {
	v, ok := f.Get(name)
	if !ok {
		return 0
	}
	if x, ok := v.AsInt(); ok {
		return x
	}
	x, _ := v.AsFloat()
	return int64(x)
}

func (f Fields) uint(name string) uint64 {
	v, ok := f.Get(name)
	if !ok {
		return 0
	}
	if v.Kind == KindUint {
		return v.Uint
	}
	x, _ := v.AsInt()
	if x < 0 {
		return 0
	}
	return uint64(x)
}

// Native — значение как int64/uint64/float64/string для JSON и событий
func (v Value) Native() any {
	switch v.Kind {
	case KindInt:
		return v.Int
	case KindUint:
		return v.Uint
	case KindFloat:
		return v.Float
	case KindBytes:
		return string(v.Bytes)
	default:
		return nil
	}
}
