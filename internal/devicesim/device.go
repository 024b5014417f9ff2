// Package devicesim — программная модель IMU/GNSS модуля для тестов: отвечает на ASCII
// команды поверх connection.Memory, хранит конфигурацию RAM/flash и выдаёт телеметрию.
package devicesim

import (
	"fmt"
	"sort"
	"strconv"
	"sync"

	"github.com/shiwa/imulink/internal/connection"
	"github.com/shiwa/imulink/internal/message"
	"github.com/shiwa/imulink/internal/scheme"
)

// Device — симулированный модуль
type Device struct {
	mu sync.Mutex

	// ControlBaud — скорость, на которой отвечает порт команд; 0 — любая
	ControlBaud int
	// PingCode — код в ответе PNG на порту команд (0 старые/не-X3, 2 X3)
	PingCode int
	// X3 — порт данных тоже отвечает на PNG кодом 1
	X3 bool
	// Output подменяет кадр телеметрии; nil — IMU в формате mfm
	Output func() []byte

	identity map[message.Type]string
	ram      map[string]string
	flash    map[string]string
	vehicle  map[string]string

	injected []message.ErrorCode
	silent   int
	resets   []int
	odometer []float64
	requests []message.Type
	unlocked bool
	timeMs   float64
}

// New создаёт модуль с заводской конфигурацией
func New() *Device {
	d := &Device{
		identity: map[message.Type]string{
			message.TypeVER: "1.4.0",
			message.TypeSER: "2100001",
			message.TypePID: "IMU+",
			message.TypeIHW: "4",
			message.TypeFHW: "2",
			message.TypeFSN: "31337",
		},
		ram:     map[string]string{},
		flash:   map[string]string{},
		vehicle: map[string]string{"x_gnss": "0.0", "y_gnss": "0.0", "z_gnss": "0.0"},
	}
	for k, v := range map[string]string{
		"odr": "100", "mfm": "1", "uart": "on", "odo": "off",
		"bau": "921600", "bau_input": "921600",
	} {
		d.ram[k] = v
		d.flash[k] = v
	}
	return d
}

// SetIdentity задаёт ответ на VER/SER/PID/IHW/FHW/FSN
func (d *Device) SetIdentity(t message.Type, value string) {
	d.mu.Lock()
	d.identity[t] = value
	d.mu.Unlock()
}

// SetConfig пишет значение сразу в RAM и flash
func (d *Device) SetConfig(name, value string) {
	d.mu.Lock()
	d.ram[name] = value
	d.flash[name] = value
	d.mu.Unlock()
}

// Forget удаляет параметр: модуль будет отвечать на него ERR 7, как старая прошивка
func (d *Device) Forget(name string) {
	d.mu.Lock()
	delete(d.ram, name)
	delete(d.flash, name)
	d.mu.Unlock()
}

// RAM возвращает значение из RAM
func (d *Device) RAM(name string) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.ram[name]
}

// Flash возвращает значение из flash
func (d *Device) Flash(name string) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.flash[name]
}

// InjectErrors ставит в очередь ответы ERR с заданными кодами на следующие команды
func (d *Device) InjectErrors(codes ...message.ErrorCode) {
	d.mu.Lock()
	d.injected = append(d.injected, codes...)
	d.mu.Unlock()
}

// DropResponses — следующие n команд остаются без ответа
func (d *Device) DropResponses(n int) {
	d.mu.Lock()
	d.silent += n
	d.mu.Unlock()
}

// Requests — типы всех полученных команд по порядку
func (d *Device) Requests() []message.Type {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]message.Type(nil), d.requests...)
}

// Count — сколько раз получена команда типа t
func (d *Device) Count(t message.Type) int {
	n := 0
	for _, r := range d.Requests() {
		if r == t {
			n++
		}
	}
	return n
}

// Resets — коды полученных RST
func (d *Device) Resets() []int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]int(nil), d.resets...)
}

// Odometer — полученные скорости ODO
func (d *Device) Odometer() []float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]float64(nil), d.odometer...)
}

// Unlocked — получена команда UNL
func (d *Device) Unlocked() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.unlocked
}

// Outputting — модуль выдаёт телеметрию на порт данных
func (d *Device) Outputting() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.ram["uart"] != "off" && d.ram["odr"] != "0"
}

// Responder возвращает обработчик для порта команд
func (d *Device) Responder() connection.Responder {
	return func(written []byte, baud int) []byte {
		if d.ControlBaud != 0 && baud != d.ControlBaud {
			// на чужой скорости модуль видит мусор и молчит
			return nil
		}
		return d.respond(written, d.PingCode)
	}
}

func (d *Device) respond(written []byte, pingCode int) []byte {
	req := scheme.ASCII{}.Parse(written)
	d.mu.Lock()
	d.requests = append(d.requests, req.Type)
	if d.silent > 0 {
		d.silent--
		d.mu.Unlock()
		return nil
	}
	if len(d.injected) > 0 {
		code := d.injected[0]
		d.injected = d.injected[1:]
		d.mu.Unlock()
		return errFrame(code)
	}
	d.mu.Unlock()

	if !req.Valid {
		switch req.Reason {
		case message.ReasonChecksum:
			return errFrame(message.ErrChecksum)
		case message.ReasonTalker:
			return errFrame(message.ErrTalker)
		case message.ReasonUnknownType:
			return errFrame(message.ErrMessageType)
		default:
			return errFrame(message.ErrIncomplete)
		}
	}
	resp := d.Handle(req, pingCode)
	if resp == nil {
		return nil
	}
	frame, err := scheme.ASCII{}.Encode(resp)
	if err != nil {
		return errFrame(message.ErrField)
	}
	return frame
}

// Handle выполняет разобранную команду и возвращает ответ (nil — без ответа)
func (d *Device) Handle(req *message.Message, pingCode int) *message.Message {
	d.mu.Lock()
	defer d.mu.Unlock()
	switch req.Type {
	case message.TypePNG:
		if pingCode == message.PingLegacy {
			return message.New(message.TypePNG)
		}
		return message.New(message.TypePNG, message.Field{Name: "code", Value: message.Int(int64(pingCode))})
	case message.TypeVER, message.TypeSER, message.TypePID:
		return message.New(req.Type, message.Field{Name: fieldName(req.Type), Value: message.String(d.identity[req.Type])})
	case message.TypeIHW, message.TypeFHW, message.TypeFSN:
		n, _ := strconv.ParseInt(d.identity[req.Type], 10, 64)
		return message.New(req.Type, message.Field{Name: fieldName(req.Type), Value: message.Int(n)})
	case message.TypeSTA:
		return message.NewKeyValue(message.TypeSTA, message.Entry("ins", "ok"), message.Entry("gnss", "fix"))
	case message.TypeECH:
		return req
	case message.TypeUNL:
		d.unlocked = true
		return message.New(message.TypeUNL, message.Field{Name: "locked", Value: message.String("0")})
	case message.TypeRST:
		code, _ := req.Get("code")
		c, _ := code.AsInt()
		d.resets = append(d.resets, int(c))
		if c == 0 {
			for k, v := range d.flash {
				d.ram[k] = v
			}
		}
		if c == 3 {
			return message.New(message.TypeRST, message.Field{Name: "code", Value: message.Int(3)})
		}
		return nil
	case message.TypeODO:
		v, _ := req.Get("speed")
		s, _ := v.AsFloat()
		d.odometer = append(d.odometer, s)
		return nil
	case message.TypeCFG:
		return d.config(req, message.TypeCFG, d.ram, d.flash)
	case message.TypeVEH:
		return d.config(req, message.TypeVEH, d.vehicle, d.vehicle)
	default:
		return errMessage(message.ErrMessageType)
	}
}

func (d *Device) config(req *message.Message, t message.Type, ram, flash map[string]string) *message.Message {
	c, ok := req.Config()
	if !ok || !c.Mode.Valid() {
		return errMessage(message.ErrNoReadWrite)
	}
	store := ram
	if c.Mode.IsFlash() {
		store = flash
	}
	if c.Mode.IsWrite() {
		var out []message.ConfigEntry
		for _, e := range c.Entries {
			if e.Value == nil {
				return errMessage(message.ErrValue)
			}
			if _, known := store[e.Name]; !known {
				return errMessage(message.ErrField)
			}
			store[e.Name] = string(e.Value)
			if c.Mode == message.WriteFlash && t == message.TypeCFG {
				// запись во flash также применяется к RAM
				ram[e.Name] = string(e.Value)
			}
			out = append(out, e)
		}
		return message.NewConfig(t, c.Mode, out...)
	}
	// запрос чтения: имена идут подряд, разбор мог склеить их в пары
	var names []string
	for _, e := range c.Entries {
		names = append(names, e.Name)
		if e.Value != nil {
			names = append(names, string(e.Value))
		}
	}
	if len(names) == 0 {
		for k := range store {
			names = append(names, k)
		}
		sort.Strings(names)
	}
	var out []message.ConfigEntry
	for _, n := range names {
		v, known := store[n]
		if !known {
			return errMessage(message.ErrField)
		}
		out = append(out, message.Entry(n, v))
	}
	return message.NewConfig(t, c.Mode, out...)
}

func fieldName(t message.Type) string {
	switch t {
	case message.TypeVER:
		return "ver"
	case message.TypeSER:
		return "ser"
	case message.TypePID:
		return "pid"
	case message.TypeIHW:
		return "ihw"
	case message.TypeFHW:
		return "fhw"
	default:
		return "fsn"
	}
}

func errMessage(code message.ErrorCode) *message.Message {
	return message.New(message.TypeERR, message.Field{Name: "err", Value: message.Int(int64(code))})
}

func errFrame(code message.ErrorCode) []byte {
	frame, err := scheme.ASCII{}.Encode(errMessage(code))
	if err != nil {
		panic(fmt.Sprintf("devicesim: encode ERR: %v", err))
	}
	return frame
}

// NextOutput собирает следующий кадр телеметрии в текущем формате (mfm)
func (d *Device) NextOutput() []byte {
	d.mu.Lock()
	d.timeMs += 10
	ts := d.timeMs
	mfm := d.ram["mfm"]
	out := d.Output
	d.mu.Unlock()
	if out != nil {
		return out()
	}

	imu := message.New(message.TypeIMU,
		message.Field{Name: "imu_time_ms", Value: message.Float(ts)},
		message.Field{Name: "accel_x_g", Value: message.Float(0.01)},
		message.Field{Name: "accel_y_g", Value: message.Float(-0.02)},
		message.Field{Name: "accel_z_g", Value: message.Float(1)},
		message.Field{Name: "angrate_x_dps", Value: message.Float(0.1)},
		message.Field{Name: "angrate_y_dps", Value: message.Float(0.2)},
		message.Field{Name: "angrate_z_dps", Value: message.Float(0.3)},
		message.Field{Name: "fog_angrate_z_dps", Value: message.Float(0.25)},
		message.Field{Name: "odometer_speed_mps", Value: message.Float(0)},
		message.Field{Name: "odometer_time_ms", Value: message.Float(0)},
		message.Field{Name: "temperature_c", Value: message.Float(31.5)},
	)
	var (
		frame []byte
		err   error
	)
	if mfm == "0" {
		imu.Fields = message.Fields{
			{Name: "imu_time_ns", Value: message.Uint(uint64(ts * 1e6))},
			{Name: "accel_x_g", Value: message.Float(0.01)},
			{Name: "accel_y_g", Value: message.Float(-0.02)},
			{Name: "accel_z_g", Value: message.Float(1)},
			{Name: "angrate_x_dps", Value: message.Float(0.1)},
			{Name: "angrate_y_dps", Value: message.Float(0.2)},
			{Name: "angrate_z_dps", Value: message.Float(0.3)},
			{Name: "fog_angrate_z_dps", Value: message.Float(0.25)},
			{Name: "temperature_c", Value: message.Float(31.5)},
		}
		frame, err = scheme.Binary{}.Encode(imu)
	} else {
		frame, err = scheme.ASCII{}.Encode(imu)
	}
	if err != nil {
		panic(fmt.Sprintf("devicesim: encode IMU: %v", err))
	}
	return frame
}
