package message

// ConfigMode — режим доступа к конфигурации в CFG/VEH
type ConfigMode byte

const (
	ReadRAM    ConfigMode = 'r'
	WriteRAM   ConfigMode = 'w'
	ReadFlash  ConfigMode = 'R'
	WriteFlash ConfigMode = 'W'
)

// IsWrite — режим записи
func (m ConfigMode) IsWrite() bool { return m == WriteRAM || m == WriteFlash }

// IsFlash — режим работы с flash
func (m ConfigMode) IsFlash() bool { return m == ReadFlash || m == WriteFlash }

// Valid — один из четырёх допустимых режимов
func (m ConfigMode) Valid() bool {
	return m == ReadRAM || m == WriteRAM || m == ReadFlash || m == WriteFlash
}

// ConfigEntry — пара имя/значение; Value == nil означает запрос только по имени
type ConfigEntry struct {
	Name  string
	Value []byte
}

// Entry — сокращение для пары со строковым значением
func Entry(name, value string) ConfigEntry {
	return ConfigEntry{Name: name, Value: []byte(value)}
}

// Config — содержимое CFG/VEH/INI/UPD/STA
type Config struct {
	Mode    ConfigMode // 0 для типов без режима
	Entries []ConfigEntry
}

// Lookup возвращает значение по имени
func (c Config) Lookup(name string) ([]byte, bool) {
	for _, e := range c.Entries {
		if e.Name == name {
			return e.Value, e.Value != nil
		}
	}
	return nil, false
}

// Map возвращает пары как строки
func (c Config) Map() map[string]string {
	m := make(map[string]string, len(c.Entries))
	for _, e := range c.Entries {
		m[e.Name] = string(e.Value)
	}
	return m
}

// NewConfig собирает CFG/VEH сообщение
func NewConfig(t Type, mode ConfigMode, entries ...ConfigEntry) *Message {
	m := New(t, Field{Name: "mode", Value: Value{Kind: KindBytes, Bytes: []byte{byte(mode)}}})
	appendEntries(m, entries)
	return m
}

// NewConfigRead собирает запрос чтения; пустой список имён — прочитать всё
func NewConfigRead(t Type, mode ConfigMode, names ...string) *Message {
	entries := make([]ConfigEntry, len(names))
	for i, n := range names {
		entries[i] = ConfigEntry{Name: n}
	}
	return NewConfig(t, mode, entries...)
}

// NewKeyValue собирает INI/UPD сообщение (пары без режима)
func NewKeyValue(t Type, entries ...ConfigEntry) *Message {
	m := New(t)
	appendEntries(m, entries)
	return m
}

func appendEntries(m *Message, entries []ConfigEntry) {
	for _, e := range entries {
		if e.Value == nil {
			m.Fields = append(m.Fields, Field{Name: e.Name, Value: None()})
			continue
		}
		m.Fields = append(m.Fields, Field{Name: e.Name, Value: Bytes(e.Value)})
	}
}

// Config возвращает пары имя/значение для key-value типов
func (m *Message) Config() (Config, bool) {
	if m == nil || !m.Valid || !IsKeyValue(m.Type) {
		return Config{}, false
	}
	var c Config
	fields := m.Fields
	if HasMode(m.Type) {
		if len(fields) == 0 || fields[0].Name != "mode" || len(fields[0].Value.Bytes) != 1 {
			return Config{}, false
		}
		c.Mode = ConfigMode(fields[0].Value.Bytes[0])
		fields = fields[1:]
	}
	for _, f := range fields {
		e := ConfigEntry{Name: f.Name}
		if f.Value.Kind != KindNone {
			e.Value = []byte(f.Value.Text())
		}
		c.Entries = append(c.Entries, e)
	}
	return c, true
}

// Коды ответа PNG
const (
	PingLegacy     = 0 // старые устройства и не-X3 продукты
	PingDataPort   = 1 // X3, порт данных
	PingConfigPort = 2 // X3, порт конфигурации
)

// Ping — ответ на PNG
type Ping struct {
	Code int
}

// IsControlPort — ответ пришёл с порта, пригодного для команд
func (p Ping) IsControlPort() bool { return p.Code != PingDataPort }

// IsDataPort — ответ пришёл с порта, пригодного для данных
func (p Ping) IsDataPort() bool { return p.Code != PingConfigPort }

// NewPing собирает запрос PNG
func NewPing() *Message { return New(TypePNG) }

// Ping возвращает ответ PNG; у ответа без кода — код 0
func (m *Message) Ping() (Ping, bool) {
	if !m.Is(TypePNG) {
		return Ping{}, false
	}
	return Ping{Code: int(m.Fields.int("code"))}, true
}

// NewRequest собирает запрос без полей (VER, SER, PID, IHW, FHW, FSN, STA)
func NewRequest(t Type) *Message { return New(t) }

// NewReset собирает RST с кодом (0 — обычный, 2 — загрузчик, 3 — применить таблицы)
func NewReset(code int) *Message {
	return New(TypeRST, Field{Name: "code", Value: Int(int64(code))})
}

// NewOdometer собирает ODO со скоростью
func NewOdometer(speed float64) *Message {
	return New(TypeODO, Field{Name: "speed", Value: Float(speed)})
}

// NewEcho собирает ECH
func NewEcho(contents string) *Message {
	return New(TypeECH, Field{Name: "contents", Value: String(contents)})
}

// NewUnlock собирает UNL с кодом разблокировки
func NewUnlock(code string) *Message {
	return New(TypeUNL, Field{Name: "locked", Value: String(code)})
}

// DeviceError возвращает код ошибки из ERR
func (m *Message) DeviceError() (ErrorCode, bool) {
	if !m.Is(TypeERR) {
		return 0, false
	}
	return ErrorCode(m.Fields.int("err")), true
}

// IMU — инерциальные измерения (IMU, IM1, X3 IMU)
type IMU struct {
	TimeMs         float64
	SyncTimeMs     float64
	Accel          [3]float64 // g
	Rate           [3]float64 // deg/s MEMS
	FOGRate        [3]float64 // deg/s FOG
	OdometerSpeed  float64
	OdometerTimeMs float64
	TemperatureC   float64
	Mag            [3]float64 // Gauss, только X3
}

// IMU возвращает типизированную запись IMU/IM1
func (m *Message) IMU() (IMU, bool) {
	if !m.Is(TypeIMU) && !m.Is(TypeIM1) {
		return IMU{}, false
	}
	f := m.Fields
	return IMU{
		TimeMs:         f.float("imu_time_ms"),
		SyncTimeMs:     f.float("sync_time_ms"),
		Accel:          [3]float64{f.float("accel_x_g"), f.float("accel_y_g"), f.float("accel_z_g")},
		Rate:           [3]float64{f.float("angrate_x_dps"), f.float("angrate_y_dps"), f.float("angrate_z_dps")},
		FOGRate:        [3]float64{f.float("fog_angrate_x_dps"), f.float("fog_angrate_y_dps"), f.float("fog_angrate_z_dps")},
		OdometerSpeed:  f.float("odometer_speed_mps"),
		OdometerTimeMs: f.float("odometer_time_ms"),
		TemperatureC:   f.float("temperature_c"),
		Mag:            [3]float64{f.float("mag_x"), f.float("mag_y"), f.float("mag_z")},
	}, true
}

// INS — навигационное решение
type INS struct {
	TimeMs         float64
	GPSTimeNs      uint64
	SolutionStatus int
	Lat, Lon, Alt  float64
	VelocityNED    [3]float64
	Roll, Pitch    float64
	Heading        float64
	ZUPT           bool
}

// INS возвращает типизированную запись INS
func (m *Message) INS() (INS, bool) {
	if !m.Is(TypeINS) {
		return INS{}, false
	}
	f := m.Fields
	status := f.int("ins_solution_status")
	if _, ok := f.Get("ins_solution_status"); !ok {
		status = f.int("ins_solution_status_and_gps_used") & 0x0F
	}
	return INS{
		TimeMs:         f.float("imu_time_ms"),
		GPSTimeNs:      f.uint("gps_time_ns"),
		SolutionStatus: int(status),
		Lat:            f.float("lat_deg"),
		Lon:            f.float("lon_deg"),
		Alt:            f.float("alt_m"),
		VelocityNED:    [3]float64{f.float("velocity_north_mps"), f.float("velocity_east_mps"), f.float("velocity_down_mps")},
		Roll:           f.float("roll_deg"),
		Pitch:          f.float("pitch_deg"),
		Heading:        f.float("heading_deg"),
		ZUPT:           f.int("zupt_flag") != 0,
	}, true
}

// GPS — решение GNSS (GPS — первая антенна, GP2 — вторая)
type GPS struct {
	TimeMs             float64
	GPSTimeNs          uint64
	Lat, Lon           float64
	AltEllipsoid       float64
	AltMSL             float64
	Speed, Heading     float64
	AccuracyHorizontal float64
	AccuracyVertical   float64
	PDOP               float64
	FixType            int
	NumSats            int
	CarrierSolution    int
}

// GPS возвращает типизированную запись GPS/GP2
func (m *Message) GPS() (GPS, bool) {
	if !m.Is(TypeGPS) && !m.Is(TypeGP2) {
		return GPS{}, false
	}
	f := m.Fields
	return GPS{
		TimeMs:             f.float("imu_time_ms"),
		GPSTimeNs:          f.uint("gps_time_ns"),
		Lat:                f.float("lat_deg"),
		Lon:                f.float("lon_deg"),
		AltEllipsoid:       f.float("alt_ellipsoid_m"),
		AltMSL:             f.float("alt_msl_m"),
		Speed:              f.float("speed_mps"),
		Heading:            f.float("heading_deg"),
		AccuracyHorizontal: f.float("accuracy_horizontal_m"),
		AccuracyVertical:   f.float("accuracy_vertical_m"),
		PDOP:               f.float("PDOP"),
		FixType:            int(f.int("gnss_fix_type")),
		NumSats:            int(f.int("num_sats")),
		CarrierSolution:    int(f.int("carrier_solution_status")),
	}, true
}

// Heading — курс по двум антеннам (HDG)
type Heading struct {
	TimeMs     float64
	GPSTimeNs  uint64
	RelPosNED  [3]float64
	Length     float64
	Heading    float64
	LengthAcc  float64
	HeadingAcc float64
	Flags      uint16
}

// Heading возвращает типизированную запись HDG
func (m *Message) Heading() (Heading, bool) {
	if !m.Is(TypeHDG) {
		return Heading{}, false
	}
	f := m.Fields
	return Heading{
		TimeMs:     f.float("imu_time_ms"),
		GPSTimeNs:  f.uint("gps_time_ns"),
		RelPosNED:  [3]float64{f.float("relPosN_m"), f.float("relPosE_m"), f.float("relPosD_m")},
		Length:     f.float("relPosLen_m"),
		Heading:    f.float("relPosHeading_deg"),
		LengthAcc:  f.float("relPosLenAcc_m"),
		HeadingAcc: f.float("relPosHeadingAcc_deg"),
		Flags:      uint16(f.int("flags")),
	}, true
}

// AHRS — ориентация
type AHRS struct {
	TimeMs  float64
	Roll    float64
	Pitch   float64
	Heading float64
	ZUPT    bool
}

// AHRS возвращает типизированную запись AHRS
func (m *Message) AHRS() (AHRS, bool) {
	if !m.Is(TypeAHRS) {
		return AHRS{}, false
	}
	f := m.Fields
	return AHRS{
		TimeMs:  f.float("imu_time_ms"),
		Roll:    f.float("roll_deg"),
		Pitch:   f.float("pitch_deg"),
		Heading: f.float("heading_deg"),
		ZUPT:    f.int("zupt_flag") != 0,
	}, true
}
