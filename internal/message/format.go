package message

// Width — размер и знаковость поля binary кадра (little-endian)
type Width uint8

const (
	WidthNone Width = iota
	Int8
	Uint8
	Int16
	Uint16
	Int32
	Uint32
	Int64
	Uint64
	Float32
	Float64
)

// Size возвращает размер поля в байтах
func (w Width) Size() int {
	switch w {
	case Int8, Uint8:
		return 1
	case Int16, Uint16:
		return 2
	case Int32, Uint32, Float32:
		return 4
	case Int64, Uint64, Float64:
		return 8
	default:
		return 0
	}
}

// Signed — true для знаковых целых
func (w Width) Signed() bool {
	return w == Int8 || w == Int16 || w == Int32 || w == Int64
}

// IsFloat — true для IEEE полей
func (w Width) IsFloat() bool {
	return w == Float32 || w == Float64
}

// FieldSpec — описание поля в таблице формата
type FieldSpec struct {
	Name  string
	Kind  Kind    // ASCII: KindInt, KindFloat, KindBytes
	Width Width   // Binary
	Scale float64 // 0 — без масштабирования
}

// Format — упорядоченный список полей одного типа сообщения
type Format []FieldSpec

// PayloadSize — суммарный размер binary полезной нагрузки
func (f Format) PayloadSize() int {
	n := 0
	for _, s := range f {
		n += s.Width.Size()
	}
	return n
}

func af(name string) FieldSpec { return FieldSpec{Name: name, Kind: KindFloat} }
func ai(name string) FieldSpec { return FieldSpec{Name: name, Kind: KindInt} }
func ab(name string) FieldSpec { return FieldSpec{Name: name, Kind: KindBytes} }

func bf(name string, w Width, scale float64) FieldSpec {
	return FieldSpec{Name: name, Width: w, Scale: scale}
}

func bw(name string, w Width) FieldSpec { return FieldSpec{Name: name, Width: w} }

// ASCII форматы. Для IMU и INS несколько вариантов, различаются числом полей.
var (
	asciiIMUNoSync = Format{
		af("imu_time_ms"), af("accel_x_g"), af("accel_y_g"), af("accel_z_g"),
		af("angrate_x_dps"), af("angrate_y_dps"), af("angrate_z_dps"), af("fog_angrate_z_dps"),
		af("odometer_speed_mps"), af("odometer_time_ms"), af("temperature_c"),
	}
	asciiIMUWithSync = Format{
		af("imu_time_ms"), af("sync_time_ms"), af("accel_x_g"), af("accel_y_g"), af("accel_z_g"),
		af("angrate_x_dps"), af("angrate_y_dps"), af("angrate_z_dps"), af("fog_angrate_z_dps"),
		af("odometer_speed_mps"), af("odometer_time_ms"), af("temperature_c"),
	}
	asciiIMU3FOG = Format{
		af("imu_time_ms"), af("accel_x_g"), af("accel_y_g"), af("accel_z_g"),
		af("angrate_x_dps"), af("angrate_y_dps"), af("angrate_z_dps"),
		af("fog_angrate_x_dps"), af("fog_angrate_y_dps"), af("fog_angrate_z_dps"),
		af("odometer_speed_mps"), af("odometer_time_ms"), af("temperature_c"),
	}
	asciiIM1 = Format{
		af("imu_time_ms"), af("sync_time_ms"), af("accel_x_g"), af("accel_y_g"), af("accel_z_g"),
		af("angrate_x_dps"), af("angrate_y_dps"), af("angrate_z_dps"), af("fog_angrate_z_dps"),
		af("temperature_c"),
	}
	asciiGPS = Format{
		af("imu_time_ms"), ai("gps_time_ns"), af("lat_deg"), af("lon_deg"),
		af("alt_ellipsoid_m"), af("alt_msl_m"), af("speed_mps"), af("heading_deg"),
		af("accuracy_horizontal_m"), af("accuracy_vertical_m"), af("PDOP"),
		ai("gnss_fix_type"), ai("num_sats"), af("speed_accuracy_mps"), af("heading_accuracy_deg"),
		ai("carrier_solution_status"),
	}
	asciiINS = Format{
		ai("imu_time_ms"), ai("gps_time_ns"), ai("ins_solution_status"),
		af("lat_deg"), af("lon_deg"), af("alt_m"),
		af("velocity_north_mps"), af("velocity_east_mps"), af("velocity_down_mps"),
		af("roll_deg"), af("pitch_deg"), af("heading_deg"), ai("zupt_flag"),
	}
	// старые прошивки A-1 вставляют лишнюю запятую, пока позиция не инициализирована
	asciiINSExtraComma = Format{
		ai("imu_time_ms"), ai("gps_time_ns"), ab("extra_comma"), ai("ins_solution_status"),
		af("lat_deg"), af("lon_deg"), af("alt_m"),
		af("velocity_north_mps"), af("velocity_east_mps"), af("velocity_down_mps"),
		af("roll_deg"), af("pitch_deg"), af("heading_deg"), ai("zupt_flag"),
	}
	asciiHDG = Format{
		af("imu_time_ms"), ai("gps_time_ns"),
		af("relPosN_m"), af("relPosE_m"), af("relPosD_m"), af("relPosLen_m"),
		af("relPosHeading_deg"), af("relPosLenAcc_m"), af("relPosHeadingAcc_deg"),
		ai("flags"),
	}
)

var asciiFormats = map[Type][]Format{
	TypeIMU: {asciiIMUNoSync, asciiIMUWithSync, asciiIMU3FOG},
	TypeIM1: {asciiIM1},
	TypeGPS: {asciiGPS},
	TypeGP2: {asciiGPS},
	TypeINS: {asciiINS, asciiINSExtraComma},
	TypeHDG: {asciiHDG},
	TypeODO: {{af("speed")}},
	TypeUNL: {{ab("locked")}},
	TypeVER: {{ab("ver")}},
	TypeSER: {{ab("ser")}},
	TypePID: {{ab("pid")}},
	TypeIHW: {{ai("ihw")}},
	TypeFHW: {{ai("fhw")}},
	TypeFSN: {{ai("fsn")}},
	TypeERR: {{ai("err")}},
	TypeRST: {{ai("code")}},
	TypePNG: {{ai("code")}},
	TypeECH: {{ab("contents")}},
}

// типы вида [mode,]name[,value],name[,value]...
var keyValueTypes = map[Type]bool{
	TypeCFG: true,
	TypeVEH: true,
	TypeINI: true,
	TypeUPD: true,
	TypeSTA: true,
}

// типы, у которых первое поле — режим r/w/R/W
var modeTypes = map[Type]bool{
	TypeCFG: true,
	TypeVEH: true,
}

// ASCIIFormats возвращает варианты ASCII формата типа
func ASCIIFormats(t Type) ([]Format, bool) {
	f, ok := asciiFormats[t]
	return f, ok
}

// IsKeyValue — тип несёт пары имя/значение вместо фиксированных полей
func IsKeyValue(t Type) bool { return keyValueTypes[t] }

// HasMode — первое поле типа — режим доступа к конфигурации
func HasMode(t Type) bool { return modeTypes[t] }

// IsKnownASCII — тип допустим в ASCII кодировке
func IsKnownASCII(t Type) bool {
	_, ok := asciiFormats[t]
	return ok || keyValueTypes[t]
}

// Числовые типы binary кадров
const (
	BinaryIMU   uint8 = 2
	BinaryGPS   uint8 = 3
	BinaryGP2   uint8 = 4
	BinaryHDG   uint8 = 5
	BinaryINS   uint8 = 6
	BinaryINF   uint8 = 7
	BinaryAHRS  uint8 = 10
	BinaryX3IMU uint8 = 253
)

const (
	accelScale = 0.0000305
	rateScale  = 0.000035
	x3FOGScale = 1.0 / 2147483647.0
)

var (
	binaryIMU = Format{
		bw("imu_time_ns", Uint64), bw("sync_time_ns", Uint64), bw("odometer_time_ns", Uint64),
		bf("accel_x_g", Int16, accelScale), bf("accel_y_g", Int16, accelScale), bf("accel_z_g", Int16, accelScale),
		bf("angrate_x_dps", Int16, rateScale), bf("angrate_y_dps", Int16, rateScale), bf("angrate_z_dps", Int16, rateScale),
		bf("fog_angrate_z_dps", Int32, 1.0/10000000.0),
		bf("odometer_speed_mps", Int16, 1.0/100),
		bf("temperature_c", Int16, 1.0/100),
		bw("mems_ranges", Uint16), bw("fog_range", Uint16),
	}
	binaryINS = Format{
		bw("imu_time_ns", Uint64), bw("gps_time_ns", Uint64),
		bf("lat_deg", Int32, 1.0/10000000), bf("lon_deg", Int32, 1.0/10000000), bf("alt_m", Int32, 1.0/100),
		bf("velocity_north_mps", Int16, 1.0/100), bf("velocity_east_mps", Int16, 1.0/100), bf("velocity_down_mps", Int16, 1.0/100),
		bf("roll_deg", Int16, 1.0/100), bf("pitch_deg", Int16, 1.0/100), bf("heading_deg", Int16, 1.0/100),
		bw("zupt_flag", Uint8), bw("ins_solution_status_and_gps_used", Uint8),
	}
	binaryGPS = Format{
		bw("imu_time_ns", Uint64), bw("gps_time_ns", Uint64),
		bf("lat_deg", Int32, 1.0/10000000), bf("lon_deg", Int32, 1.0/10000000),
		bf("alt_ellipsoid_m", Int32, 1.0/100), bf("alt_msl_m", Int32, 1.0/100),
		bf("speed_mps", Int16, 1.0/100), bf("heading_deg", Int16, 1.0/100),
		bf("accuracy_horizontal_m", Uint16, 1.0/1000), bf("accuracy_vertical_m", Uint16, 1.0/1000),
		bf("PDOP", Uint16, 1.0/100),
		bf("speed_accuracy_mps", Uint16, 1.0/1000), bf("heading_accuracy_deg", Uint16, 1.0/100),
		bw("num_sats", Uint8), bw("carrsoln_and_fix", Uint8),
	}
	binaryHDG = Format{
		bw("imu_time_ns", Uint64), bw("gps_time_ns", Uint64),
		bf("relPosN_m", Int16, 1.0/100), bf("relPosE_m", Int16, 1.0/100), bf("relPosD_m", Int16, 1.0/100),
		bf("relPosLen_m", Int16, 1.0/100), bf("relPosHeading_deg", Int16, 1.0/100),
		bf("relPosLenAcc_m", Uint16, 1.0/10000), bf("relPosHeadingAcc_deg", Uint16, 1.0/100),
		bw("flags", Uint16),
	}
	binaryX3IMU = Format{
		bw("imu_time_ns", Uint64), bw("sync_time_ns", Uint64),
		bf("accel_x_g", Int16, accelScale), bf("accel_y_g", Int16, accelScale), bf("accel_z_g", Int16, accelScale),
		bf("angrate_x_dps", Int16, rateScale), bf("angrate_y_dps", Int16, rateScale), bf("angrate_z_dps", Int16, rateScale),
		bf("fog_angrate_x_dps", Int32, x3FOGScale), bf("fog_angrate_y_dps", Int32, x3FOGScale), bf("fog_angrate_z_dps", Int32, x3FOGScale),
		bf("mag_x", Int16, 1.0/4096), bf("mag_y", Int16, 1.0/4096), bf("mag_z", Int16, 1.0/4096),
		bf("temperature_c", Int16, 1.0/100),
		bw("mems_ranges", Uint16), bw("fog_range", Uint16), bw("status_info", Uint16),
	}
	binaryAHRS = Format{
		bw("imu_time_ns", Uint64), bw("sync_time_ns", Uint64),
		bw("roll_deg", Float32), bw("pitch_deg", Float32), bw("heading_deg", Float32),
		bw("zupt_flag", Uint8),
	}
)

// BinaryFormat — формат binary кадра и эквивалентный ASCII тип
type BinaryFormat struct {
	Type   Type
	Fields Format
}

var binaryFormats = map[uint8]BinaryFormat{
	BinaryIMU:   {TypeIMU, binaryIMU},
	BinaryGPS:   {TypeGPS, binaryGPS},
	BinaryGP2:   {TypeGP2, binaryGPS},
	BinaryHDG:   {TypeHDG, binaryHDG},
	BinaryINS:   {TypeINS, binaryINS},
	BinaryAHRS:  {TypeAHRS, binaryAHRS},
	BinaryX3IMU: {TypeIMU, binaryX3IMU},
}

// BinaryFormatFor возвращает формат по числовому типу кадра
func BinaryFormatFor(id uint8) (BinaryFormat, bool) {
	f, ok := binaryFormats[id]
	return f, ok
}

// BinaryIDFor возвращает числовой тип для ASCII тега (для IMU — обычный, не X3)
func BinaryIDFor(t Type) (uint8, bool) {
	switch t {
	case TypeIMU:
		return BinaryIMU, true
	case TypeGPS:
		return BinaryGPS, true
	case TypeGP2:
		return BinaryGP2, true
	case TypeHDG:
		return BinaryHDG, true
	case TypeINS:
		return BinaryINS, true
	case TypeAHRS:
		return BinaryAHRS, true
	}
	return 0, false
}
