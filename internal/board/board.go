// Package board — сессия с IMU/GNSS модулем: порт команд, порт данных и порт одометра,
// протокол команда/ответ с повторами, конфигурация RAM/flash и выбор кодировки данных.
package board

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/shiwa/imulink/internal/connection"
	"github.com/shiwa/imulink/internal/logger"
	"github.com/shiwa/imulink/internal/message"
	"github.com/shiwa/imulink/internal/scheme"
)

// Допустимые скорости в порядке предпочтения при подборе
var AllowedBauds = []int{921600, 230400, 460800, 19200, 115200, 57600}

const (
	// DefaultBaud — скорость по умолчанию
	DefaultBaud = 921600
	// DefaultRetries — попыток на команду
	DefaultRetries = 6

	// TimeoutAutobaud — таймаут чтения при переборе портов и скоростей
	TimeoutAutobaud = 200 * time.Millisecond
	// TimeoutRegular — таймаут чтения в рабочей сессии
	TimeoutRegular = 400 * time.Millisecond

	// DefaultPortLatency — задержка USB-UART по умолчанию
	DefaultPortLatency = 16 * time.Millisecond
	// MaxPortLatency — наибольшая настраиваемая задержка USB-UART
	MaxPortLatency = 255 * time.Millisecond
)

// State — состояние сессии
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "unknown"
	}
}

// Product — семейство модуля по строке PID
type Product int

const (
	ProductUnknown Product = iota
	ProductEVK             // EVK и A-1: порт данных = порт команд - 3
	ProductX3              // X3: порт данных = порт команд - 1, смешанная кодировка
	ProductGNSSIMU         // GNSS/INS и IMU: порт данных ищется по выдаче
)

func (p Product) String() string {
	switch p {
	case ProductEVK:
		return "evk"
	case ProductX3:
		return "x3"
	case ProductGNSSIMU:
		return "gnss_imu"
	default:
		return "unknown"
	}
}

// DataPortOffset — смещение номера порта данных от порта команд; false — смещение не известно
func (p Product) DataPortOffset() (int, bool) {
	switch p {
	case ProductEVK:
		return -3, true
	case ProductX3:
		return -1, true
	}
	return 0, false
}

// ProductFromPID классифицирует модуль по ответу PID
func ProductFromPID(pid string) Product {
	switch {
	case pid == "":
		return ProductUnknown
	case strings.Contains(pid, "X3"):
		return ProductX3
	case strings.Contains(pid, "EVK"), strings.Contains(pid, "A1"), strings.Contains(pid, "A-1"):
		return ProductEVK
	default:
		return ProductGNSSIMU
	}
}

// Options — параметры протокола. Нулевая задержка — без паузы, Retries 0 — DefaultRetries.
type Options struct {
	Retries     int
	Settle      time.Duration // пауза между записью команды и чтением ответа
	RetryDelay  time.Duration
	ResetWait   time.Duration // пауза до и после RST
	ResetPings  int           // предел ожидания PNG после сброса
	PortLatency time.Duration // ожидание остатков при очистке порта команд
	// External — кодировка для mfm=4 (внешний декодер RTCM); nil — порт данных не разбирается
	External scheme.Scheme
	// BinaryCheck — проверка trailer двоичных кадров; nil — не проверять
	BinaryCheck scheme.TrailerCheck
}

// DefaultOptions — значения для реального модуля
func DefaultOptions() Options {
	return Options{
		Retries:     DefaultRetries,
		Settle:      100 * time.Millisecond,
		RetryDelay:  100 * time.Millisecond,
		ResetWait:   500 * time.Millisecond,
		ResetPings:  20,
		PortLatency: DefaultPortLatency,
	}
}

// Board — сессия с модулем. Команды на порт команд идут строго по одной; порт данных
// читает один владелец (задача телеметрии).
type Board struct {
	cmdMu sync.Mutex

	mu          sync.Mutex
	state       State
	control     connection.Connection
	data        connection.Connection
	odometer    connection.Connection
	controlName string
	dataName    string
	controlBaud int
	dataBaud    int
	product     Product
	format      string // значение mfm
	info        Info
	identified  bool

	controlScheme scheme.Scheme
	dataScheme    scheme.Scheme

	opts Options
	log  *logrus.Entry
}

// New создаёт сессию без соединений
func New(opts Options) *Board {
	return &Board{
		controlScheme: scheme.ASCII{},
		dataScheme:    scheme.ASCII{},
		opts:          opts,
		log:           logger.Component("board"),
	}
}

// Attach подключает уже открытые соединения. data и odometer могут быть nil.
func (b *Board) Attach(control, data, odometer connection.Connection) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if control == nil {
		control = connection.Dummy{}
	}
	if data == nil {
		data = connection.Dummy{}
	}
	b.control, b.data, b.odometer = control, data, odometer
	b.controlName, b.dataName = portName(control), portName(data)
	b.controlBaud, b.dataBaud = control.Baud(), data.Baud()
	b.state = StateConnecting
}

func portName(c connection.Connection) string {
	if c == nil || c.Kind() == connection.KindDummy {
		return ""
	}
	return c.Name()
}

// Open открывает последовательные порты и проверяет их. Пустое имя data — без порта данных.
// При неудаче на заданной скорости перебирает AllowedBauds.
func Open(opener connection.Opener, controlPort, dataPort string, controlBaud, dataBaud int, opts Options) (*Board, error) {
	if dataBaud == 0 {
		dataBaud = controlBaud
	}
	b := New(opts)
	control, err := opener(controlPort, controlBaud, TimeoutRegular)
	if err != nil {
		return nil, err
	}
	var data connection.Connection
	if dataPort != "" {
		if data, err = opener(dataPort, dataBaud, TimeoutRegular); err != nil {
			_ = control.Close()
			return nil, err
		}
	}
	b.Attach(control, data, nil)
	if !b.CheckControlPort() {
		if _, _, err := b.AutoDetectBaud(AllowedBauds); err != nil {
			b.Release()
			return nil, fmt.Errorf("connect %s: %w", controlPort, err)
		}
	}
	if _, err := b.Identify(); err != nil {
		b.log.Debugf("identify: %v", err)
	}
	if err := b.SetupDataPort(); err != nil {
		b.log.Debugf("setup data port: %v", err)
	}
	if dataPort != "" && !b.CheckDataPort() {
		b.Release()
		return nil, fmt.Errorf("connect %s: no output on data port %s", controlPort, dataPort)
	}
	b.MarkConnected()
	return b, nil
}

// FromUDP создаёт сессию поверх UDP: порты модуля data/control/odometer, локальные
// порты base+1/+2/+3. odometerPort == 0 — без канала одометра.
func FromUDP(ip string, dataPort, controlPort, odometerPort, localBase int, opts Options) (*Board, error) {
	b := New(opts)
	data, err := connection.OpenUDP(connection.UDPRemote(ip, dataPort), localBase+connection.UDPLocalData, TimeoutRegular)
	if err != nil {
		return nil, err
	}
	control, err := connection.OpenUDP(connection.UDPRemote(ip, controlPort), localBase+connection.UDPLocalConfig, TimeoutRegular)
	if err != nil {
		_ = data.Close()
		return nil, err
	}
	var odo connection.Connection
	if odometerPort != 0 {
		if odo, err = connection.OpenUDP(connection.UDPRemote(ip, odometerPort), localBase+connection.UDPLocalOdometer, TimeoutRegular); err != nil {
			_ = data.Close()
			_ = control.Close()
			return nil, err
		}
	}
	b.Attach(control, data, odo)
	if !b.CheckControlPort() {
		b.Release()
		return nil, fmt.Errorf("udp %s: no ping response", ip)
	}
	if _, err := b.Identify(); err != nil {
		b.log.Debugf("identify: %v", err)
	}
	if err := b.SetupDataPort(); err != nil {
		b.log.Debugf("setup data port: %v", err)
	}
	b.MarkConnected()
	return b, nil
}

// MarkConnected переводит сессию в Connected
func (b *Board) MarkConnected() {
	b.mu.Lock()
	b.state = StateConnected
	b.mu.Unlock()
	b.log.WithFields(logrus.Fields{"control": b.controlName, "data": b.dataName, "baud": b.controlBaud}).Info("connected")
}

// Release закрывает все соединения; сессия становится Disconnected
func (b *Board) Release() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, c := range []connection.Connection{b.data, b.control, b.odometer} {
		if c != nil {
			_ = c.Close()
		}
	}
	b.data, b.control, b.odometer = nil, nil, nil
	b.state = StateDisconnected
	b.info, b.identified = Info{}, false
}

// ReleaseData закрывает только порт данных
func (b *Board) ReleaseData() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.data != nil {
		_ = b.data.Close()
	}
	b.data = connection.Dummy{}
	b.dataName = ""
}

// DetachData передаёт соединение порта данных другому владельцу (задаче телеметрии).
// Сессия дальше видит заглушку; имя и скорость порта сохраняются.
func (b *Board) DetachData() connection.Connection {
	b.mu.Lock()
	defer b.mu.Unlock()
	c := b.data
	b.data = connection.Dummy{}
	if c == nil {
		return connection.Dummy{}
	}
	return c
}

// AttachData подключает порт данных к открытой сессии
func (b *Board) AttachData(c connection.Connection) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.data != nil && b.data.Kind() != connection.KindDummy {
		_ = b.data.Close()
	}
	b.data = c
	b.dataName = portName(c)
	if c.Baud() != 0 {
		b.dataBaud = c.Baud()
	}
}

// State — текущее состояние
func (b *Board) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Control — соединение порта команд
func (b *Board) Control() connection.Connection {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.control
}

// Data — соединение порта данных
func (b *Board) Data() connection.Connection {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.data
}

// ControlPort — имя порта команд
func (b *Board) ControlPort() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.controlName
}

// DataPort — имя порта данных, пусто без него
func (b *Board) DataPort() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dataName
}

// ControlBaud — скорость порта команд
func (b *Board) ControlBaud() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.controlBaud
}

// DataBaud — скорость порта данных
func (b *Board) DataBaud() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dataBaud
}

// Product — семейство модуля (после SetupDataPort или Identify)
func (b *Board) Product() Product {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.product
}

// SetProduct задаёт семейство без запроса PID. У X3 ответы на команды идут вперемешку
// с двоичной телеметрией, поэтому команды читаются смешанной кодировкой; экземпляр
// отдельный от порта данных, так как Mixed хранит состояние.
func (b *Board) SetProduct(p Product) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.product = p
	if p != ProductX3 {
		b.controlScheme = scheme.ASCII{}
		return
	}
	b.controlScheme = scheme.NewMixed()
	if _, ok := b.dataScheme.(*scheme.Mixed); !ok {
		b.dataScheme = scheme.NewMixed()
	}
}

// DataScheme — текущая кодировка порта данных
func (b *Board) DataScheme() scheme.Scheme {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dataScheme
}

// ControlScheme — кодировка команд: ASCII, у X3 смешанная
func (b *Board) ControlScheme() scheme.Scheme {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.controlScheme
}

// SetConnectionBaud меняет скорость соединений (не конфигурацию модуля) и сбрасывает
// данные, принятые на старой скорости. 0 — не менять.
func (b *Board) SetConnectionBaud(controlBaud, dataBaud int) error {
	b.mu.Lock()
	control, data := b.control, b.data
	b.mu.Unlock()
	if controlBaud != 0 && control != nil {
		if err := control.SetBaud(controlBaud); err != nil {
			return err
		}
		b.mu.Lock()
		b.controlBaud = controlBaud
		b.mu.Unlock()
	}
	if dataBaud != 0 && data != nil {
		if err := data.SetBaud(dataBaud); err != nil {
			return err
		}
		b.mu.Lock()
		b.dataBaud = dataBaud
		b.mu.Unlock()
	}
	if control != nil {
		_, _ = control.ReadAll()
	}
	if data != nil {
		_, _ = data.ReadAll()
	}
	return nil
}

// ReadOneMessage читает одно сообщение с порта данных текущей кодировкой
func (b *Board) ReadOneMessage() (*message.Message, error) {
	b.mu.Lock()
	data, s := b.data, b.dataScheme
	b.mu.Unlock()
	if data == nil {
		return nil, ErrNotConnected
	}
	if s == nil {
		return nil, nil
	}
	return s.ReadOneMessage(data)
}
