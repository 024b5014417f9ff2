package connection

import (
	"fmt"
	"net"
	"strconv"
	"time"
)

// Opener открывает последовательный порт. Обнаружение устройства получает его
// снаружи, чтобы в тестах подставить симулированные порты.
type Opener func(name string, baud int, timeout time.Duration) (Connection, error)

// Драйверы последовательного порта
const (
	DriverBugst = "bugst"
	DriverTarm  = "tarm"
)

// SerialOpener возвращает Opener для драйвера (bugst по умолчанию)
func SerialOpener(driver string) Opener {
	switch driver {
	case DriverTarm:
		return func(name string, baud int, timeout time.Duration) (Connection, error) {
			return OpenTarm(name, baud, timeout)
		}
	default:
		return func(name string, baud int, timeout time.Duration) (Connection, error) {
			return OpenSerial(name, baud, timeout)
		}
	}
}

// Локальные UDP порты: смещения от базового порта
const (
	UDPLocalData     = 1
	UDPLocalConfig   = 2
	UDPLocalOdometer = 3
)

// Endpoint — описание соединения из конфига
type Endpoint struct {
	Kind    string // serial, udp, file, capture, dummy
	Name    string // порт, host:port или путь к файлу
	Baud    int
	Driver  string // для serial: bugst или tarm
	Local   int    // для udp: локальный порт
	Timeout time.Duration
}

// Open создаёт соединение по описанию
func Open(e Endpoint) (Connection, error) {
	switch e.Kind {
	case "serial", "":
		if e.Name == "" {
			return nil, fmt.Errorf("serial: port required")
		}
		return SerialOpener(e.Driver)(e.Name, e.Baud, e.Timeout)
	case "udp":
		if e.Name == "" {
			return nil, fmt.Errorf("udp: remote address required")
		}
		return OpenUDP(e.Name, e.Local, e.Timeout)
	case "file":
		return OpenFileReader(e.Name)
	case "capture":
		return CreateFileWriter(e.Name)
	case "dummy":
		return Dummy{}, nil
	default:
		return nil, fmt.Errorf("unknown connection kind: %s", e.Kind)
	}
}

// UDPRemote склеивает ip и порт в адрес
func UDPRemote(ip string, port int) string {
	return net.JoinHostPort(ip, strconv.Itoa(port))
}
