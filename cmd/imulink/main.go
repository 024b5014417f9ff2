// imulink — утилита и служба для модулей IMU/GNSS: поиск портов, команды, настройки,
// запись и разбор телеметрии, ретрансляция поправок.
//
// Использование:
//
//	imulink -discover                      — найти модуль и запомнить порты
//	imulink -info                          — идентификация модуля
//	imulink -get odr,mfm                   — прочитать настройки (RAM; с -flash — из флеша)
//	imulink -set odr=100,mfm=1 [-flash]    — записать настройки
//	imulink -capture out.bin               — записать поток порта данных до Ctrl+C
//	imulink -replay out.bin -format binary — разобрать записанный поток без модуля
//	imulink -run -config imulink.yml       — запуск службы
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"

	"github.com/shiwa/imulink/internal/board"
	"github.com/shiwa/imulink/internal/logger"
	"github.com/shiwa/imulink/internal/message"
	"github.com/shiwa/imulink/pkg/config"
	"github.com/shiwa/imulink/pkg/daemon"
)

func main() {
	configPath := flag.String("config", "", "путь к YAML конфигу (по умолчанию imulink.yml)")
	discover := flag.Bool("discover", false, "найти модуль, сохранить порты в кэш и выйти")
	ping := flag.Bool("ping", false, "проверить порт команд")
	info := flag.Bool("info", false, "вывести VER/SER/PID и аппаратные ревизии")
	get := flag.String("get", "", "прочитать настройки через запятую")
	set := flag.String("set", "", "записать настройки name=value через запятую")
	flash := flag.Bool("flash", false, "-get/-set работают с флешем")
	capture := flag.String("capture", "", "записать поток порта данных в файл до Ctrl+C")
	replay := flag.String("replay", "", "разобрать файл, записанный -capture, и вывести сообщения")
	format := flag.String("format", "ascii", "кодировка для -replay: ascii, binary или mixed")
	run := flag.Bool("run", false, "запуск службы: телеметрия, поправки, метрики, Redis")
	udp := flag.String("udp", "", "IP модуля в сети (переопределяет config)")
	port := flag.String("port", "", "порт команд (переопределяет config)")
	dataPort := flag.String("data-port", "", "порт данных (переопределяет config)")
	baud := flag.Int("baud", 0, "скорость порта команд (переопределяет config)")
	quiet := flag.Bool("quiet", false, "меньше вывода")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if *udp != "" {
		if cfg.UDP == nil {
			cfg.UDP = &config.UDPConfig{}
		}
		cfg.UDP.IP = *udp
		config.ApplyDefaults(cfg)
	}
	if *port != "" {
		cfg.Device.ControlPort = *port
	}
	if *dataPort != "" {
		cfg.Device.DataPort = *dataPort
	}
	if *baud != 0 {
		cfg.Device.ControlBaud = *baud
	}
	if err := logger.Setup(cfg.Log); err != nil {
		logger.Error("%v", err)
	}
	logger.SetQuiet(*quiet)

	ctx, cancel := signalContext()
	defer cancel()

	if *replay != "" {
		st, err := daemon.Replay(ctx, cfg, *replay, *format, printSink{})
		if err != nil {
			log.Fatalf("replay: %v", err)
		}
		if !*quiet {
			fmt.Printf("%d messages, %d invalid, %d bytes\n", st.Messages, st.Invalid, st.Bytes)
		}
		return
	}

	if *run || *capture != "" {
		if *capture != "" {
			cfg.Telemetry.Enable = true
			cfg.Telemetry.Capture = *capture
		}
		if err := daemon.RunDaemon(ctx, cfg, *quiet); err != nil && err != context.Canceled {
			log.Fatal(err)
		}
		return
	}

	if !*discover && !*ping && !*info && *get == "" && *set == "" {
		flag.Usage()
		os.Exit(2)
	}

	b, err := daemon.Connect(ctx, cfg)
	if err != nil {
		log.Fatalf("connect: %v", err)
	}
	defer b.Release()

	if *discover || !*quiet {
		fmt.Printf("%s: control %s @%d, data %s @%d\n",
			b.Product(), b.ControlPort(), b.ControlBaud(), b.DataPort(), b.DataBaud())
	}
	if *ping {
		if !b.CheckControlPort() {
			log.Fatal("ping: no answer")
		}
		fmt.Println("ping: ok")
	}
	if *info {
		printInfo(b)
	}
	if *set != "" {
		if err := setConfig(b, *set, *flash); err != nil {
			log.Fatalf("set: %v", err)
		}
	}
	if *get != "" {
		if err := printConfig(b, *get, *flash); err != nil {
			log.Fatalf("get: %v", err)
		}
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		path = "imulink.yml"
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return config.Default(), nil
		}
	}
	return config.Load(path)
}

// signalContext отменяется по SIGINT/SIGTERM
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-sigCh:
			logger.Info("получен сигнал %v, завершение...", sig)
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

// printSink печатает разобранные сообщения по одному в строке
type printSink struct{}

func (printSink) Name() string { return "stdout" }

func (printSink) Consume(_ context.Context, m *message.Message) error {
	_, err := fmt.Println(m)
	return err
}

func printInfo(b *board.Board) {
	info, err := b.Info()
	if err != nil {
		log.Fatalf("info: %v", err)
	}
	fmt.Printf("version: %s\nserial:  %s\npid:     %s\n", info.Version, info.Serial, info.PID)
	for _, kv := range [][2]string{{"ihw", info.IHW}, {"fhw", info.FHW}, {"fsn", info.FSN}} {
		if kv[1] != "" {
			fmt.Printf("%-8s %s\n", kv[0]+":", kv[1])
		}
	}
}

func printConfig(b *board.Board, list string, flash bool) error {
	names := splitList(list)
	get := b.GetCFG
	if flash {
		get = b.GetCFGFlash
	}
	values, err := get(names...)
	if err != nil {
		return err
	}
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Printf("%s=%s\n", k, values[k])
	}
	return nil
}

func setConfig(b *board.Board, list string, flash bool) error {
	values := make(map[string]string)
	for _, item := range splitList(list) {
		name, value, ok := strings.Cut(item, "=")
		if !ok {
			return fmt.Errorf("expected name=value, got %q", item)
		}
		values[strings.TrimSpace(name)] = strings.TrimSpace(value)
	}
	if flash {
		return b.SetCFGFlash(values)
	}
	return b.SetCFG(values)
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
