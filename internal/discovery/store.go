package discovery

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Имена файлов кэша: с портом данных и без
const (
	CacheWithDataPort = "connection_cache_dataport.txt"
	CacheNoDataPort   = "connection_cache_no_dataport.txt"
)

// Settings — последнее удачное подключение
type Settings struct {
	ControlPort string `yaml:"control_port" json:"control_port"`
	ControlBaud int    `yaml:"control_baud" json:"control_baud"`
	DataPort    string `yaml:"data_port,omitempty" json:"data_port,omitempty"`
	DataBaud    int    `yaml:"data_baud,omitempty" json:"data_baud,omitempty"`
}

// Store хранит Settings отдельно для сессий с портом данных и без
type Store interface {
	Load(withDataPort bool) (Settings, bool, error)
	Save(withDataPort bool, s Settings) error
}

// FileStore — кэш в каталоге Dir. Старые JSON файлы читаются как YAML.
type FileStore struct {
	Dir string
}

func (fs FileStore) path(withDataPort bool) string {
	name := CacheNoDataPort
	if withDataPort {
		name = CacheWithDataPort
	}
	return filepath.Join(fs.Dir, name)
}

// Load читает кэш; отсутствие файла — ok=false без ошибки
func (fs FileStore) Load(withDataPort bool) (Settings, bool, error) {
	var s Settings
	data, err := os.ReadFile(fs.path(withDataPort))
	if errors.Is(err, os.ErrNotExist) {
		return s, false, nil
	}
	if err != nil {
		return s, false, err
	}
	if err := yaml.Unmarshal(data, &s); err != nil {
		return s, false, fmt.Errorf("parse %s: %w", fs.path(withDataPort), err)
	}
	if s.ControlPort == "" {
		return s, false, nil
	}
	if withDataPort && s.DataPort == "" {
		return s, false, nil
	}
	if !withDataPort {
		s.DataPort, s.DataBaud = "", 0
	}
	return s, true, nil
}

// Save записывает кэш; пустой порт команд не сохраняется
func (fs FileStore) Save(withDataPort bool, s Settings) error {
	if s.ControlPort == "" {
		return nil
	}
	if !withDataPort {
		s.DataPort, s.DataBaud = "", 0
	}
	data, err := yaml.Marshal(s)
	if err != nil {
		return err
	}
	if fs.Dir != "" {
		if err := os.MkdirAll(fs.Dir, 0o755); err != nil {
			return err
		}
	}
	return os.WriteFile(fs.path(withDataPort), data, 0o644)
}
