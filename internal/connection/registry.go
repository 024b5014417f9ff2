package connection

import (
	"fmt"
	"sync"
	"time"

	cmap "github.com/orcaman/concurrent-map/v2"
)

// Registry — учёт портов, открытых в процессе. Два соединения на одно имя не допускаются.
type Registry struct {
	ports cmap.ConcurrentMap[string, time.Time]
}

// NewRegistry создаёт пустой реестр
func NewRegistry() *Registry {
	return &Registry{ports: cmap.New[time.Time]()}
}

// DefaultRegistry — реестр последовательных портов процесса
var DefaultRegistry = NewRegistry()

// Claim занимает имя; release освобождает его (повторный вызов безопасен)
func (r *Registry) Claim(name string) (release func(), err error) {
	if !r.ports.SetIfAbsent(name, time.Now()) {
		return nil, fmt.Errorf("%s: %w", name, ErrPortBusy)
	}
	var once sync.Once
	return func() {
		once.Do(func() { r.ports.Remove(name) })
	}, nil
}

// InUse — имя занято
func (r *Registry) InUse(name string) bool {
	return r.ports.Has(name)
}
