package config

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

// ErrFixedField is returned by Reload when the new file changes a value that
// every component must agree on for the whole process lifetime.
var ErrFixedField = errors.New("field cannot change at runtime")

// Store holds the active configuration and re-reads it on demand.
type Store struct {
	path    string
	current atomic.Pointer[Config]

	mu        sync.Mutex
	listeners []func(old, cur Config)
}

func NewStore(path string) (*Store, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	return NewStoreFrom(path, cfg), nil
}

// NewStoreFrom wraps an already loaded configuration.
func NewStoreFrom(path string, cfg Config) *Store {
	s := &Store{path: path}
	s.current.Store(&cfg)
	return s
}

func (s *Store) Current() Config {
	return *s.current.Load()
}

// OnReload registers fn to run after every successful reload.
func (s *Store) OnReload(fn func(old, cur Config)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// Reload re-reads the file. Map geometry and connection counts are fixed
// at startup; a file that changes them is rejected and the old
// configuration stays active.
func (s *Store) Reload() (Config, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next, err := Load(s.path)
	if err != nil {
		return s.Current(), err
	}
	old := s.Current()
	if err := checkFixed(old, next); err != nil {
		return old, err
	}

	s.current.Store(&next)
	for _, fn := range s.listeners {
		fn(old, next)
	}
	return next, nil
}

func checkFixed(old, next Config) error {
	switch {
	case old.World.RegionSize != next.World.RegionSize:
		return fmt.Errorf("%w: world.region_size", ErrFixedField)
	case old.World.MapWidth != next.World.MapWidth || old.World.MapHeight != next.World.MapHeight:
		return fmt.Errorf("%w: world map size", ErrFixedField)
	case old.World.VisibleRadius != next.World.VisibleRadius:
		return fmt.Errorf("%w: world.visible_radius", ErrFixedField)
	case old.Persistence.DSN != next.Persistence.DSN ||
		old.Persistence.SyncConnections != next.Persistence.SyncConnections ||
		old.Persistence.AsyncConnections != next.Persistence.AsyncConnections:
		return fmt.Errorf("%w: persistence connections", ErrFixedField)
	}
	return nil
}
