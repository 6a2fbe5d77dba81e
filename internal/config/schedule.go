package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/smazurov/feednode/internal/media"
)

// ChangeConfig is an explicit format change at a trigger sequence number.
type ChangeConfig struct {
	Trigger   uint64    `toml:"trigger" json:"trigger"`
	Caps      string    `toml:"caps" json:"caps"`
	CreatedAt time.Time `toml:"created_at,omitempty" json:"created_at,omitempty"`
}

// ScheduleConfig represents the complete schedule file.
//
//	version = 1
//	every = 100
//	cycle = [
//	  "video/x-raw,format=I420,width=1024,height=768,framerate=30/1",
//	  "video/x-raw,format=I420,width=640,height=480,framerate=30/1",
//	]
//
//	[[changes]]
//	trigger = 100
//	caps = "video/x-raw,format=I420,width=640,height=480,framerate=30/1"
type ScheduleConfig struct {
	Version int            `toml:"version" json:"version"`
	Every   uint64         `toml:"every,omitempty" json:"every,omitempty"`
	Cycle   []string       `toml:"cycle,omitempty" json:"cycle,omitempty"`
	Changes []ChangeConfig `toml:"changes,omitempty" json:"changes,omitempty"`
}

// CycleFormats parses the cycle table.
func (c ScheduleConfig) CycleFormats() ([]*media.Format, error) {
	formats := make([]*media.Format, 0, len(c.Cycle))
	for i, caps := range c.Cycle {
		f, err := media.ParseCaps(caps)
		if err != nil {
			return nil, fmt.Errorf("cycle entry %d: %w", i, err)
		}
		formats = append(formats, f)
	}
	return formats, nil
}

// Format parses the change caps.
func (c ChangeConfig) Format() (*media.Format, error) {
	f, err := media.ParseCaps(c.Caps)
	if err != nil {
		return nil, fmt.Errorf("change at %d: %w", c.Trigger, err)
	}
	return f, nil
}

// Validate parses every caps string in the schedule.
func (c ScheduleConfig) Validate() error {
	if _, err := c.CycleFormats(); err != nil {
		return err
	}
	for _, ch := range c.Changes {
		if _, err := ch.Format(); err != nil {
			return err
		}
	}
	return nil
}

// LoadSchedule reads and validates a schedule file. A missing file is an
// empty schedule.
func LoadSchedule(path string) (ScheduleConfig, error) {
	cfg := ScheduleConfig{Version: 1}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("failed to read schedule: %w", err)
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse schedule: %w", err)
	}
	if cfg.Version == 0 {
		cfg.Version = 1
	}
	sort.SliceStable(cfg.Changes, func(i, j int) bool { return cfg.Changes[i].Trigger < cfg.Changes[j].Trigger })
	return cfg, cfg.Validate()
}

// ScheduleManager keeps the schedule file and its in-memory copy in sync.
type ScheduleManager struct {
	path string

	mu     sync.RWMutex
	config ScheduleConfig
}

// NewScheduleManager creates a manager for the schedule at path.
func NewScheduleManager(path string) *ScheduleManager {
	if path == "" {
		path = "schedule.toml"
	}
	return &ScheduleManager{path: path, config: ScheduleConfig{Version: 1}}
}

// Path returns the schedule file path.
func (sm *ScheduleManager) Path() string { return sm.path }

// Load reads the schedule file.
func (sm *ScheduleManager) Load() error {
	cfg, err := LoadSchedule(sm.path)
	if err != nil {
		return err
	}
	sm.Replace(cfg)
	return nil
}

// Replace swaps the in-memory schedule, as after a file reload.
func (sm *ScheduleManager) Replace(cfg ScheduleConfig) {
	sm.mu.Lock()
	sm.config = cfg
	sm.mu.Unlock()
}

// Config returns a copy of the schedule.
func (sm *ScheduleManager) Config() ScheduleConfig {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	cfg := sm.config
	cfg.Cycle = append([]string(nil), sm.config.Cycle...)
	cfg.Changes = append([]ChangeConfig(nil), sm.config.Changes...)
	return cfg
}

// AddChange records an explicit change, replacing one at the same trigger,
// and saves the file.
func (sm *ScheduleManager) AddChange(change ChangeConfig) error {
	if _, err := change.Format(); err != nil {
		return err
	}
	if change.CreatedAt.IsZero() {
		change.CreatedAt = time.Now().UTC().Truncate(time.Second)
	}

	sm.mu.Lock()
	replaced := false
	for i := range sm.config.Changes {
		if sm.config.Changes[i].Trigger == change.Trigger {
			sm.config.Changes[i] = change
			replaced = true
		}
	}
	if !replaced {
		sm.config.Changes = append(sm.config.Changes, change)
		sort.SliceStable(sm.config.Changes, func(i, j int) bool {
			return sm.config.Changes[i].Trigger < sm.config.Changes[j].Trigger
		})
	}
	sm.mu.Unlock()

	return sm.Save()
}

// Save writes the schedule file.
func (sm *ScheduleManager) Save() error {
	dir := filepath.Dir(sm.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create schedule directory: %w", err)
	}

	data, err := toml.Marshal(sm.Config())
	if err != nil {
		return fmt.Errorf("failed to marshal schedule: %w", err)
	}

	// Write then rename so a watcher never reads a partial file.
	tmp := sm.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write schedule: %w", err)
	}
	if err := os.Rename(tmp, sm.path); err != nil {
		return fmt.Errorf("failed to write schedule: %w", err)
	}
	return nil
}
