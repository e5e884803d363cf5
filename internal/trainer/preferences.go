package trainer

import (
	"log"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"
)

// Preferences are the user selections kept between runs. Workout history is
// never stored.
type Preferences struct {
	Workout       WorkoutConfig `yaml:"workout"`
	PreferredPeer string        `yaml:"preferred_peer,omitempty"`
}

// PreferencesStore keeps Preferences in a YAML file. Load and save failures
// are logged and otherwise ignored.
type PreferencesStore struct {
	filePath string
	logger   *log.Logger
	mu       sync.Mutex
	data     Preferences
}

// DefaultPreferencesPath returns ~/.cable-trainer/preferences.yaml.
func DefaultPreferencesPath() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		homeDir = "."
	}
	return filepath.Join(homeDir, ".cable-trainer", "preferences.yaml")
}

// NewPreferencesStore loads filePath, falling back to defaults when the file
// is missing or invalid.
func NewPreferencesStore(filePath string, defaults Preferences, logger *log.Logger) *PreferencesStore {
	if logger == nil {
		panic("PreferencesStore: logger cannot be nil")
	}
	p := &PreferencesStore{
		filePath: filePath,
		logger:   logger,
	}
	p.load(defaults)
	return p
}

func (p *PreferencesStore) Get() Preferences {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.data
}

func (p *PreferencesStore) SetWorkout(cfg WorkoutConfig) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.data.Workout = cfg
	p.save()
}

func (p *PreferencesStore) SetPreferredPeer(address string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.data.PreferredPeer == address {
		return
	}
	p.data.PreferredPeer = address
	p.save()
}

func (p *PreferencesStore) load(defaults Preferences) {
	p.data = defaults
	raw, err := os.ReadFile(p.filePath)
	if err != nil {
		p.logger.Printf("PreferencesStore: load %s (no existing file)", p.filePath)
		return
	}
	loaded := defaults
	if err := yaml.Unmarshal(raw, &loaded); err != nil {
		p.logger.Printf("PreferencesStore: load %s failed to parse: %v", p.filePath, err)
		return
	}
	p.data = loaded
	p.data.Workout = p.data.Workout.normalized()
	p.logger.Printf("PreferencesStore: load %s -> %+v", p.filePath, p.data)
}

// Caller holds mu.
func (p *PreferencesStore) save() {
	if err := os.MkdirAll(filepath.Dir(p.filePath), 0755); err != nil {
		p.logger.Printf("PreferencesStore: save mkdir failed: %v", err)
		return
	}
	raw, err := yaml.Marshal(p.data)
	if err != nil {
		p.logger.Printf("PreferencesStore: save marshal failed: %v", err)
		return
	}
	if err := os.WriteFile(p.filePath, raw, 0644); err != nil {
		p.logger.Printf("PreferencesStore: save %s failed: %v", p.filePath, err)
		return
	}
	p.logger.Printf("PreferencesStore: save %s -> %+v", p.filePath, p.data)
}
