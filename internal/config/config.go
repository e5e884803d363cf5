package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/lowaak/cable-trainer/internal/protocol"
	"github.com/lowaak/cable-trainer/internal/trainer"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to upper-cased keys with dashes replaced by
// underscores, e.g. CABLE_TRAINER_NAME_PREFIX.
const EnvPrefix = "CABLE_TRAINER"

const (
	KeyConfig          = "config"
	KeyLogFile         = "log-file"
	KeyLogMaxSizeMB    = "log-max-size-mb"
	KeyLogMaxBackups   = "log-max-backups"
	KeySimulate        = "simulate"
	KeySimulatorAddr   = "simulator-addr"
	KeyPreferencesFile = "preferences-file"
	KeyNamePrefix      = "name-prefix"
	KeyPositionDivisor = "position-divisor"
	KeyAutoStart       = "auto-start"
	KeyDifficulty      = "difficulty"
	KeyEccentric       = "eccentric"
	KeyReps            = "reps"
	KeyStopOnTopRep    = "stop-on-top-rep"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid configuration")

type Config struct {
	LogFile       string
	LogMaxSizeMB  int
	LogMaxBackups int

	Simulate      bool
	SimulatorAddr string

	PreferencesFile string
	NamePrefix      string
	PositionDivisor float64
	AutoStart       bool

	// Workout is the configuration used until preferences say otherwise.
	Workout trainer.WorkoutConfig
}

// Load resolves the configuration from args, CABLE_TRAINER_* environment
// variables and an optional YAML file named by --config, in that order of
// precedence. Flag defaults apply last.
func Load(args []string) (*Config, error) {
	fs := newFlagSet()
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if err := v.BindPFlags(fs); err != nil {
		return nil, fmt.Errorf("binding flags: %w", err)
	}

	if path := v.GetString(KeyConfig); path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
	}

	cfg, err := fromViper(v)
	if err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Usage returns the flag help text.
func Usage() string {
	return newFlagSet().FlagUsages()
}

func newFlagSet() *pflag.FlagSet {
	fs := pflag.NewFlagSet("cable-trainer", pflag.ContinueOnError)
	fs.SortFlags = false
	fs.String(KeyConfig, "", "path to a YAML config file")
	fs.String(KeyLogFile, defaultLogFile(), "log file, rotated by size")
	fs.Int(KeyLogMaxSizeMB, 10, "rotate the log file after this many megabytes")
	fs.Int(KeyLogMaxBackups, 3, "rotated log files to keep")
	fs.Bool(KeySimulate, false, "use a simulated machine instead of Bluetooth")
	fs.String(KeySimulatorAddr, "127.0.0.1:8089", "listen address of the simulator control API")
	fs.String(KeyPreferencesFile, trainer.DefaultPreferencesPath(), "file holding the last workout selection")
	fs.String(KeyNamePrefix, protocol.DefaultNamePrefix, "advertised name prefix of supported machines")
	fs.Float64(KeyPositionDivisor, trainer.DefaultPositionDivisor, "raw position units per full cable travel")
	fs.Bool(KeyAutoStart, true, "start a workout when the handles are lifted and held still")
	fs.String(KeyDifficulty, protocol.Hardest.String(), "echo difficulty: HARD, HARDER, HARDEST or EPIC")
	fs.Float64(KeyEccentric, 1.0, "eccentric load as a ratio of the concentric load")
	fs.Int(KeyReps, 0, "target reps, 0 for unlimited")
	fs.Bool(KeyStopOnTopRep, false, "stop at the top of the last rep instead of the bottom")
	return fs
}

func fromViper(v *viper.Viper) (*Config, error) {
	difficulty, err := protocol.ParseDifficulty(v.GetString(KeyDifficulty))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalid, KeyDifficulty, err)
	}
	return &Config{
		LogFile:         v.GetString(KeyLogFile),
		LogMaxSizeMB:    v.GetInt(KeyLogMaxSizeMB),
		LogMaxBackups:   v.GetInt(KeyLogMaxBackups),
		Simulate:        v.GetBool(KeySimulate),
		SimulatorAddr:   v.GetString(KeySimulatorAddr),
		PreferencesFile: v.GetString(KeyPreferencesFile),
		NamePrefix:      v.GetString(KeyNamePrefix),
		PositionDivisor: v.GetFloat64(KeyPositionDivisor),
		AutoStart:       v.GetBool(KeyAutoStart),
		Workout: trainer.WorkoutConfig{
			Difficulty:     difficulty,
			EccentricRatio: v.GetFloat64(KeyEccentric),
			TargetReps:     v.GetInt(KeyReps),
			StopOnTopRep:   v.GetBool(KeyStopOnTopRep),
		},
	}, nil
}

func (c *Config) validate() error {
	if c.LogFile == "" {
		return fmt.Errorf("%w: %s is required", ErrInvalid, KeyLogFile)
	}
	if c.LogMaxSizeMB <= 0 {
		return fmt.Errorf("%w: %s must be positive", ErrInvalid, KeyLogMaxSizeMB)
	}
	if c.LogMaxBackups < 0 {
		return fmt.Errorf("%w: %s must not be negative", ErrInvalid, KeyLogMaxBackups)
	}
	if c.Simulate && c.SimulatorAddr == "" {
		return fmt.Errorf("%w: %s is required with --%s", ErrInvalid, KeySimulatorAddr, KeySimulate)
	}
	if c.PositionDivisor <= 0 {
		return fmt.Errorf("%w: %s must be positive", ErrInvalid, KeyPositionDivisor)
	}
	if c.Workout.EccentricRatio < 0 || c.Workout.EccentricRatio > protocol.MaxEccentricRatio {
		return fmt.Errorf("%w: %s must be in [0, %.2f]", ErrInvalid, KeyEccentric, protocol.MaxEccentricRatio)
	}
	if c.Workout.TargetReps < 0 || c.Workout.TargetReps > trainer.MaxTargetReps {
		return fmt.Errorf("%w: %s must be in 0..%d", ErrInvalid, KeyReps, trainer.MaxTargetReps)
	}
	return nil
}

func defaultLogFile() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		homeDir = "."
	}
	return filepath.Join(homeDir, ".cable-trainer", "cable-trainer.log")
}
