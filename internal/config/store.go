package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"github.com/airmouse/gearvr-bridge/internal/fusion"
)

// Store owns the persisted configuration. Readers get copies; mutations go
// through Update so the file on disk never diverges from memory for long.
type Store struct {
	mu   sync.Mutex
	path string
	cfg  Config
}

// Open loads the configuration at path, or the defaults when the file does
// not exist yet. An empty path searches the standard locations.
func Open(path string) (*Store, error) {
	v := viper.New()
	v.SetConfigType("json")

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath("$HOME/.config/gearvr-bridge")
		v.AddConfigPath(".")
	}

	cfg := Default()
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
		log.Info("config: no file found, using defaults")
	} else {
		if err := v.Unmarshal(&cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
		path = v.ConfigFileUsed()
		log.Infof("config: loaded %s", path)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("locate config dir: %w", err)
		}
		path = filepath.Join(home, ".config", "gearvr-bridge", "config.json")
	}
	return &Store{path: path, cfg: cfg}, nil
}

// Path reports where Save writes.
func (s *Store) Path() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.path
}

// Config returns a copy of the current configuration.
func (s *Store) Config() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// Update applies fn to the configuration under the lock.
func (s *Store) Update(fn func(*Config)) {
	s.mu.Lock()
	fn(&s.cfg)
	s.mu.Unlock()
}

// SetCalibration stores live calibration parameters for the next Save. It
// satisfies the calibration wizard's persistence collaborator together
// with Save.
func (s *Store) SetCalibration(p fusion.CalibrationParams) {
	s.Update(func(c *Config) {
		c.SetCalibrationParams(p)
	})
}

// Save writes the configuration to disk atomically: full write to a
// temp file in the same directory, then rename over the target.
func (s *Store) Save() error {
	s.mu.Lock()
	cfg := s.cfg
	path := s.path
	s.mu.Unlock()

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	data = append(data, '\n')

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replace config: %w", err)
	}
	log.Debugf("config: saved %s", path)
	return nil
}
