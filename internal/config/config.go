// Package config loads the key file and settings of the cenc tool.
package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// Config is read from YAML, for example:
//
//	key_id: 10000000-1000-1000-1000-100000000001
//	key: 00112233445566778899aabbccddeeff
//	workers: 4
//	log_level: debug
type Config struct {
	KeyID    string `yaml:"key_id"`
	Key      string `yaml:"key"`
	DummyIV  bool   `yaml:"dummy_iv"`
	Workers  int    `yaml:"workers"`
	LogLevel string `yaml:"log_level"`
	LogJSON  bool   `yaml:"log_json"`
}

func Default() Config {
	return Config{Workers: 4, LogLevel: "info"}
}

// Load reads path over the defaults. An empty path returns the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return cfg, err
	}
	defer f.Close()

	if err := yaml.NewDecoder(f).Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks that the key and, when set, the key id are well formed.
// Decryption needs no key id, so its absence is left to ParsedKeyID.
func (c Config) Validate() error {
	if c.KeyID != "" {
		if _, err := c.ParsedKeyID(); err != nil {
			return err
		}
	}
	if _, err := c.ParsedKey(); err != nil {
		return err
	}
	if c.Workers < 0 {
		return fmt.Errorf("workers must not be negative, got %d", c.Workers)
	}
	return nil
}

// ParsedKeyID parses the key id. It is required to encrypt.
func (c Config) ParsedKeyID() (uuid.UUID, error) {
	if c.KeyID == "" {
		return uuid.Nil, errors.New("key_id is required")
	}
	id, err := uuid.Parse(c.KeyID)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid key_id: %w", err)
	}
	return id, nil
}

// ParsedKey decodes the hex key. It must be 16 bytes.
func (c Config) ParsedKey() ([]byte, error) {
	if c.Key == "" {
		return nil, errors.New("key is required")
	}
	key, err := hex.DecodeString(strings.TrimPrefix(c.Key, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid key: %w", err)
	}
	if len(key) != 16 {
		return nil, fmt.Errorf("key must be 16 bytes, got %d", len(key))
	}
	return key, nil
}
