// Copyright 2026 Dolthub, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config loads store configuration from YAML or TOML files.
package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/creasty/defaults"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	goerrors "gopkg.in/src-d/go-errors.v1"
	"gopkg.in/yaml.v2"

	"github.com/dolthub/snapstore/hash"
)

// Backend names.
const (
	BackendMemory  = "memory"
	BackendJournal = "journal"
	BackendLevelDB = "leveldb"
	BackendBolt    = "bolt"
)

var (
	// ErrInvalidConfig is returned by Validate.
	ErrInvalidConfig = goerrors.NewKind("invalid config: %s")

	// ErrUnknownFormat is returned for config files that are neither YAML nor TOML.
	ErrUnknownFormat = goerrors.NewKind("unknown config format %q")
)

// Config describes how to open a repository.
type Config struct {
	// Dir holds the durable store. Required unless Backend is memory.
	Dir     string `yaml:"dir" toml:"dir"`
	Backend string `yaml:"backend" toml:"backend" default:"journal"`
	Hash    string `yaml:"hash" toml:"hash" default:"xxh64"`

	ArenaChunkSize    int  `yaml:"arena_chunk_size" toml:"arena_chunk_size" default:"1048576"`
	WriteBufferSize   int  `yaml:"write_buffer_size" toml:"write_buffer_size" default:"65536"`
	SyncWrites        bool `yaml:"sync_writes" toml:"sync_writes" default:"true"`
	LockTimeoutMillis int  `yaml:"lock_timeout_ms" toml:"lock_timeout_ms" default:"1000"`
	VerifyNodes       bool `yaml:"verify_nodes" toml:"verify_nodes"`

	// RepairLeaves rewrites a persisted leaf set that disagrees with the
	// snapshot index when the store is opened.
	RepairLeaves bool `yaml:"repair_leaves" toml:"repair_leaves" default:"true"`

	// SnapshotCacheSize bounds the cache of deserialized snapshot values. Zero
	// disables it.
	SnapshotCacheSize int `yaml:"snapshot_cache_size" toml:"snapshot_cache_size" default:"1024"`

	LogLevel string `yaml:"log_level" toml:"log_level" default:"info"`
}

// Default returns a Config with every default applied.
func Default() Config {
	var cfg Config
	if err := defaults.Set(&cfg); err != nil {
		panic(err)
	}
	return cfg
}

// Load reads the config file at |path|. The format is chosen by extension.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Wrapf(err, "reading config %s", path)
	}
	cfg, err := Parse(data, strings.TrimPrefix(filepath.Ext(path), "."))
	if err != nil {
		return Config{}, errors.Wrapf(err, "parsing config %s", path)
	}
	return cfg, nil
}

// Parse decodes |data| in |format| (yaml, yml or toml) over the defaults and
// validates the result. Unknown YAML keys are rejected.
func Parse(data []byte, format string) (Config, error) {
	cfg := Default()
	var err error
	switch strings.ToLower(format) {
	case "yaml", "yml":
		err = yaml.UnmarshalStrict(data, &cfg)
	case "toml":
		var md toml.MetaData
		md, err = toml.Decode(string(data), &cfg)
		if err == nil {
			if undec := md.Undecoded(); len(undec) > 0 {
				err = ErrInvalidConfig.New("unknown key " + undec[0].String())
			}
		}
	default:
		return Config{}, ErrUnknownFormat.New(format)
	}
	if err != nil {
		return Config{}, err
	}
	cfg.Backend = strings.ToLower(cfg.Backend)
	cfg.Hash = strings.ToLower(cfg.Hash)
	cfg.LogLevel = strings.ToLower(cfg.LogLevel)
	return cfg, cfg.Validate()
}

// Validate checks that every field names something that exists.
func (c Config) Validate() error {
	switch c.Backend {
	case BackendMemory:
	case BackendJournal, BackendLevelDB, BackendBolt:
		if c.Dir == "" {
			return ErrInvalidConfig.New("dir is required for the " + c.Backend + " backend")
		}
	default:
		return ErrInvalidConfig.New("unknown backend " + c.Backend)
	}
	if _, err := c.HashFunc(); err != nil {
		return ErrInvalidConfig.Wrap(err, "hash")
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return ErrInvalidConfig.Wrap(err, "log_level")
	}
	if c.ArenaChunkSize < 0 || c.WriteBufferSize < 0 || c.LockTimeoutMillis < 0 || c.SnapshotCacheSize < 0 {
		return ErrInvalidConfig.New("sizes and timeouts must not be negative")
	}
	return nil
}

// HashFunc returns the configured hash function.
func (c Config) HashFunc() (hash.Func, error) {
	return hash.FuncByName(c.Hash)
}

// LockTimeout returns how long to wait for the store lock.
func (c Config) LockTimeout() time.Duration {
	return time.Duration(c.LockTimeoutMillis) * time.Millisecond
}

// NewLogger returns a logger at the configured level.
func (c Config) NewLogger() *logrus.Entry {
	l := logrus.New()
	if lvl, err := logrus.ParseLevel(c.LogLevel); err == nil {
		l.SetLevel(lvl)
	}
	return logrus.NewEntry(l)
}
