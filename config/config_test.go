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

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dolthub/snapstore/hash"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, BackendJournal, cfg.Backend)
	assert.Equal(t, "xxh64", cfg.Hash)
	assert.Equal(t, 1<<20, cfg.ArenaChunkSize)
	assert.True(t, cfg.SyncWrites)
	assert.True(t, cfg.RepairLeaves)
	assert.Equal(t, time.Second, cfg.LockTimeout())
	assert.Equal(t, 1024, cfg.SnapshotCacheSize)

	// journal needs a directory
	assert.True(t, ErrInvalidConfig.Is(cfg.Validate()))
	cfg.Backend = BackendMemory
	assert.NoError(t, cfg.Validate())
}

func TestParse(t *testing.T) {
	tests := []struct {
		name   string
		format string
		data   string
		check  func(t *testing.T, cfg Config)
		err    bool
	}{
		{
			name:   "yaml",
			format: "yaml",
			data: `
dir: /tmp/store
backend: BOLT
hash: xxh3
sync_writes: false
lock_timeout_ms: 250
repair_leaves: false
`,
			check: func(t *testing.T, cfg Config) {
				assert.Equal(t, "/tmp/store", cfg.Dir)
				assert.Equal(t, BackendBolt, cfg.Backend)
				assert.False(t, cfg.SyncWrites)
				assert.False(t, cfg.RepairLeaves)
				assert.Equal(t, 250*time.Millisecond, cfg.LockTimeout())
				assert.Equal(t, 65536, cfg.WriteBufferSize)
				f, err := cfg.HashFunc()
				require.NoError(t, err)
				assert.Equal(t, hash.XXH3.Name(), f.Name())
			},
		},
		{
			name:   "toml",
			format: "toml",
			data: `
dir = "/tmp/store"
backend = "leveldb"
snapshot_cache_size = 0
log_level = "debug"
`,
			check: func(t *testing.T, cfg Config) {
				assert.Equal(t, BackendLevelDB, cfg.Backend)
				assert.Equal(t, 0, cfg.SnapshotCacheSize)
				assert.Equal(t, "debug", cfg.LogLevel)
				assert.Equal(t, "xxh64", cfg.Hash)
			},
		},
		{
			name:   "unknown yaml key",
			format: "yml",
			data:   "dir: x\nbogus: 1\n",
			err:    true,
		},
		{
			name:   "unknown toml key",
			format: "toml",
			data:   "dir = \"x\"\nbogus = 1\n",
			err:    true,
		},
		{
			name:   "unknown backend",
			format: "yaml",
			data:   "dir: x\nbackend: cassandra\n",
			err:    true,
		},
		{
			name:   "unknown hash",
			format: "yaml",
			data:   "dir: x\nhash: md5\n",
			err:    true,
		},
		{
			name:   "bad log level",
			format: "yaml",
			data:   "dir: x\nlog_level: loud\n",
			err:    true,
		},
		{
			name:   "unknown format",
			format: "json",
			data:   "{}",
			err:    true,
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			cfg, err := Parse([]byte(test.data), test.format)
			if test.err {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			test.check(t, cfg)
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.yaml")
	require.NoError(t, os.WriteFile(path, []byte("backend: memory\n"), 0644))
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, BackendMemory, cfg.Backend)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
