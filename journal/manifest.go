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

package journal

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/dolthub/fslock"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

const (
	manifestFileName = "manifest"
	lockFileName     = "LOCK"

	// FormatVersion is the on-disk format written by this package.
	FormatVersion = "1"
)

// manifestContents is stored in |dir|/manifest. The format is human
// readable:
//
// |-- String --|---- String ----|-- String --|
// | version    : hash function  : store id   |
type manifestContents struct {
	version  string
	hashName string
	storeID  uuid.UUID
}

func (mc manifestContents) String() string {
	return strings.Join([]string{mc.version, mc.hashName, mc.storeID.String()}, ":")
}

func parseManifest(r io.Reader) (manifestContents, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return manifestContents{}, err
	}
	parts := strings.Split(strings.TrimSpace(string(b)), ":")
	if len(parts) != 3 {
		return manifestContents{}, ErrCorruptLog.New(manifestFileName, "malformed manifest")
	}
	if parts[0] != FormatVersion {
		return manifestContents{}, ErrUnsupportedVersion.New(parts[0])
	}
	id, err := uuid.Parse(parts[2])
	if err != nil {
		return manifestContents{}, ErrCorruptLog.Wrap(err, manifestFileName, "bad store id")
	}
	return manifestContents{version: parts[0], hashName: parts[1], storeID: id}, nil
}

// loadOrCreateManifest reads the manifest in |dir|, writing a fresh one for
// |hashName| if none exists.
func loadOrCreateManifest(dir, hashName string) (mc manifestContents, created bool, err error) {
	path := filepath.Join(dir, manifestFileName)
	f, err := os.Open(path)
	if err == nil {
		defer f.Close()
		mc, err = parseManifest(f)
		return mc, false, err
	} else if !os.IsNotExist(err) {
		return manifestContents{}, false, errors.Wrapf(err, "opening manifest %s", path)
	}

	mc = manifestContents{version: FormatVersion, hashName: hashName, storeID: uuid.New()}
	if err = writeFileAtomically(path, []byte(mc.String())); err != nil {
		return manifestContents{}, false, err
	}
	return mc, true, nil
}

// writeFileAtomically writes |data| to a temp file in the same directory,
// syncs it and renames it over |path|.
func writeFileAtomically(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return errors.Wrapf(err, "creating temp file for %s", path)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err = tmp.Write(data); err != nil {
		tmp.Close()
		return errors.Wrapf(err, "writing %s", tmpPath)
	}
	if err = tmp.Sync(); err != nil {
		tmp.Close()
		return errors.Wrapf(err, "syncing %s", tmpPath)
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	return errors.Wrapf(os.Rename(tmpPath, path), "renaming %s", tmpPath)
}

// acquireLock takes the directory lock, retrying with backoff for up to
// |timeout|. A zero timeout tries exactly once.
func acquireLock(ctx context.Context, dir string, timeout time.Duration) (*fslock.Lock, error) {
	lck := fslock.New(filepath.Join(dir, lockFileName))

	try := func() error {
		err := lck.TryLock()
		if err == fslock.ErrLocked {
			return err
		} else if err != nil {
			return backoff.Permanent(err)
		}
		return nil
	}

	var b backoff.BackOff = &backoff.StopBackOff{}
	if timeout > 0 {
		eb := backoff.NewExponentialBackOff()
		eb.InitialInterval = 10 * time.Millisecond
		eb.MaxInterval = 250 * time.Millisecond
		eb.MaxElapsedTime = timeout
		b = eb
	}

	err := backoff.Retry(try, backoff.WithContext(b, ctx))
	if err == fslock.ErrLocked {
		return nil, ErrLocked.New(dir)
	} else if err != nil {
		return nil, errors.Wrapf(err, "locking %s", dir)
	}
	return lck, nil
}
