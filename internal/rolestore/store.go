// Copyright 2026 The Project Authors. All Rights Reserved.
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

// Package rolestore is the durable persistence layer for role
// documents, ECU serials, installed-versions log and the report
// queue. All writes are atomic with respect to crashes: every write
// goes to a temp file in the same directory followed by os.Rename,
// which POSIX guarantees is atomic on the same filesystem.
package rolestore

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"

	"github.com/usbarmory/uptane-primary/api"
)

// Store is the persistence contract RoleStore exposes to the rest of
// the core. It guards all files with a single sync.RWMutex: readers
// share it and each writer holds it alone, matching the coarse
// single-writer model spec.md §5 permits.
type Store struct {
	mu   sync.RWMutex
	root string
}

// Open returns a Store rooted at dir, creating the directory layout
// described in spec.md §6 if it does not yet exist.
func Open(dir string) (*Store, error) {
	for _, repo := range []api.RepoName{api.Director, api.Images} {
		if err := os.MkdirAll(filepath.Join(dir, "roots", string(repo)), 0o755); err != nil {
			return nil, &api.StorageError{Cause: err}
		}
		if err := os.MkdirAll(filepath.Join(dir, string(repo)), 0o755); err != nil {
			return nil, &api.StorageError{Cause: err}
		}
	}
	return &Store{root: dir}, nil
}

func (s *Store) writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return &api.StorageError{Cause: err}
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op once renamed away

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return &api.StorageError{Cause: err}
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return &api.StorageError{Cause: err}
	}
	if err := tmp.Close(); err != nil {
		return &api.StorageError{Cause: err}
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return &api.StorageError{Cause: err}
	}
	return nil
}

func (s *Store) rootPath(repo api.RepoName, version int64) string {
	return filepath.Join(s.root, "roots", string(repo), fmt.Sprintf("%d.json", version))
}

func (s *Store) nonRootPath(repo api.RepoName, role api.Role) string {
	return filepath.Join(s.root, string(repo), fmt.Sprintf("%s.json", role))
}

// StoreRoot persists bytes as the root document for (repo, version),
// overwriting any prior copy at that exact version.
func (s *Store) StoreRoot(repo api.RepoName, version int64, bytes []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeAtomic(s.rootPath(repo, version), bytes)
}

// LoadRoot loads the root document stored for (repo, version).
func (s *Store) LoadRoot(repo api.RepoName, version int64) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, err := os.ReadFile(s.rootPath(repo, version))
	if err != nil {
		return nil, &api.StorageError{Cause: err}
	}
	return b, nil
}

// LoadLatestRoot loads the highest-versioned root document stored for
// repo, or (nil, nil) if none has ever been stored (cold start).
func (s *Store) LoadLatestRoot(repo api.RepoName) (int64, []byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	dir := filepath.Join(s.root, "roots", string(repo))
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, nil, &api.StorageError{Cause: err}
	}
	var versions []int64
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		ext := filepath.Ext(name)
		if ext != ".json" {
			continue
		}
		v, err := strconv.ParseInt(name[:len(name)-len(ext)], 10, 64)
		if err != nil {
			continue
		}
		versions = append(versions, v)
	}
	if len(versions) == 0 {
		return 0, nil, nil
	}
	sort.Slice(versions, func(i, j int) bool { return versions[i] > versions[j] })
	latest := versions[0]
	b, err := os.ReadFile(filepath.Join(dir, fmt.Sprintf("%d.json", latest)))
	if err != nil {
		return 0, nil, &api.StorageError{Cause: err}
	}
	return latest, b, nil
}

// StoreNonRoot replaces the current Timestamp/Snapshot/Targets copy
// for (repo, role). Old content at that role is not retained.
func (s *Store) StoreNonRoot(repo api.RepoName, role api.Role, bytes []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeAtomic(s.nonRootPath(repo, role), bytes)
}

// LoadNonRoot loads the current copy for (repo, role), or (nil, nil)
// if none is stored.
func (s *Store) LoadNonRoot(repo api.RepoName, role api.Role) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, err := os.ReadFile(s.nonRootPath(repo, role))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, &api.StorageError{Cause: err}
	}
	return b, nil
}

// ClearNonRoot atomically wipes the stored Timestamp, Snapshot and
// Targets copies for repo. Must be called after any successful root
// rotation: the new root may have revoked the keys that signed the
// previously-trusted non-root roles.
func (s *Store) ClearNonRoot(repo api.RepoName) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, role := range []api.Role{api.RoleTimestamp, api.RoleSnapshot, api.RoleTargets} {
		path := s.nonRootPath(repo, role)
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return &api.StorageError{Cause: err}
		}
	}
	return nil
}

// StoreEcuSerials persists the device's ECU serial list; index 0 is
// the Primary.
func (s *Store) StoreEcuSerials(serials []api.EcuSerial) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var buf []byte
	for i, ser := range serials {
		if i > 0 {
			buf = append(buf, '\n')
		}
		buf = append(buf, []byte(ser)...)
	}
	return s.writeAtomic(filepath.Join(s.root, "ecu_serials"), buf)
}

// LoadEcuSerials loads the device's ECU serial list.
func (s *Store) LoadEcuSerials() ([]api.EcuSerial, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, err := os.ReadFile(filepath.Join(s.root, "ecu_serials"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, &api.StorageError{Cause: err}
	}
	var out []api.EcuSerial
	start := 0
	for i, c := range b {
		if c == '\n' {
			out = append(out, api.EcuSerial(b[start:i]))
			start = i + 1
		}
	}
	if start < len(b) {
		out = append(out, api.EcuSerial(b[start:]))
	}
	return out, nil
}

// StoreInstallationResult persists the last install attempt's result.
func (s *Store) StoreInstallationResult(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeAtomic(filepath.Join(s.root, "installation_result"), data)
}

// LoadInstallationResult loads the last install attempt's result, or
// nil if none is stored.
func (s *Store) LoadInstallationResult() ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, err := os.ReadFile(filepath.Join(s.root, "installation_result"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, &api.StorageError{Cause: err}
	}
	return b, nil
}

// StorePendingInstall persists the full target description of an
// install that requires a reboot to complete, read back by the
// orchestrator on next startup.
func (s *Store) StorePendingInstall(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeAtomic(filepath.Join(s.root, "pending_install"), data)
}

// LoadPendingInstall loads the pending-install target, or nil if none
// is stored.
func (s *Store) LoadPendingInstall() ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, err := os.ReadFile(filepath.Join(s.root, "pending_install"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, &api.StorageError{Cause: err}
	}
	return b, nil
}

// ClearPendingInstall removes the pending-install marker once resolved.
func (s *Store) ClearPendingInstall() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(filepath.Join(s.root, "pending_install")); err != nil && !os.IsNotExist(err) {
		return &api.StorageError{Cause: err}
	}
	return nil
}

// AppendRecord appends one newline-delimited record to the named log
// file (e.g. "installed_versions", "report_queue"), rewriting the
// whole file atomically so a crash mid-append cannot leave a torn
// record. Records must not themselves contain a newline; callers
// base64 or JSON-encode as needed.
func (s *Store) AppendRecord(name string, record []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	path := filepath.Join(s.root, name)
	existing, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return &api.StorageError{Cause: err}
	}
	buf := append(append([]byte{}, existing...), record...)
	buf = append(buf, '\n')
	return s.writeAtomic(path, buf)
}

// ReadRecords returns every record in the named log file, oldest
// first, or nil if the file does not exist.
func (s *Store) ReadRecords(name string) ([][]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, err := os.ReadFile(filepath.Join(s.root, name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, &api.StorageError{Cause: err}
	}
	var out [][]byte
	start := 0
	for i, c := range b {
		if c == '\n' {
			if i > start {
				out = append(out, b[start:i])
			}
			start = i + 1
		}
	}
	return out, nil
}

// WriteRecords overwrites the named log file with records, one per
// line. Used to implement FIFO pop (rewrite without the head) and
// truncation atomically.
func (s *Store) WriteRecords(name string, records [][]byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var buf []byte
	for _, r := range records {
		buf = append(buf, r...)
		buf = append(buf, '\n')
	}
	return s.writeAtomic(filepath.Join(s.root, name), buf)
}
