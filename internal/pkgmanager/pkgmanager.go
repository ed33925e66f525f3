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

// Package pkgmanager is a concrete PackageManager (spec.md §6) for the
// binary-target case: images are deployed as a single file atomically
// swapped into place, the same temp-file-plus-rename discipline
// rolestore uses for metadata. OSTree deployment is a distinct backend
// (a filesystem-tree checkout) and is out of scope for this core per
// spec.md §1; verifyTarget/fetchTarget below only handle Binary targets.
package pkgmanager

import (
	"crypto/sha256"
	"crypto/sha512"
	"io"
	"os"
	"path/filepath"

	"github.com/golang/glog"

	"github.com/usbarmory/uptane-primary/api"
)

// FilesystemManager installs Binary targets by atomic rename into a
// single current-image path, and reports that path's digest back as
// the "currently running" content for installog.Reconcile.
type FilesystemManager struct {
	// CurrentPath is the file the running image is loaded from.
	CurrentPath string
	// StagingDir holds downloaded payloads before install swaps them in.
	StagingDir string
}

// New returns a FilesystemManager rooted at currentPath/stagingDir.
func New(currentPath, stagingDir string) *FilesystemManager {
	return &FilesystemManager{CurrentPath: currentPath, StagingDir: stagingDir}
}

// Install atomically replaces CurrentPath with the staged payload for
// target, matching spec.md §4.6's ResultCode vocabulary. Binary
// targets install synchronously and never require a reboot to
// complete, so this returns ResultOk, ResultValidationFailed when the
// staged payload does not match target's hashes, or ResultInstallFailed.
func (m *FilesystemManager) Install(target api.Target) (api.InstallationResult, error) {
	stagedPath := filepath.Join(m.StagingDir, target.Filename)
	data, err := os.ReadFile(stagedPath)
	if err != nil {
		return api.InstallationResult{TargetFilename: target.Filename, Code: api.ResultInstallFailed, Description: err.Error()}, nil
	}
	if err := verifyHashes(data, target); err != nil {
		return api.InstallationResult{TargetFilename: target.Filename, Code: api.ResultValidationFailed, Description: err.Error()}, nil
	}
	if err := writeAtomic(m.CurrentPath, data); err != nil {
		return api.InstallationResult{TargetFilename: target.Filename, Code: api.ResultInstallFailed, Description: err.Error()}, nil
	}
	glog.Infof("pkgmanager: installed %s (%d bytes)", target.Filename, len(data))
	return api.InstallationResult{TargetFilename: target.Filename, Code: api.ResultOk}, nil
}

// GetCurrent returns a Target describing the image currently at
// CurrentPath, for installog.Reconcile to match against history.
func (m *FilesystemManager) GetCurrent() (api.Target, error) {
	data, err := os.ReadFile(m.CurrentPath)
	if err != nil {
		return api.Target{}, err
	}
	sum := sha256.Sum256(data)
	return api.Target{
		Filename: filepath.Base(m.CurrentPath),
		Length:   int64(len(data)),
		Hashes:   []api.Hash{{Algo: api.SHA256, Digest: sum[:]}},
	}, nil
}

// GetInstalledPackages reports the single image this manager tracks,
// matching the {name,version} shape spec.md §6 names for the
// PUT core/installed telemetry call.
func (m *FilesystemManager) GetInstalledPackages() ([]InstalledPackage, error) {
	cur, err := m.GetCurrent()
	if err != nil {
		return nil, err
	}
	return []InstalledPackage{{Name: "firmware", Version: cur.Filename}}, nil
}

// InstalledPackage is one entry of the PUT core/installed report.
type InstalledPackage struct {
	Name    string
	Version string
}

// ImageUpdated reports whether CurrentPath was swapped since the
// last time this process read it. FilesystemManager is stateless
// across restarts, so this always defers to the caller's own
// bookkeeping (installog); it is kept only to satisfy the interface
// shape named in spec.md §6.
func (m *FilesystemManager) ImageUpdated() bool { return false }

// FinalizeInstall re-checks CurrentPath against target after a
// reboot, completing the NeedsCompletion path of spec.md §8 scenario 6.
func (m *FilesystemManager) FinalizeInstall(target api.Target) (api.InstallationResult, error) {
	cur, err := m.GetCurrent()
	if err != nil {
		return api.InstallationResult{}, err
	}
	if !cur.EqualIdentity(target) {
		return api.InstallationResult{
			TargetFilename: target.Filename,
			Code:           api.ResultInstallFailed,
			Description:    "Wrong version booted",
		}, nil
	}
	return api.InstallationResult{TargetFilename: target.Filename, Code: api.ResultOk}, nil
}

// StagedPayload returns the raw bytes already downloaded for
// filename, for forwarding to a Secondary as firmware without a
// second fetch.
func (m *FilesystemManager) StagedPayload(filename string) ([]byte, error) {
	return os.ReadFile(filepath.Join(m.StagingDir, filename))
}

// VerifyStatus is the result of VerifyTarget: either the target's
// content is already staged and matches its declared hashes, or it is
// not present yet and must be fetched.
type VerifyStatus int

const (
	Good VerifyStatus = iota
	NotFound
)

// VerifyTarget reports whether target's payload is already staged and
// intact, avoiding a redundant fetch (spec.md §6).
func (m *FilesystemManager) VerifyTarget(target api.Target) (VerifyStatus, error) {
	data, err := os.ReadFile(filepath.Join(m.StagingDir, target.Filename))
	if err != nil {
		if os.IsNotExist(err) {
			return NotFound, nil
		}
		return NotFound, err
	}
	if verifyHashes(data, target) != nil {
		return NotFound, nil
	}
	return Good, nil
}

// FetchTarget downloads target's payload from src into the staging
// area, checking progress against cancel at the granularity spec.md
// §5 requires for Shutdown responsiveness.
func (m *FilesystemManager) FetchTarget(target api.Target, src io.Reader, cancel <-chan struct{}) error {
	dst, err := os.CreateTemp(m.StagingDir, ".tmp-fetch-*")
	if err != nil {
		return err
	}
	tmpPath := dst.Name()
	defer os.Remove(tmpPath)

	buf := make([]byte, 256*1024)
	var written int64
	for {
		select {
		case <-cancel:
			dst.Close()
			return errCanceled
		default:
		}
		n, err := src.Read(buf)
		if n > 0 {
			if _, werr := dst.Write(buf[:n]); werr != nil {
				dst.Close()
				return werr
			}
			written += int64(n)
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			dst.Close()
			return err
		}
	}
	if err := dst.Close(); err != nil {
		return err
	}
	data, err := os.ReadFile(tmpPath)
	if err != nil {
		return err
	}
	if err := verifyHashes(data, target); err != nil {
		return &api.DownloadHashMismatchError{Filename: target.Filename}
	}
	return writeAtomic(filepath.Join(m.StagingDir, target.Filename), data)
}

var errCanceled = downloadCanceled{}

type downloadCanceled struct{}

func (downloadCanceled) Error() string { return "download canceled" }

func verifyHashes(data []byte, target api.Target) error {
	for _, h := range target.Hashes {
		var sum []byte
		switch h.Algo {
		case api.SHA256:
			s := sha256.Sum256(data)
			sum = s[:]
		case api.SHA512:
			s := sha512.Sum512(data)
			sum = s[:]
		default:
			continue
		}
		if !(api.Hash{Algo: h.Algo, Digest: sum}).Equal(h) {
			return &api.DownloadHashMismatchError{Filename: target.Filename}
		}
	}
	return nil
}

func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpPath, path)
}
