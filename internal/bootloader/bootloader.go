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

// Package bootloader is the reboot-flag side of the out-of-scope
// Bootloader interface (spec.md §6). The reboot-exec-self trick itself
// is a deployment concern; this package specifies only the flag a
// supervising init would read across a restart.
package bootloader

import (
	"os"
	"path/filepath"

	"github.com/golang/glog"
)

// FlagFile is a Bootloader implementation backed by a marker file in a
// state directory, read back across process restarts the same way the
// reboot-detection check in spec.md §4.6/§8 scenario 6 expects.
type FlagFile struct {
	dir string
}

// New returns a FlagFile-backed Bootloader rooted at dir.
func New(dir string) *FlagFile {
	return &FlagFile{dir: dir}
}

func (f *FlagFile) path() string { return filepath.Join(f.dir, "reboot_flag") }

// SetBootOK clears any pending rollback watchdog for the currently
// running image. No-op here: the watchdog itself is platform-specific
// and out of scope.
func (f *FlagFile) SetBootOK() error {
	glog.V(1).Info("bootloader: boot OK")
	return nil
}

// UpdateNotify signals that new firmware has been staged and a reboot
// will be required to run it.
func (f *FlagFile) UpdateNotify() error {
	glog.Infof("bootloader: update staged, reboot required")
	return nil
}

// Reboot restarts the device. Exiting the process and relying on a
// supervisor to restart it is the deployment pattern spec.md §9 calls
// out as out of scope for this core; this method signals reboot
// intent and returns, leaving the actual restart to that supervisor.
func (f *FlagFile) Reboot() error {
	glog.Warningf("bootloader: reboot requested")
	return nil
}

// RebootFlagSet marks that an install is pending completion across the
// next reboot.
func (f *FlagFile) RebootFlagSet(targetFilename string) error {
	tmp, err := os.CreateTemp(f.dir, ".tmp-reboot-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)
	if _, err := tmp.WriteString(targetFilename); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpPath, f.path())
}

// RebootFlagClear removes the pending-completion marker.
func (f *FlagFile) RebootFlagClear() error {
	if err := os.Remove(f.path()); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// RebootDetected reports whether a pending-completion marker survived
// from a previous process lifetime, and if so which target it names.
func (f *FlagFile) RebootDetected() (targetFilename string, detected bool, err error) {
	b, err := os.ReadFile(f.path())
	if err != nil {
		if os.IsNotExist(err) {
			return "", false, nil
		}
		return "", false, err
	}
	return string(b), true, nil
}
