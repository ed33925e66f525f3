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

// Package targetmatcher resolves a Director target to its matching
// Images target, checks ECU addressing against this device's
// provisioned fleet, and computes the delta against the currently
// installed set (spec.md §4.5).
package targetmatcher

import (
	"github.com/golang/glog"

	"github.com/usbarmory/uptane-primary/api"
)

// KnownEcu is the provisioned (serial -> hardware id) mapping fixed at
// device provisioning.
type KnownEcu map[api.EcuSerial]api.HardwareId

// Resolved is a Director target successfully matched against its
// Images counterpart, carrying the hashes/length/ecu-map from the
// Director target unchanged into later stages (spec.md §4.5).
type Resolved struct {
	Target api.Target
	// FetchURI is the Images target's custom URI if it declared one,
	// otherwise empty (meaning: use the configured remote).
	FetchURI string
}

// Match resolves every target the Director lists against the current
// Images Targets role, enforcing spec.md I3/I4 and the ECU hard-error
// rule.
//
// A target addressing only unknown ECU serials matches
// getNewTargets()'s "is_new = false; break" whole-target skip: it is
// excluded from resolved entirely rather than resolved against a
// device it does not address. unknownEcus collects one
// UnknownEcuError per skipped serial for logging by the caller.
//
// A target that fails cross-repo matching (no Images counterpart, or
// a hash mismatch) is dropped from resolved on its own; other targets
// in the same Director Targets document still resolve. A
// HardwareIdMismatchError, by contrast, indicates misdirection and
// aborts the whole pass.
func Match(directorTargets map[string]api.Target, imagesTargets map[string]api.Target, known KnownEcu) (resolved []Resolved, unknownEcus []*api.UnknownEcuError, err error) {
	for filename, dt := range directorTargets {
		hasKnownEcu := false
		for serial, hwid := range dt.EcuIdentifiers {
			wantHwid, ok := known[serial]
			if !ok {
				unknownEcus = append(unknownEcus, &api.UnknownEcuError{Serial: serial})
				continue
			}
			if wantHwid != hwid {
				return nil, unknownEcus, &api.HardwareIdMismatchError{Serial: serial, Want: wantHwid, Got: hwid}
			}
			hasKnownEcu = true
		}
		if !hasKnownEcu {
			continue
		}

		it, ok := imagesTargets[filename]
		if !ok || !dt.HashSubsetOf(it) {
			glog.Warningf("targetmatcher: %v, skipping target", &api.CrossRepoMismatchError{Filename: filename})
			continue
		}

		r := Resolved{Target: dt, FetchURI: it.CustomURI}
		resolved = append(resolved, r)
	}
	return resolved, unknownEcus, nil
}

// IsNew reports whether target addresses at least one ECU whose
// currently-installed filename differs from target's filename. A
// target already matching every addressed ECU's installed filename is
// not new and is skipped by the caller (spec.md §4.5).
// installedFilenames maps each provisioned ECU serial to the filename
// currently installed on it.
func IsNew(target api.Target, installedFilenames map[api.EcuSerial]string) bool {
	for serial := range target.EcuIdentifiers {
		if installedFilenames[serial] != target.Filename {
			return true
		}
	}
	return false
}
