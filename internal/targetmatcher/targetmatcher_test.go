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

package targetmatcher

import (
	"errors"
	"testing"

	"github.com/usbarmory/uptane-primary/api"
)

func hash(algo api.HashAlgo, b byte) api.Hash {
	return api.Hash{Algo: algo, Digest: []byte{b}}
}

func TestMatchCrossRepoMismatch(t *testing.T) {
	director := map[string]api.Target{
		"fw-1.2.bin": {
			Filename:       "fw-1.2.bin",
			Hashes:         []api.Hash{hash(api.SHA256, 0xaa)},
			EcuIdentifiers: map[api.EcuSerial]api.HardwareId{"S1": "HW-A"},
		},
	}
	images := map[string]api.Target{
		"fw-1.2.bin": {Filename: "fw-1.2.bin", Hashes: []api.Hash{hash(api.SHA256, 0xbb)}},
	}
	known := KnownEcu{"S1": "HW-A"}
	resolved, _, err := Match(director, images, known)
	if err != nil {
		t.Fatalf("Match() err = %v, want nil (cross-repo mismatch drops the target, it does not abort)", err)
	}
	if len(resolved) != 0 {
		t.Errorf("Match() resolved %d targets, want 0", len(resolved))
	}
}

// TestMatchCrossRepoMismatchDoesNotBlockOtherTargets guards against a
// regression to whole-pass abort on CrossRepoMismatchError: one bad
// target must not prevent a legitimately resolvable target, addressed
// to a different ECU, from resolving in the same cycle.
func TestMatchCrossRepoMismatchDoesNotBlockOtherTargets(t *testing.T) {
	director := map[string]api.Target{
		"bad.bin": {
			Filename:       "bad.bin",
			Hashes:         []api.Hash{hash(api.SHA256, 0xaa)},
			EcuIdentifiers: map[api.EcuSerial]api.HardwareId{"S1": "HW-A"},
		},
		"good.bin": {
			Filename:       "good.bin",
			Hashes:         []api.Hash{hash(api.SHA256, 1)},
			EcuIdentifiers: map[api.EcuSerial]api.HardwareId{"S2": "HW-B"},
		},
	}
	images := map[string]api.Target{
		"bad.bin":  {Filename: "bad.bin", Hashes: []api.Hash{hash(api.SHA256, 0xbb)}},
		"good.bin": {Filename: "good.bin", Hashes: []api.Hash{hash(api.SHA256, 1)}},
	}
	known := KnownEcu{"S1": "HW-A", "S2": "HW-B"}
	resolved, _, err := Match(director, images, known)
	if err != nil {
		t.Fatalf("Match() err = %v, want nil", err)
	}
	if len(resolved) != 1 || resolved[0].Target.Filename != "good.bin" {
		t.Errorf("Match() resolved = %+v, want only good.bin", resolved)
	}
}

func TestMatchHardwareIdMismatchIsFatal(t *testing.T) {
	director := map[string]api.Target{
		"fw.bin": {
			Filename:       "fw.bin",
			Hashes:         []api.Hash{hash(api.SHA256, 1)},
			EcuIdentifiers: map[api.EcuSerial]api.HardwareId{"S1": "HW-B"},
		},
	}
	images := map[string]api.Target{
		"fw.bin": {Filename: "fw.bin", Hashes: []api.Hash{hash(api.SHA256, 1)}},
	}
	known := KnownEcu{"S1": "HW-A"}
	_, _, err := Match(director, images, known)
	var hwErr *api.HardwareIdMismatchError
	if !errors.As(err, &hwErr) {
		t.Fatalf("Match() err = %v, want HardwareIdMismatchError", err)
	}
	if hwErr.Serial != "S1" || hwErr.Want != "HW-A" || hwErr.Got != "HW-B" {
		t.Errorf("Match() err = %+v, unexpected fields", hwErr)
	}
}

// TestMatchUnknownEcuOnlyTargetIsExcluded mirrors getNewTargets()'s
// whole-target skip: a Director target whose ECU map references only
// an unknown serial addresses no ECU on this device and must not be
// resolved, let alone treated as a candidate update.
func TestMatchUnknownEcuOnlyTargetIsExcluded(t *testing.T) {
	director := map[string]api.Target{
		"fw.bin": {
			Filename:       "fw.bin",
			Hashes:         []api.Hash{hash(api.SHA256, 1)},
			EcuIdentifiers: map[api.EcuSerial]api.HardwareId{"unknown-serial": "HW-X"},
		},
	}
	images := map[string]api.Target{
		"fw.bin": {Filename: "fw.bin", Hashes: []api.Hash{hash(api.SHA256, 1)}},
	}
	resolved, unknown, err := Match(director, images, KnownEcu{})
	if err != nil {
		t.Fatalf("Match() err = %v, want nil", err)
	}
	if len(resolved) != 0 {
		t.Errorf("Match() resolved %d targets, want 0 (target addresses no known ecu)", len(resolved))
	}
	if len(unknown) != 1 || unknown[0].Serial != "unknown-serial" {
		t.Errorf("Match() unknown = %v, want [unknown-serial]", unknown)
	}
}

// TestMatchUnknownEcuAlongsideKnownEcuStillResolves covers the case
// getNewTargets() does not hit: a target whose map has at least one
// known ECU entry alongside an unknown one still resolves, logging the
// unknown serial without excluding the target.
func TestMatchUnknownEcuAlongsideKnownEcuStillResolves(t *testing.T) {
	director := map[string]api.Target{
		"fw.bin": {
			Filename: "fw.bin",
			Hashes:   []api.Hash{hash(api.SHA256, 1)},
			EcuIdentifiers: map[api.EcuSerial]api.HardwareId{
				"unknown-serial": "HW-X",
				"S1":             "HW-A",
			},
		},
	}
	images := map[string]api.Target{
		"fw.bin": {Filename: "fw.bin", Hashes: []api.Hash{hash(api.SHA256, 1)}},
	}
	known := KnownEcu{"S1": "HW-A"}
	resolved, unknown, err := Match(director, images, known)
	if err != nil {
		t.Fatalf("Match() err = %v, want nil", err)
	}
	if len(resolved) != 1 {
		t.Errorf("Match() resolved %d targets, want 1", len(resolved))
	}
	if len(unknown) != 1 || unknown[0].Serial != "unknown-serial" {
		t.Errorf("Match() unknown = %v, want [unknown-serial]", unknown)
	}
}

func TestIsNewSkipsAlreadyInstalled(t *testing.T) {
	target := api.Target{
		Filename:       "fw-2.0.bin",
		EcuIdentifiers: map[api.EcuSerial]api.HardwareId{"S1": "HW-A"},
	}
	installed := map[api.EcuSerial]string{"S1": "fw-2.0.bin"}
	if IsNew(target, installed) {
		t.Errorf("IsNew() = true, want false when already installed on every addressed ECU")
	}
	installed["S1"] = "fw-1.0.bin"
	if !IsNew(target, installed) {
		t.Errorf("IsNew() = false, want true when installed filename differs")
	}
}
