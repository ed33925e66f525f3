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

package bootloader

import "testing"

func TestRebootDetectedRoundTrip(t *testing.T) {
	b := New(t.TempDir())

	_, detected, err := b.RebootDetected()
	if err != nil {
		t.Fatalf("RebootDetected() err = %v", err)
	}
	if detected {
		t.Fatalf("RebootDetected() = true before any flag set")
	}

	if err := b.RebootFlagSet("fw-2.0.bin"); err != nil {
		t.Fatalf("RebootFlagSet() err = %v", err)
	}
	filename, detected, err := b.RebootDetected()
	if err != nil {
		t.Fatalf("RebootDetected() err = %v", err)
	}
	if !detected || filename != "fw-2.0.bin" {
		t.Fatalf("RebootDetected() = (%q, %v), want (fw-2.0.bin, true)", filename, detected)
	}

	if err := b.RebootFlagClear(); err != nil {
		t.Fatalf("RebootFlagClear() err = %v", err)
	}
	_, detected, err = b.RebootDetected()
	if err != nil {
		t.Fatalf("RebootDetected() err = %v", err)
	}
	if detected {
		t.Fatalf("RebootDetected() = true after clear")
	}
}
