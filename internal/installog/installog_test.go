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

package installog

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/usbarmory/uptane-primary/api"
	"github.com/usbarmory/uptane-primary/internal/rolestore"
)

func newStore(t *testing.T) *rolestore.Store {
	t.Helper()
	store, err := rolestore.Open(t.TempDir())
	if err != nil {
		t.Fatalf("rolestore.Open() err = %v", err)
	}
	return store
}

func TestAppendAllRoundTripsOldestFirst(t *testing.T) {
	store := newStore(t)
	l := New(store)

	entries := []api.InstalledVersion{
		{
			Target:      api.Target{Filename: "fw-1.bin", Length: 4, Hashes: []api.Hash{{Algo: api.SHA256, Digest: []byte{1, 2, 3, 4}}}},
			Ecu:         "PRIMARY",
			InstalledAt: time.Now().Add(-time.Hour).UTC(),
		},
		{
			Target:      api.Target{Filename: "fw-2.bin", Length: 5, Hashes: []api.Hash{{Algo: api.SHA256, Digest: []byte{5, 6, 7, 8, 9}}}},
			Ecu:         "PRIMARY",
			InstalledAt: time.Now().UTC(),
		},
	}
	for _, e := range entries {
		if err := l.Append(e); err != nil {
			t.Fatalf("Append(%+v) err = %v", e, err)
		}
	}

	got, err := l.All()
	if err != nil {
		t.Fatalf("All() err = %v", err)
	}
	if diff := cmp.Diff(entries, got, cmpopts.EquateApproxTime(time.Second)); diff != "" {
		t.Errorf("All() mismatch (-want +got):\n%s", diff)
	}
}

func TestReconcileMatchesNewestEntryWithDigest(t *testing.T) {
	store := newStore(t)
	l := New(store)

	older := api.InstalledVersion{
		Target:      api.Target{Filename: "fw-1.bin", Hashes: []api.Hash{{Algo: api.SHA256, Digest: []byte{1, 2, 3, 4}}}},
		Ecu:         "PRIMARY",
		InstalledAt: time.Now().Add(-time.Hour).UTC(),
	}
	newer := api.InstalledVersion{
		Target:      api.Target{Filename: "fw-2.bin", Hashes: []api.Hash{{Algo: api.SHA256, Digest: []byte{5, 6, 7, 8}}}},
		Ecu:         "PRIMARY",
		InstalledAt: time.Now().UTC(),
	}
	// A reinstall of fw-1.bin's content later than fw-2.bin, so a scan
	// that stopped at the first match by filename rather than by digest
	// would get this wrong.
	reinstall := api.InstalledVersion{
		Target:      older.Target,
		Ecu:         "PRIMARY",
		InstalledAt: time.Now().Add(time.Hour).UTC(),
	}
	for _, e := range []api.InstalledVersion{older, newer, reinstall} {
		if err := l.Append(e); err != nil {
			t.Fatalf("Append(%+v) err = %v", e, err)
		}
	}

	got, err := l.Reconcile(older.Target.Hashes[0], "PRIMARY")
	if err != nil {
		t.Fatalf("Reconcile() err = %v", err)
	}
	// InstalledAt is persisted as RFC 3339 at whole-second precision.
	wantAt := reinstall.InstalledAt.Truncate(time.Second)
	if !got.InstalledAt.Equal(wantAt) {
		t.Errorf("Reconcile() returned entry installed at %v, want the newest match at %v", got.InstalledAt, wantAt)
	}
	if got.Target.Filename != "fw-1.bin" {
		t.Errorf("Reconcile() Target.Filename = %q, want fw-1.bin", got.Target.Filename)
	}
}

func TestReconcileSynthesizesTargetWhenNoEntryMatches(t *testing.T) {
	store := newStore(t)
	l := New(store)

	if err := l.Append(api.InstalledVersion{
		Target: api.Target{Filename: "fw-1.bin", Hashes: []api.Hash{{Algo: api.SHA256, Digest: []byte{1, 2, 3, 4}}}},
		Ecu:    "PRIMARY",
	}); err != nil {
		t.Fatalf("Append() err = %v", err)
	}

	observed := api.Hash{Algo: api.SHA256, Digest: []byte{9, 9, 9, 9}}
	got, err := l.Reconcile(observed, "PRIMARY")
	if err != nil {
		t.Fatalf("Reconcile() err = %v", err)
	}
	if got.Ecu != "PRIMARY" {
		t.Errorf("Reconcile() Ecu = %q, want PRIMARY", got.Ecu)
	}
	if len(got.Target.Hashes) != 1 || !got.Target.Hashes[0].Equal(observed) {
		t.Errorf("Reconcile() synthetic target hashes = %+v, want [%+v]", got.Target.Hashes, observed)
	}
	if got.Target.Filename == "" || got.Target.Filename == "fw-1.bin" {
		t.Errorf("Reconcile() synthetic target filename = %q, want a synthesized unknown- name", got.Target.Filename)
	}
}

func TestReconcileOnEmptyLogSynthesizesTarget(t *testing.T) {
	store := newStore(t)
	l := New(store)

	observed := api.Hash{Algo: api.SHA256, Digest: []byte{1, 2, 3}}
	got, err := l.Reconcile(observed, "PRIMARY")
	if err != nil {
		t.Fatalf("Reconcile() err = %v", err)
	}
	if len(got.Target.Hashes) != 1 || !got.Target.Hashes[0].Equal(observed) {
		t.Errorf("Reconcile() on empty log = %+v, want synthetic target carrying the observed digest", got.Target)
	}
}
