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

package secondary

import (
	"context"
	"errors"
	"testing"

	"github.com/usbarmory/uptane-primary/api"
	"github.com/usbarmory/uptane-primary/internal/rolestore"
)

type fakeECU struct {
	serial      api.EcuSerial
	rootVersion map[api.RepoName]int64
	pushedRoots map[api.RepoName][]int64
	putErr      error
	manifest    []byte
	manifestErr error
}

func (f *fakeECU) Serial() api.EcuSerial             { return f.serial }
func (f *fakeECU) HwId() (api.HardwareId, error)     { return "HW-A", nil }
func (f *fakeECU) PublicKey() (api.PublicKey, error) { return api.PublicKey{}, nil }

func (f *fakeECU) RootVersion(ctx context.Context, repo api.RepoName) (int64, error) {
	return f.rootVersion[repo], nil
}

func (f *fakeECU) PutRoot(ctx context.Context, repo api.RepoName, raw []byte) error {
	if f.putErr != nil {
		return f.putErr
	}
	if f.pushedRoots == nil {
		f.pushedRoots = map[api.RepoName][]int64{}
	}
	f.pushedRoots[repo] = append(f.pushedRoots[repo], int64(len(f.pushedRoots[repo]))+1)
	return nil
}

func (f *fakeECU) PutMetadata(ctx context.Context, bundle MetadataBundle) error { return f.putErr }
func (f *fakeECU) SendFirmware(ctx context.Context, payload FirmwarePayload) error {
	return f.putErr
}
func (f *fakeECU) Manifest(ctx context.Context) ([]byte, error) { return f.manifest, f.manifestErr }

func newStoreWithRoots(t *testing.T, repo api.RepoName, versions ...int64) *rolestore.Store {
	store, err := rolestore.Open(t.TempDir())
	if err != nil {
		t.Fatalf("rolestore.Open() err = %v", err)
	}
	for _, v := range versions {
		if err := store.StoreRoot(repo, v, []byte(`{"v":1}`)); err != nil {
			t.Fatalf("StoreRoot(%d) err = %v", v, err)
		}
	}
	return store
}

func TestRotateRootsPushesMissingVersionsOnly(t *testing.T) {
	store := newStoreWithRoots(t, api.Director, 1, 2, 3)
	if err := store.StoreRoot(api.Images, 1, []byte(`{"v":1}`)); err != nil {
		t.Fatalf("StoreRoot err = %v", err)
	}
	e := &fakeECU{serial: "S1", rootVersion: map[api.RepoName]int64{api.Director: 1, api.Images: 1}}
	d := New(store, []ECU{e})

	results := d.RotateRoots(context.Background())
	if len(results) != 1 || results[0].Err != nil {
		t.Fatalf("RotateRoots() = %+v, want one success", results)
	}
	if got := len(e.pushedRoots[api.Director]); got != 2 {
		t.Errorf("pushed %d director roots, want 2 (versions 2 and 3)", got)
	}
	if got := len(e.pushedRoots[api.Images]); got != 0 {
		t.Errorf("pushed %d images roots, want 0 (already at latest)", got)
	}
}

func TestFanOutIsolatesPerEcuFailures(t *testing.T) {
	store := newStoreWithRoots(t, api.Director, 1)
	good := &fakeECU{serial: "good", rootVersion: map[api.RepoName]int64{api.Director: 1, api.Images: 0}}
	bad := &fakeECU{serial: "bad", rootVersion: map[api.RepoName]int64{api.Director: 1, api.Images: 0}, putErr: errors.New("unreachable")}
	d := New(store, []ECU{good, bad})

	results := d.PutMetadata(context.Background())
	if len(results) != 2 {
		t.Fatalf("PutMetadata() returned %d results, want 2", len(results))
	}
	var sawGoodOK, sawBadErr bool
	for _, r := range results {
		if r.Serial == "good" && r.Err == nil {
			sawGoodOK = true
		}
		if r.Serial == "bad" && r.Err != nil {
			var unreachable *api.SecondaryUnreachableError
			if !errors.As(r.Err, &unreachable) {
				t.Errorf("bad ECU error = %v, want SecondaryUnreachableError", r.Err)
			}
			sawBadErr = true
		}
	}
	if !sawGoodOK || !sawBadErr {
		t.Errorf("results = %+v, want good ok and bad failed independently", results)
	}
}

func TestManifestsOmitsFailedEcu(t *testing.T) {
	store := newStoreWithRoots(t, api.Director, 1)
	ok := &fakeECU{serial: "ok", manifest: []byte(`{"signed":{}}`)}
	fail := &fakeECU{serial: "fail", manifestErr: errors.New("timeout")}
	d := New(store, []ECU{ok, fail})

	manifests := d.Manifests(context.Background())
	if len(manifests) != 1 {
		t.Fatalf("Manifests() = %v, want exactly one entry", manifests)
	}
	if _, present := manifests["ok"]; !present {
		t.Errorf("Manifests() missing entry for ok ECU")
	}
	if _, present := manifests["fail"]; present {
		t.Errorf("Manifests() unexpectedly has entry for failed ECU")
	}
}
