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

// Package secondary fans root rotation and target fan-out out to the
// Secondary ECUs addressed by an install, one connection per ECU, none
// of them able to abort the others (spec.md §4.7).
package secondary

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/usbarmory/uptane-primary/api"
	"github.com/usbarmory/uptane-primary/internal/rolestore"
)

// ECU is the Secondary interface (spec.md §6), owned exclusively by a
// Dispatcher for the duration of one fan-out.
type ECU interface {
	Serial() api.EcuSerial
	HwId() (api.HardwareId, error)
	PublicKey() (api.PublicKey, error)
	RootVersion(ctx context.Context, repo api.RepoName) (int64, error)
	PutRoot(ctx context.Context, repo api.RepoName, raw []byte) error
	PutMetadata(ctx context.Context, bundle MetadataBundle) error
	SendFirmware(ctx context.Context, payload FirmwarePayload) error
	Manifest(ctx context.Context) ([]byte, error)
}

// MetadataBundle is the set of current role documents pushed to a
// Secondary after root rotation, one per repository.
type MetadataBundle struct {
	DirectorTargets []byte
	ImagesTimestamp []byte
	ImagesSnapshot  []byte
	ImagesTargets   []byte
}

// FirmwarePayload is what putFirmware sends: either a raw binary
// stream, or for OSTree targets, an archive of TLS credentials plus
// the remote URL the Secondary pulls from directly (spec.md §4.7).
type FirmwarePayload struct {
	Target api.Target
	Binary []byte
	// OSTreeRemoteURL and OSTreeCredentials are set instead of Binary
	// when Target.Type == api.ImageOSTree.
	OSTreeRemoteURL   string
	OSTreeCredentials []byte
}

// Result is the per-ECU outcome of one fan-out, recorded even on
// failure so the caller can report it without aborting the others.
type Result struct {
	Serial api.EcuSerial
	Err    error
}

// Dispatcher drives root rotation and metadata/firmware push across a
// fixed set of Secondary ECUs.
type Dispatcher struct {
	store *rolestore.Store
	ecus  []ECU
}

// New returns a Dispatcher owning ecus for the duration of its calls.
func New(store *rolestore.Store, ecus []ECU) *Dispatcher {
	return &Dispatcher{store: store, ecus: ecus}
}

// RotateRoots pushes every root version a Secondary has not yet seen,
// Director first then Images, for each ECU concurrently. A Secondary
// that falls behind because of a transient failure is retried on the
// next cycle; it does not block its siblings (spec.md §4.7 step 1).
func (d *Dispatcher) RotateRoots(ctx context.Context) []Result {
	return d.fanOut(ctx, func(ctx context.Context, e ECU) error {
		for _, repo := range []api.RepoName{api.Director, api.Images} {
			if err := d.rotateOne(ctx, e, repo); err != nil {
				return err
			}
		}
		return nil
	})
}

func (d *Dispatcher) rotateOne(ctx context.Context, e ECU, repo api.RepoName) error {
	vSec, err := e.RootVersion(ctx, repo)
	if err != nil {
		return &api.SecondaryUnreachableError{Serial: e.Serial(), Cause: err}
	}
	vLoc, _, err := d.store.LoadLatestRoot(repo)
	if err != nil {
		return err
	}
	for v := vSec + 1; v <= vLoc; v++ {
		raw, err := d.store.LoadRoot(repo, v)
		if err != nil {
			return err
		}
		if err := e.PutRoot(ctx, repo, raw); err != nil {
			return &api.SecondaryUnreachableError{Serial: e.Serial(), Cause: err}
		}
	}
	return nil
}

// PutMetadata pushes the current Director Targets and Images
// Timestamp/Snapshot/Targets documents to every ECU (spec.md §4.7 step 2).
func (d *Dispatcher) PutMetadata(ctx context.Context) []Result {
	bundle, err := d.loadBundle()
	if err != nil {
		out := make([]Result, len(d.ecus))
		for i, e := range d.ecus {
			out[i] = Result{Serial: e.Serial(), Err: err}
		}
		return out
	}
	return d.fanOut(ctx, func(ctx context.Context, e ECU) error {
		if err := e.PutMetadata(ctx, bundle); err != nil {
			return &api.SecondaryUnreachableError{Serial: e.Serial(), Cause: err}
		}
		return nil
	})
}

func (d *Dispatcher) loadBundle() (MetadataBundle, error) {
	dt, err := d.store.LoadNonRoot(api.Director, api.RoleTargets)
	if err != nil {
		return MetadataBundle{}, err
	}
	ts, err := d.store.LoadNonRoot(api.Images, api.RoleTimestamp)
	if err != nil {
		return MetadataBundle{}, err
	}
	ss, err := d.store.LoadNonRoot(api.Images, api.RoleSnapshot)
	if err != nil {
		return MetadataBundle{}, err
	}
	it, err := d.store.LoadNonRoot(api.Images, api.RoleTargets)
	if err != nil {
		return MetadataBundle{}, err
	}
	return MetadataBundle{DirectorTargets: dt, ImagesTimestamp: ts, ImagesSnapshot: ss, ImagesTargets: it}, nil
}

// PutFirmware sends payload to every ECU in targets whose serial is
// addressed by that ECU's target (spec.md §4.7 step 3). Each (ecu,
// payload) pair not present in targets is left untouched.
func (d *Dispatcher) PutFirmware(ctx context.Context, targets map[api.EcuSerial]FirmwarePayload) []Result {
	return d.fanOut(ctx, func(ctx context.Context, e ECU) error {
		payload, ok := targets[e.Serial()]
		if !ok {
			return nil
		}
		if err := e.SendFirmware(ctx, payload); err != nil {
			return &api.SecondaryUnreachableError{Serial: e.Serial(), Cause: err}
		}
		return nil
	})
}

// Manifests collects each ECU's signed version manifest, omitting any
// ECU whose manifest could not be retrieved (the caller, not this
// package, verifies the signature and decides whether to omit it from
// the aggregate submitted to the Director).
func (d *Dispatcher) Manifests(ctx context.Context) map[api.EcuSerial][]byte {
	out := make(map[api.EcuSerial][]byte)
	var mu sync.Mutex
	results := d.fanOut(ctx, func(ctx context.Context, e ECU) error {
		m, err := e.Manifest(ctx)
		if err != nil {
			return &api.SecondaryUnreachableError{Serial: e.Serial(), Cause: err}
		}
		mu.Lock()
		out[e.Serial()] = m
		mu.Unlock()
		return nil
	})
	_ = results // failures already reflected by the ECU's absence from out
	return out
}

// fanOut runs fn against every ECU concurrently via errgroup, without
// letting one ECU's error cancel the others: each failure is captured
// as a Result rather than returned to the group, so g.Wait() never
// sees a non-nil error and never cancels gctx early.
func (d *Dispatcher) fanOut(ctx context.Context, fn func(context.Context, ECU) error) []Result {
	results := make([]Result, len(d.ecus))
	g, gctx := errgroup.WithContext(ctx)
	for i, e := range d.ecus {
		i, e := i, e
		g.Go(func() error {
			results[i] = Result{Serial: e.Serial(), Err: fn(gctx, e)}
			return nil
		})
	}
	g.Wait()
	return results
}
