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

// Package director implements the Director repository verification
// state machine: Root chain -> Targets. The Director dialect spec.md
// §4.4 describes has no Timestamp or Snapshot role.
package director

import (
	"context"

	"github.com/usbarmory/uptane-primary/api"
	"github.com/usbarmory/uptane-primary/internal/metadoc"
	"github.com/usbarmory/uptane-primary/internal/nonroot"
	"github.com/usbarmory/uptane-primary/internal/rolestore"
	"github.com/usbarmory/uptane-primary/internal/rootchain"
	"github.com/usbarmory/uptane-primary/internal/transport"
)

// Repo is the Director repository verification state machine.
type Repo struct {
	store   *rolestore.Store
	fetcher transport.Fetcher

	Trusted rootchain.Trusted
	Targets map[string]api.Target
}

// New returns a Repo bound to store and fetcher.
func New(store *rolestore.Store, fetcher transport.Fetcher) *Repo {
	return &Repo{store: store, fetcher: fetcher}
}

// Advance runs one online verification cycle: root chain, then
// Targets. It returns whether Targets changed relative to what was
// previously stored.
func (r *Repo) Advance(ctx context.Context) (bool, error) {
	trusted, _, err := rootchain.Advance(ctx, api.Director, r.store, r.fetcher)
	if err != nil {
		return false, err
	}
	r.Trusted = trusted

	storedRaw, err := r.store.LoadNonRoot(api.Director, api.RoleTargets)
	if err != nil {
		return false, err
	}
	var priorVersion int64
	if storedRaw != nil {
		if doc, derr := nonroot.Verify(trusted, api.Director, api.RoleTargets, storedRaw); derr == nil {
			priorVersion = doc.Version
		}
	}

	raw, err := r.fetcher.FetchLatest(ctx, api.Director, api.RoleTargets, transport.MaxDirectorTargetsSize)
	if err != nil {
		return false, err
	}
	verified, err := nonroot.Verify(trusted, api.Director, api.RoleTargets, raw)
	if err != nil {
		return false, err
	}
	if verified.Version < priorVersion {
		return false, &api.VersionRollbackError{Repo: api.Director, Role: api.RoleTargets, Have: priorVersion, Remote: verified.Version}
	}
	_, targets, err := metadoc.ParseTargets(verified.Doc.Signed)
	if err != nil {
		return false, err
	}
	changed := verified.Version != priorVersion
	if changed {
		if err := r.store.StoreNonRoot(api.Director, api.RoleTargets, raw); err != nil {
			return false, err
		}
	}
	r.Targets = targets
	return changed, nil
}

// Find returns the Director target for filename, if the last Advance
// found one.
func (r *Repo) Find(filename string) (api.Target, bool) {
	t, ok := r.Targets[filename]
	return t, ok
}
