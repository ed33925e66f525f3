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

// Package images implements the Images repository verification state
// machine: Root chain -> Timestamp -> Snapshot -> Targets
// (spec.md §4.4).
package images

import (
	"context"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"fmt"

	"github.com/usbarmory/uptane-primary/api"
	"github.com/usbarmory/uptane-primary/internal/metadoc"
	"github.com/usbarmory/uptane-primary/internal/nonroot"
	"github.com/usbarmory/uptane-primary/internal/rolestore"
	"github.com/usbarmory/uptane-primary/internal/rootchain"
	"github.com/usbarmory/uptane-primary/internal/transport"
)

const snapshotMetaKey = "snapshot.json"
const targetsMetaKey = "targets.json"

// Repo is the Images repository verification state machine.
type Repo struct {
	store   *rolestore.Store
	fetcher transport.Fetcher

	Trusted rootchain.Trusted
	Targets map[string]api.Target
}

// New returns a Repo bound to store and fetcher. Call Advance to run
// one verification cycle.
func New(store *rolestore.Store, fetcher transport.Fetcher) *Repo {
	return &Repo{store: store, fetcher: fetcher}
}

// Advance runs one online verification cycle: root chain, then
// (unconditionally) Timestamp, Snapshot and Targets. It returns
// whether the Targets role changed relative to what was previously
// stored.
func (r *Repo) Advance(ctx context.Context) (bool, error) {
	trusted, rotated, err := rootchain.Advance(ctx, api.Images, r.store, r.fetcher)
	if err != nil {
		return false, err
	}
	r.Trusted = trusted
	if rotated {
		// New root may have revoked timestamp/snapshot/targets
		// signers; rootchain.Advance already cleared the stored
		// copies (spec.md §4.3 ClearNonRoot contract).
	}

	storedTimestampRaw, err := r.store.LoadNonRoot(api.Images, api.RoleTimestamp)
	if err != nil {
		return false, err
	}
	var priorTimestampVersion int64
	if storedTimestampRaw != nil {
		if doc, derr := nonroot.Verify(trusted, api.Images, api.RoleTimestamp, storedTimestampRaw); derr == nil {
			priorTimestampVersion = doc.Version
		}
	}

	tsRaw, err := r.fetcher.FetchLatest(ctx, api.Images, api.RoleTimestamp, transport.MaxTimestampSize)
	if err != nil {
		return false, err
	}
	tsVerified, err := nonroot.Verify(trusted, api.Images, api.RoleTimestamp, tsRaw)
	if err != nil {
		return false, err
	}
	if tsVerified.Version < priorTimestampVersion {
		return false, &api.VersionRollbackError{Repo: api.Images, Role: api.RoleTimestamp, Have: priorTimestampVersion, Remote: tsVerified.Version}
	}
	timestamp, err := metadoc.ParseTimestamp(tsVerified.Doc.Signed)
	if err != nil {
		return false, err
	}
	snapshotDecl, ok := timestamp.Meta[snapshotMetaKey]
	if !ok {
		return false, &api.MalformedMetadataError{Cause: fmt.Errorf("timestamp does not declare %s", snapshotMetaKey)}
	}
	if tsVerified.Version > priorTimestampVersion {
		if err := r.store.StoreNonRoot(api.Images, api.RoleTimestamp, tsRaw); err != nil {
			return false, err
		}
	}

	snapshotCap := transport.MaxSnapshotSizeDefault
	if snapshotDecl.Length > 0 {
		snapshotCap = snapshotDecl.Length
	}

	storedSnapshotRaw, err := r.store.LoadNonRoot(api.Images, api.RoleSnapshot)
	if err != nil {
		return false, err
	}
	var priorSnapshotVersion int64
	var priorSnapshotMeta map[string]metadoc.MetaFile
	if storedSnapshotRaw != nil {
		if doc, derr := nonroot.Verify(trusted, api.Images, api.RoleSnapshot, storedSnapshotRaw); derr == nil {
			priorSnapshotVersion = doc.Version
			if parsed, perr := metadoc.ParseSnapshot(doc.Doc.Signed); perr == nil {
				priorSnapshotMeta = parsed.Meta
			}
		}
	}

	snapRaw, err := r.fetcher.FetchLatest(ctx, api.Images, api.RoleSnapshot, snapshotCap)
	if err != nil {
		return false, err
	}
	if snapshotDecl.Length > 0 && int64(len(snapRaw)) > snapshotDecl.Length {
		return false, &api.MetadataIntegrityError{Repo: api.Images, Role: api.RoleSnapshot, Detail: "fetched snapshot exceeds length declared by timestamp"}
	}
	if err := checkDeclaredHashes(snapshotDecl, snapRaw, api.Images, api.RoleSnapshot); err != nil {
		return false, err
	}
	snapVerified, err := nonroot.Verify(trusted, api.Images, api.RoleSnapshot, snapRaw)
	if err != nil {
		return false, err
	}
	if snapVerified.Version < priorSnapshotVersion {
		return false, &api.VersionRollbackError{Repo: api.Images, Role: api.RoleSnapshot, Have: priorSnapshotVersion, Remote: snapVerified.Version}
	}
	snapshot, err := metadoc.ParseSnapshot(snapVerified.Doc.Signed)
	if err != nil {
		return false, err
	}
	for role, prior := range priorSnapshotMeta {
		cur, ok := snapshot.Meta[role]
		if !ok {
			return false, &api.MetadataIntegrityError{Repo: api.Images, Role: api.RoleSnapshot, Detail: fmt.Sprintf("role %q missing from new snapshot", role)}
		}
		if cur.Version < prior.Version {
			return false, &api.VersionRollbackError{Repo: api.Images, Role: api.RoleSnapshot, Have: prior.Version, Remote: cur.Version}
		}
	}
	if snapVerified.Version > priorSnapshotVersion {
		if err := r.store.StoreNonRoot(api.Images, api.RoleSnapshot, snapRaw); err != nil {
			return false, err
		}
	}

	targetsDecl, ok := snapshot.Meta[targetsMetaKey]
	if !ok {
		return false, &api.MalformedMetadataError{Cause: fmt.Errorf("snapshot does not declare %s", targetsMetaKey)}
	}
	targetsCap := transport.MaxImagesTargetsSize
	if targetsDecl.Length > 0 {
		targetsCap = targetsDecl.Length
	}

	storedTargetsRaw, err := r.store.LoadNonRoot(api.Images, api.RoleTargets)
	if err != nil {
		return false, err
	}
	var priorTargetsVersion int64
	if storedTargetsRaw != nil {
		if doc, derr := nonroot.Verify(trusted, api.Images, api.RoleTargets, storedTargetsRaw); derr == nil {
			priorTargetsVersion = doc.Version
		}
	}

	tgtRaw, err := r.fetcher.FetchLatest(ctx, api.Images, api.RoleTargets, targetsCap)
	if err != nil {
		return false, err
	}
	tgtVerified, err := nonroot.Verify(trusted, api.Images, api.RoleTargets, tgtRaw)
	if err != nil {
		return false, err
	}
	if tgtVerified.Version != targetsDecl.Version {
		return false, &api.MetadataIntegrityError{Repo: api.Images, Role: api.RoleTargets, Detail: fmt.Sprintf("snapshot pins targets version %d, fetched %d", targetsDecl.Version, tgtVerified.Version)}
	}
	if tgtVerified.Version < priorTargetsVersion {
		return false, &api.VersionRollbackError{Repo: api.Images, Role: api.RoleTargets, Have: priorTargetsVersion, Remote: tgtVerified.Version}
	}
	_, targets, err := metadoc.ParseTargets(tgtVerified.Doc.Signed)
	if err != nil {
		return false, err
	}
	changed := tgtVerified.Version != priorTargetsVersion
	if changed {
		if err := r.store.StoreNonRoot(api.Images, api.RoleTargets, tgtRaw); err != nil {
			return false, err
		}
	}
	r.Targets = targets
	return changed, nil
}

// checkDeclaredHashes verifies raw's digest matches every hash meta
// declares, when meta declares any (spec.md §4.4's "reject if its
// recorded Snapshot metadata hash/length does not match").
func checkDeclaredHashes(meta metadoc.MetaFile, raw []byte, repo api.RepoName, role api.Role) error {
	for algo, wantHex := range meta.Hashes {
		var got string
		switch algo {
		case "sha256":
			sum := sha256.Sum256(raw)
			got = hex.EncodeToString(sum[:])
		case "sha512":
			sum := sha512.Sum512(raw)
			got = hex.EncodeToString(sum[:])
		default:
			continue
		}
		if got != wantHex {
			return &api.MetadataIntegrityError{Repo: repo, Role: role, Detail: fmt.Sprintf("%s hash mismatch", algo)}
		}
	}
	return nil
}

// Find returns the Images target for filename, if the last Advance
// found one.
func (r *Repo) Find(filename string) (api.Target, bool) {
	t, ok := r.Targets[filename]
	return t, ok
}
