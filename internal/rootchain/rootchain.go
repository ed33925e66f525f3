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

// Package rootchain implements root-chain verification and rotation,
// the logic common to both the Director and Images repository state
// machines (spec.md §4.4, "Root chain verification (common to both
// repos)").
package rootchain

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/usbarmory/uptane-primary/api"
	"github.com/usbarmory/uptane-primary/api/codec"
	"github.com/usbarmory/uptane-primary/api/keyset"
	"github.com/usbarmory/uptane-primary/internal/rolestore"
	"github.com/usbarmory/uptane-primary/internal/transport"
)

// rootSigned is the decoded signed body of a root role document.
type rootSigned struct {
	Type    string              `json:"_type"`
	Version int64               `json:"version"`
	Expires time.Time           `json:"expires"`
	Keys    map[string]keyEntry `json:"keys"`
	Roles   map[string]roleEntry `json:"roles"`
}

type keyEntry struct {
	KeyType string `json:"keytype"`
	KeyVal  struct {
		Public string `json:"public"`
	} `json:"keyval"`
}

type roleEntry struct {
	KeyIDs    []string `json:"keyids"`
	Threshold int      `json:"threshold"`
}

func (s rootSigned) toKeySet() (keyset.Set, error) {
	ks := keyset.Set{Keys: map[string]api.PublicKey{}}
	for id, ke := range s.Keys {
		pub, err := decodeKey(ke)
		if err != nil {
			return keyset.Set{}, err
		}
		ks.Keys[id] = pub
	}
	return ks, nil
}

func decodeKey(ke keyEntry) (api.PublicKey, error) {
	raw, err := base64.StdEncoding.DecodeString(ke.KeyVal.Public)
	if err != nil {
		return api.PublicKey{}, &api.MalformedMetadataError{Cause: err}
	}
	var t api.KeyType
	switch ke.KeyType {
	case "rsa":
		if len(raw) > 500 {
			t = api.KeyTypeRSA4096
		} else {
			t = api.KeyTypeRSA2048
		}
	case "ed25519":
		t = api.KeyTypeED25519
	default:
		t = api.KeyTypeUnknown
	}
	return api.PublicKey{Type: t, Value: raw}, nil
}

func (s rootSigned) authFor(role api.Role) (keyset.RoleAuthorization, bool) {
	re, ok := s.Roles[string(role)]
	if !ok {
		return keyset.RoleAuthorization{}, false
	}
	ids := map[string]bool{}
	for _, id := range re.KeyIDs {
		ids[id] = true
	}
	return keyset.RoleAuthorization{KeyIDs: ids, Threshold: re.Threshold}, true
}

// Trusted is the verified state derived from a repository's current
// Root: the keyset, and the per-role authorization table every
// subsequent non-root fetch is checked against.
type Trusted struct {
	Version int64
	Expires time.Time
	KeySet  keyset.Set
	Roles   map[api.Role]keyset.RoleAuthorization
}

// RoleAuth resolves the authorization for role, or ok=false if this
// root does not declare one (malformed root).
func (t Trusted) RoleAuth(role api.Role) (keyset.RoleAuthorization, bool) {
	ra, ok := t.Roles[role]
	return ra, ok
}

func toTrusted(s rootSigned, ks keyset.Set) Trusted {
	roles := map[api.Role]keyset.RoleAuthorization{}
	for _, role := range []api.Role{api.RoleRoot, api.RoleTargets, api.RoleTimestamp, api.RoleSnapshot} {
		if ra, ok := s.authFor(role); ok {
			roles[role] = ra
		}
	}
	return Trusted{Version: s.Version, Expires: s.Expires, KeySet: ks, Roles: roles}
}

// verifySelfConsistent checks that doc's signatures meet doc's own
// declared root threshold, over doc's own canonical signed body.
func verifySelfConsistent(doc *api.SignedDocument, signed rootSigned) error {
	ks, err := signed.toKeySet()
	if err != nil {
		return err
	}
	auth, ok := signed.authFor(api.RoleRoot)
	if !ok {
		return &api.MalformedMetadataError{Cause: fmt.Errorf("root document has no root role entry")}
	}
	canon, err := codec.Canonicalize(doc.Signed)
	if err != nil {
		return err
	}
	got, err := keyset.VerifyThreshold(ks, auth, canon, doc.Signatures)
	if err != nil {
		return err
	}
	if got < auth.Threshold {
		return &api.ThresholdUnmetError{Role: api.RoleRoot, Got: got, Want: auth.Threshold}
	}
	return nil
}

// verifyUnderKeySet checks that doc's signatures meet auth's threshold
// using keys resolved from ks.
func verifyUnderKeySet(doc *api.SignedDocument, ks keyset.Set, auth keyset.RoleAuthorization) (int, error) {
	canon, err := codec.Canonicalize(doc.Signed)
	if err != nil {
		return 0, err
	}
	return keyset.VerifyThreshold(ks, auth, canon, doc.Signatures)
}

func parseRoot(raw []byte) (*api.SignedDocument, rootSigned, error) {
	doc, err := codec.ParseDocument(raw)
	if err != nil {
		return nil, rootSigned{}, err
	}
	var signed rootSigned
	if err := json.Unmarshal(doc.Signed, &signed); err != nil {
		return nil, rootSigned{}, &api.MalformedMetadataError{Cause: err}
	}
	if signed.Type != "" && signed.Type != string(api.RoleRoot) {
		return nil, rootSigned{}, &api.MalformedMetadataError{Cause: fmt.Errorf("expected root document, got _type=%q", signed.Type)}
	}
	return doc, signed, nil
}

// Advance runs the root chain verification and rotation procedure of
// spec.md §4.4 for repo, returning the resulting Trusted root state
// and whether any rotation (including cold-start TOFU adoption)
// occurred. On rotation, the store's non-root roles for repo are
// cleared as required by spec.md I2/§4.3.
func Advance(ctx context.Context, repo api.RepoName, store *rolestore.Store, fetcher transport.Fetcher) (Trusted, bool, error) {
	storedVersion, storedBytes, err := store.LoadLatestRoot(repo)
	if err != nil {
		return Trusted{}, false, err
	}

	rotated := false
	if storedBytes == nil {
		// Cold start: trust-on-first-use of version 1, then carry on
		// below to walk the chain from it up to the latest remote root.
		raw, err := fetcher.FetchRootVersion(ctx, repo, 1, transport.MaxRootSize)
		if err != nil {
			return Trusted{}, false, err
		}
		doc, signed, err := parseRoot(raw)
		if err != nil {
			return Trusted{}, false, err
		}
		if err := verifySelfConsistent(doc, signed); err != nil {
			return Trusted{}, false, err
		}
		if !signed.Expires.After(time.Now()) {
			return Trusted{}, false, &api.ExpiredMetadataError{Repo: repo, Role: api.RoleRoot}
		}
		if err := store.StoreRoot(repo, signed.Version, raw); err != nil {
			return Trusted{}, false, err
		}
		if err := store.ClearNonRoot(repo); err != nil {
			return Trusted{}, false, err
		}
		storedVersion, storedBytes = signed.Version, raw
		rotated = true
	}

	_, storedSigned, err := parseRoot(storedBytes)
	if err != nil {
		// A corrupt, already-persisted root violates I1's durability
		// guarantee. Per spec.md §7 this is unrecoverable: halt rather
		// than silently re-adopting an unverified document.
		return Trusted{}, false, &api.MalformedMetadataError{Cause: fmt.Errorf("stored root %s/%d is corrupt: %w", repo, storedVersion, err)}
	}
	storedKS, err := storedSigned.toKeySet()
	if err != nil {
		return Trusted{}, false, err
	}
	trusted := toTrusted(storedSigned, storedKS)

	latestRaw, err := fetcher.FetchLatest(ctx, repo, api.RoleRoot, transport.MaxRootSize)
	if err != nil {
		return Trusted{}, false, err
	}
	latestDoc, err := codec.ParseDocument(latestRaw)
	if err != nil {
		return Trusted{}, false, err
	}
	remoteVersion, err := codec.ExtractVersionUntrusted(latestDoc)
	if err != nil {
		return Trusted{}, false, err
	}

	if remoteVersion < storedVersion {
		return trusted, false, &api.VersionRollbackError{Repo: repo, Role: api.RoleRoot, Have: storedVersion, Remote: remoteVersion}
	}
	if remoteVersion == storedVersion {
		// No-op: nothing is written and no rotation occurs, but the
		// fetched document is still verified against both its own
		// declared threshold and the currently-trusted keyset, so a
		// same-version document with an invalid or insufficient
		// signature is not silently ignored.
		latestDoc, latestSigned, err := parseRoot(latestRaw)
		if err != nil {
			return trusted, false, err
		}
		if err := verifySelfConsistent(latestDoc, latestSigned); err != nil {
			return trusted, false, err
		}
		auth, ok := trusted.RoleAuth(api.RoleRoot)
		if !ok {
			return trusted, false, &api.MalformedMetadataError{Cause: fmt.Errorf("prior trusted root has no root role entry")}
		}
		got, err := verifyUnderKeySet(latestDoc, trusted.KeySet, auth)
		if err != nil {
			return trusted, false, err
		}
		if got < auth.Threshold {
			return trusted, false, &api.ThresholdUnmetError{Role: api.RoleRoot, Got: got, Want: auth.Threshold}
		}
		if trusted.Expires.Before(time.Now()) {
			return trusted, false, &api.ExpiredMetadataError{Repo: repo, Role: api.RoleRoot}
		}
		return trusted, rotated, nil
	}

	for v := storedVersion + 1; v <= remoteVersion; v++ {
		var raw []byte
		var err error
		if v == remoteVersion {
			raw = latestRaw
		} else {
			raw, err = fetcher.FetchRootVersion(ctx, repo, v, transport.MaxRootSize)
			if err != nil {
				return trusted, rotated, err
			}
		}
		doc, signed, err := parseRoot(raw)
		if err != nil {
			return trusted, rotated, err
		}
		if signed.Version != v {
			return trusted, rotated, &api.MalformedMetadataError{Cause: fmt.Errorf("expected root version %d, got %d", v, signed.Version)}
		}

		oldAuth, ok := trusted.RoleAuth(api.RoleRoot)
		if !ok {
			return trusted, rotated, &api.MalformedMetadataError{Cause: fmt.Errorf("prior trusted root has no root role entry")}
		}
		gotOld, err := verifyUnderKeySet(doc, trusted.KeySet, oldAuth)
		if err != nil {
			return trusted, rotated, err
		}
		if gotOld < oldAuth.Threshold {
			return trusted, rotated, &api.UnmetThresholdAfterRotationError{Repo: repo, Version: v}
		}

		if err := verifySelfConsistent(doc, signed); err != nil {
			return trusted, rotated, &api.UnmetThresholdAfterRotationError{Repo: repo, Version: v}
		}

		newKS, err := signed.toKeySet()
		if err != nil {
			return trusted, rotated, err
		}
		trusted = toTrusted(signed, newKS)

		if err := store.StoreRoot(repo, v, raw); err != nil {
			return trusted, rotated, err
		}
		if err := store.ClearNonRoot(repo); err != nil {
			return trusted, rotated, err
		}
		rotated = true
	}

	if !trusted.Expires.After(time.Now()) {
		return trusted, rotated, &api.ExpiredMetadataError{Repo: repo, Role: api.RoleRoot}
	}

	return trusted, rotated, nil
}
