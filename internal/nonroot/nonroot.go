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

// Package nonroot holds the signature/expiry verification step shared
// by every non-root role (Timestamp, Snapshot, Targets) of both
// repositories. Version monotonicity and role-specific cross-checks
// (size caps from a parent role, named-role rollback in Snapshot) are
// the caller's responsibility since they differ per role.
package nonroot

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/usbarmory/uptane-primary/api"
	"github.com/usbarmory/uptane-primary/api/codec"
	"github.com/usbarmory/uptane-primary/api/keyset"
	"github.com/usbarmory/uptane-primary/internal/rootchain"
)

// Verified is the outcome of checking one non-root role document
// against a repository's trusted root.
type Verified struct {
	Doc     *api.SignedDocument
	Version int64
}

// Verify parses raw, checks its signatures meet the threshold
// authorized for role by trusted, and checks it has not expired. It
// does not check version monotonicity against anything previously
// stored.
func Verify(trusted rootchain.Trusted, repo api.RepoName, role api.Role, raw []byte) (Verified, error) {
	doc, err := codec.ParseDocument(raw)
	if err != nil {
		return Verified{}, err
	}
	version, err := codec.ExtractVersionUntrusted(doc)
	if err != nil {
		return Verified{}, err
	}
	auth, ok := trusted.RoleAuth(role)
	if !ok {
		return Verified{}, &api.MalformedMetadataError{Cause: errNoRoleEntry(role)}
	}
	canon, err := codec.Canonicalize(doc.Signed)
	if err != nil {
		return Verified{}, err
	}
	var expires time.Time
	if err := extractExpires(doc.Signed, &expires); err != nil {
		return Verified{}, err
	}
	got, err := verifyThreshold(trusted, auth, canon, doc.Signatures)
	if err != nil {
		return Verified{}, err
	}
	if got < auth.Threshold {
		return Verified{}, &api.ThresholdUnmetError{Repo: repo, Role: role, Got: got, Want: auth.Threshold}
	}
	if !expires.After(timeNow()) {
		return Verified{}, &api.ExpiredMetadataError{Repo: repo, Role: role}
	}
	return Verified{Doc: doc, Version: version}, nil
}

// timeNow is a var so tests can pin it; production code never
// assumes a trusted time source per spec.md §4.4's "tested with the
// process's wall clock" rule, it just uses the wall clock.
var timeNow = time.Now

func errNoRoleEntry(role api.Role) error {
	return fmt.Errorf("trusted root has no authorization entry for role %q", role)
}

func extractExpires(signed json.RawMessage, out *time.Time) error {
	var v struct {
		Expires time.Time `json:"expires"`
	}
	if err := json.Unmarshal(signed, &v); err != nil {
		return &api.MalformedMetadataError{Cause: err}
	}
	*out = v.Expires
	return nil
}

func verifyThreshold(trusted rootchain.Trusted, auth keyset.RoleAuthorization, canonical []byte, sigs []api.Signature) (int, error) {
	return keyset.VerifyThreshold(trusted.KeySet, auth, canonical, sigs)
}
