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

// Package api contains the wire-level data model shared by the Uptane
// Director and Images repositories: hashes, keys, roles, targets and
// the installation bookkeeping types derived from them.
package api

import (
	"encoding/json"
	"time"
)

// HashAlgo identifies a supported digest algorithm.
type HashAlgo string

const (
	SHA256 HashAlgo = "sha256"
	SHA512 HashAlgo = "sha512"
)

// Hash is a tagged digest. Equality is algorithm-and-digest.
type Hash struct {
	Algo   HashAlgo
	Digest []byte
}

// Equal reports whether h and o name the same algorithm and digest.
func (h Hash) Equal(o Hash) bool {
	if h.Algo != o.Algo || len(h.Digest) != len(o.Digest) {
		return false
	}
	for i := range h.Digest {
		if h.Digest[i] != o.Digest[i] {
			return false
		}
	}
	return true
}

// KeyType identifies the public key algorithm.
type KeyType string

const (
	KeyTypeRSA2048  KeyType = "rsa2048"
	KeyTypeRSA4096  KeyType = "rsa4096"
	KeyTypeED25519  KeyType = "ed25519"
	KeyTypeUnknown  KeyType = "unknown"
)

// PublicKey is a tagged public key. KeyID is the SHA-256 digest of the
// canonical JSON of the key's Uptane representation (see api/keyset.KeyID),
// and is the only handle used inside role metadata to reference a key.
type PublicKey struct {
	Type KeyType
	// Value is the raw key material: PKIX DER for RSA, 32 raw bytes for ED25519.
	Value []byte
}

// uptaneKeyJSON is the canonical Uptane/TUF representation of a key.
// Nothing in this package refers to it: api/keyset.KeyID builds its
// own hashing input, and internal/rootchain decodes root documents
// with its own key type.
type uptaneKeyJSON struct {
	KeyType string `json:"keytype"`
	KeyVal  struct {
		Public string `json:"public"`
	} `json:"keyval"`
}

// Role names one of the four top-level Uptane/TUF roles.
type Role string

const (
	RoleRoot      Role = "root"
	RoleTargets   Role = "targets"
	RoleTimestamp Role = "timestamp"
	RoleSnapshot  Role = "snapshot"
)

// RepoName tags which of the two Uptane repositories a value belongs to.
type RepoName string

const (
	Director RepoName = "director"
	Images   RepoName = "images"
)

// ImageType distinguishes the two supported target payload shapes.
type ImageType string

const (
	ImageOSTree ImageType = "ostree"
	ImageBinary ImageType = "binary"
)

// EcuSerial is an opaque per-ECU identifier fixed at provisioning.
type EcuSerial string

// HardwareId is an opaque per-ECU-model identifier fixed at provisioning.
type HardwareId string

// Target describes a single named firmware image as listed by a role.
type Target struct {
	Filename string
	Length   int64
	Hashes   []Hash
	// EcuIdentifiers maps addressed ECU serials to the hardware id the
	// Director claims that ECU has. Only present on Director targets.
	EcuIdentifiers map[EcuSerial]HardwareId
	// CustomURI is an optional per-target fetch override, taken from
	// the Images Targets role's custom field for this filename.
	CustomURI string
	Type      ImageType
}

// EqualIdentity reports whether t and o have the same filename, length
// and hash set (the equality relation spec.md defines for targets).
func (t Target) EqualIdentity(o Target) bool {
	if t.Filename != o.Filename || t.Length != o.Length {
		return false
	}
	if len(t.Hashes) != len(o.Hashes) {
		return false
	}
	for _, h := range t.Hashes {
		found := false
		for _, oh := range o.Hashes {
			if h.Equal(oh) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// HashSubsetOf reports whether every hash in t is present in o, which
// is the check spec.md I4 requires between a Director target and its
// matching Images target.
func (t Target) HashSubsetOf(o Target) bool {
	for _, h := range t.Hashes {
		found := false
		for _, oh := range o.Hashes {
			if h.Equal(oh) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// InstalledVersion is a Target annotated with when, and on which ECU,
// it was installed.
type InstalledVersion struct {
	Target      Target
	InstalledAt time.Time
	Ecu         EcuSerial
}

// ResultCode enumerates the outcomes an install attempt may report.
type ResultCode string

const (
	ResultOk               ResultCode = "ok"
	ResultAlreadyProcessed ResultCode = "already_processed"
	ResultInProgress       ResultCode = "in_progress"
	ResultNeedsCompletion  ResultCode = "needs_completion"
	ResultValidationFailed ResultCode = "validation_failed"
	ResultInstallFailed    ResultCode = "install_failed"
	ResultGeneralFailure   ResultCode = "general_failure"
)

// InstallationResult is the outcome of one install attempt on one ECU.
type InstallationResult struct {
	TargetFilename string
	Code           ResultCode
	Description    string
}

// SignedDocument is the envelope every role document (and the
// manifests this core produces) is wrapped in: a raw signed body plus
// the signatures over its canonical form.
type SignedDocument struct {
	Signed     json.RawMessage `json:"signed"`
	Signatures []Signature     `json:"signatures"`
}

// Signature is one signature over a SignedDocument's Signed body.
type Signature struct {
	KeyID string `json:"keyid"`
	Sig   string `json:"sig"` // base64
}

// RoleKeys is the authorized keyset and threshold for one role within
// one repository, as declared by that repository's current Root.
type RoleKeys struct {
	KeyIDs    []string
	Threshold int
}
