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

// Package metadoc decodes the signed bodies of the Timestamp,
// Snapshot and Targets roles into the in-memory shapes the director
// and images state machines operate on. Signature verification
// happens before decoding (internal/nonroot); this package is pure
// parsing, mirroring api/codec's "no I/O, structural errors only"
// discipline.
package metadoc

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/usbarmory/uptane-primary/api"
)

// MetaFile is one entry in a Timestamp's or Snapshot's "meta" map:
// the version (and, for Timestamp's snapshot entry, length/hashes) of
// a child role document.
type MetaFile struct {
	Version int64             `json:"version"`
	Length  int64             `json:"length,omitempty"`
	Hashes  map[string]string `json:"hashes,omitempty"`
}

// TimestampSigned is the decoded signed body of a Timestamp role.
type TimestampSigned struct {
	Type    string              `json:"_type"`
	Version int64               `json:"version"`
	Expires time.Time           `json:"expires"`
	Meta    map[string]MetaFile `json:"meta"`
}

// SnapshotSigned is the decoded signed body of a Snapshot role.
type SnapshotSigned struct {
	Type    string              `json:"_type"`
	Version int64               `json:"version"`
	Expires time.Time           `json:"expires"`
	Meta    map[string]MetaFile `json:"meta"`
}

// ParseTimestamp decodes signed into a TimestampSigned.
func ParseTimestamp(signed json.RawMessage) (TimestampSigned, error) {
	var t TimestampSigned
	if err := json.Unmarshal(signed, &t); err != nil {
		return TimestampSigned{}, &api.MalformedMetadataError{Cause: err}
	}
	return t, nil
}

// ParseSnapshot decodes signed into a SnapshotSigned.
func ParseSnapshot(signed json.RawMessage) (SnapshotSigned, error) {
	var s SnapshotSigned
	if err := json.Unmarshal(signed, &s); err != nil {
		return SnapshotSigned{}, &api.MalformedMetadataError{Cause: err}
	}
	return s, nil
}

// targetFileEntry is one entry in a Targets role's "targets" map.
type targetFileEntry struct {
	Length int64             `json:"length"`
	Hashes map[string]string `json:"hashes"`
	Custom targetCustom      `json:"custom"`
}

type targetCustom struct {
	EcuIdentifiers map[string]string `json:"ecuIdentifiers,omitempty"`
	URI            string            `json:"uri,omitempty"`
	TargetFormat   string            `json:"targetFormat,omitempty"`
}

// TargetsSigned is the decoded signed body of a Targets role.
type TargetsSigned struct {
	Type    string                     `json:"_type"`
	Version int64                      `json:"version"`
	Expires time.Time                  `json:"expires"`
	Targets map[string]targetFileEntry `json:"targets"`
}

// ParseTargets decodes signed into a TargetsSigned and its targets
// into api.Target values keyed by filename.
func ParseTargets(signed json.RawMessage) (TargetsSigned, map[string]api.Target, error) {
	var ts TargetsSigned
	if err := json.Unmarshal(signed, &ts); err != nil {
		return TargetsSigned{}, nil, &api.MalformedMetadataError{Cause: err}
	}
	out := make(map[string]api.Target, len(ts.Targets))
	for filename, entry := range ts.Targets {
		hashes, err := decodeHashes(entry.Hashes)
		if err != nil {
			return TargetsSigned{}, nil, err
		}
		t := api.Target{
			Filename: filename,
			Length:   entry.Length,
			Hashes:   hashes,
			CustomURI: entry.Custom.URI,
			Type:      api.ImageBinary,
		}
		if entry.Custom.TargetFormat == "OSTREE" {
			t.Type = api.ImageOSTree
		}
		if len(entry.Custom.EcuIdentifiers) > 0 {
			t.EcuIdentifiers = make(map[api.EcuSerial]api.HardwareId, len(entry.Custom.EcuIdentifiers))
			for serial, hwid := range entry.Custom.EcuIdentifiers {
				t.EcuIdentifiers[api.EcuSerial(serial)] = api.HardwareId(hwid)
			}
		}
		out[filename] = t
	}
	return ts, out, nil
}

func decodeHashes(in map[string]string) ([]api.Hash, error) {
	var out []api.Hash
	for algo, hexDigest := range in {
		var a api.HashAlgo
		switch algo {
		case "sha256":
			a = api.SHA256
		case "sha512":
			a = api.SHA512
		default:
			continue // unsupported algorithm, ignored per spec.md §3 "intersected with local support"
		}
		d, err := hex.DecodeString(hexDigest)
		if err != nil {
			return nil, &api.MalformedMetadataError{Cause: fmt.Errorf("invalid hex hash for %s: %w", algo, err)}
		}
		out = append(out, api.Hash{Algo: a, Digest: d})
	}
	if len(out) == 0 {
		return nil, &api.MalformedMetadataError{Cause: fmt.Errorf("target has no hashes in a locally supported algorithm")}
	}
	return out, nil
}
