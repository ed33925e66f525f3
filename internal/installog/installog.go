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

// Package installog is the append-only history of attempted installs
// and the current-version reconciliation logic that derives "what is
// actually running" from it (spec.md §4.8).
package installog

import (
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/usbarmory/uptane-primary/api"
	"github.com/usbarmory/uptane-primary/internal/rolestore"
)

const logName = "installed_versions"

type record struct {
	Filename       string            `json:"filename"`
	Length         int64             `json:"length"`
	Hashes         map[string]string `json:"hashes"`
	Ecu            string            `json:"ecu"`
	InstalledAtUTC string            `json:"installed_at"`
}

// Log is the append-only installation history.
type Log struct {
	store *rolestore.Store
}

// New returns a Log backed by store.
func New(store *rolestore.Store) *Log {
	return &Log{store: store}
}

// Append records an install attempt's resulting version.
func (l *Log) Append(iv api.InstalledVersion) error {
	rec := toRecord(iv)
	raw, err := json.Marshal(rec)
	if err != nil {
		return &api.StorageError{Cause: err}
	}
	return l.store.AppendRecord(logName, raw)
}

func toRecord(iv api.InstalledVersion) record {
	hashes := map[string]string{}
	for _, h := range iv.Target.Hashes {
		hashes[string(h.Algo)] = hex.EncodeToString(h.Digest)
	}
	return record{
		Filename:       iv.Target.Filename,
		Length:         iv.Target.Length,
		Hashes:         hashes,
		Ecu:            string(iv.Ecu),
		InstalledAtUTC: iv.InstalledAt.UTC().Format(time.RFC3339),
	}
}

func fromRecord(r record) (api.InstalledVersion, error) {
	var hashes []api.Hash
	for algo, hexDigest := range r.Hashes {
		var a api.HashAlgo
		switch algo {
		case string(api.SHA256):
			a = api.SHA256
		case string(api.SHA512):
			a = api.SHA512
		default:
			continue
		}
		d, err := hex.DecodeString(hexDigest)
		if err != nil {
			return api.InstalledVersion{}, &api.MalformedMetadataError{Cause: err}
		}
		hashes = append(hashes, api.Hash{Algo: a, Digest: d})
	}
	t, err := time.Parse(time.RFC3339, r.InstalledAtUTC)
	if err != nil {
		return api.InstalledVersion{}, &api.MalformedMetadataError{Cause: err}
	}
	return api.InstalledVersion{
		Target: api.Target{
			Filename: r.Filename,
			Length:   r.Length,
			Hashes:   hashes,
		},
		Ecu:         api.EcuSerial(r.Ecu),
		InstalledAt: t,
	}, nil
}

// All returns every entry, oldest first.
func (l *Log) All() ([]api.InstalledVersion, error) {
	raws, err := l.store.ReadRecords(logName)
	if err != nil {
		return nil, err
	}
	out := make([]api.InstalledVersion, 0, len(raws))
	for _, raw := range raws {
		var r record
		if err := json.Unmarshal(raw, &r); err != nil {
			return nil, &api.MalformedMetadataError{Cause: err}
		}
		iv, err := fromRecord(r)
		if err != nil {
			return nil, err
		}
		out = append(out, iv)
	}
	return out, nil
}

// digestHex renders a content digest the way PackageManager.getCurrent
// reports it, for matching against log entries.
func digestHex(h api.Hash) string { return hex.EncodeToString(h.Digest) }

// Reconcile scans the log newest-to-oldest for an entry whose hash set
// contains observedDigest, returning the matching InstalledVersion. If
// no entry matches (fresh device, or a factory image installed outside
// this core), it returns a synthetic target carrying only the observed
// digest and an empty ECU map so the backend can still identify the
// device (spec.md §4.8).
func (l *Log) Reconcile(observedDigest api.Hash, ecu api.EcuSerial) (api.InstalledVersion, error) {
	entries, err := l.All()
	if err != nil {
		return api.InstalledVersion{}, err
	}
	for i := len(entries) - 1; i >= 0; i-- {
		for _, h := range entries[i].Target.Hashes {
			if h.Equal(observedDigest) {
				return entries[i], nil
			}
		}
	}
	return api.InstalledVersion{
		Target: api.Target{
			Filename: "unknown-" + digestHex(observedDigest)[:min(16, len(digestHex(observedDigest)))],
			Hashes:   []api.Hash{observedDigest},
		},
		Ecu:         ecu,
		InstalledAt: time.Now().UTC(),
	}, nil
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
