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

// Package reportqueue is a durable FIFO of event reports awaiting
// delivery to the backend, with at-least-once semantics: an entry is
// only removed once the caller confirms it was accepted. Each entry is
// wrapped in a golang.org/x/mod/sumdb/note envelope, the same signed
// note format the teacher uses for checkpoints and release manifests,
// repurposed here to sign outgoing queue entries rather than verify
// incoming ones.
package reportqueue

import (
	"encoding/base64"
	"encoding/json"

	"golang.org/x/mod/sumdb/note"

	"github.com/google/uuid"
	"github.com/usbarmory/uptane-primary/api"
	"github.com/usbarmory/uptane-primary/internal/rolestore"
)

const queueName = "report_queue"

// Entry is one queued report.
type Entry struct {
	ID      string          `json:"id"`
	Kind    string          `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

// Queue is a durable signed-entry FIFO backed by a rolestore.Store.
type Queue struct {
	store  *rolestore.Store
	signer note.Signer
}

// New returns a Queue backed by store. signer is optional: if nil,
// entries are stored unsigned (useful for tests and for reports whose
// integrity is already covered by an outer transport-level signature).
func New(store *rolestore.Store, signer note.Signer) *Queue {
	return &Queue{store: store, signer: signer}
}

// Enqueue appends kind/payload as a new entry at the tail of the FIFO.
func (q *Queue) Enqueue(kind string, payload interface{}) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return &api.StorageError{Cause: err}
	}
	e := Entry{ID: uuid.NewString(), Kind: kind, Payload: raw}
	body, err := json.Marshal(e)
	if err != nil {
		return &api.StorageError{Cause: err}
	}
	if q.signer != nil {
		signed, err := note.Sign(&note.Note{Text: string(body) + "\n"}, q.signer)
		if err != nil {
			return &api.StorageError{Cause: err}
		}
		body = []byte(base64.StdEncoding.EncodeToString(signed))
	} else {
		body = []byte(base64.StdEncoding.EncodeToString(body))
	}
	return q.store.AppendRecord(queueName, body)
}

// Peek returns every queued entry, oldest first, without removing
// them. Used to drive at-least-once delivery: the caller attempts
// delivery of everything Peek returns, then calls Ack with exactly the
// IDs that were accepted by the backend.
func (q *Queue) Peek(verifiers note.Verifiers) ([]Entry, error) {
	raws, err := q.store.ReadRecords(queueName)
	if err != nil {
		return nil, err
	}
	out := make([]Entry, 0, len(raws))
	for _, raw := range raws {
		decoded, err := base64.StdEncoding.DecodeString(string(raw))
		if err != nil {
			return nil, &api.MalformedMetadataError{Cause: err}
		}
		body := decoded
		if verifiers != nil {
			n, err := note.Open(decoded, verifiers)
			if err != nil {
				return nil, &api.SignatureInvalidError{}
			}
			body = []byte(n.Text)
		}
		var e Entry
		if err := json.Unmarshal(body, &e); err != nil {
			return nil, &api.MalformedMetadataError{Cause: err}
		}
		out = append(out, e)
	}
	return out, nil
}

// Ack removes the entries named by ids from the queue. Entries not
// present are ignored, so re-acking is safe.
func (q *Queue) Ack(ids []string) error {
	keep := map[string]bool{}
	for _, id := range ids {
		keep[id] = true
	}
	entries, err := q.Peek(nil)
	if err != nil {
		return err
	}
	raws, err := q.store.ReadRecords(queueName)
	if err != nil {
		return err
	}
	var remaining [][]byte
	for i, e := range entries {
		if !keep[e.ID] {
			remaining = append(remaining, raws[i])
		}
	}
	return q.store.WriteRecords(queueName, remaining)
}
