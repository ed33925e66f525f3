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

package codec

import (
	"encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestCanonicalizeSortsKeysAndStripsWhitespace(t *testing.T) {
	in := json.RawMessage(`{"b": 2, "a": [1, 2, 3], "c": "hi\n"}`)
	got, err := Canonicalize(in)
	if err != nil {
		t.Fatalf("Canonicalize() err = %v", err)
	}
	want := `{"a":[1,2,3],"b":2,"c":"hi\n"}`
	if diff := cmp.Diff(want, string(got)); diff != "" {
		t.Errorf("Canonicalize() mismatch (-want +got):\n%s", diff)
	}
}

func TestCanonicalizeIsIdempotent(t *testing.T) {
	in := json.RawMessage(`{"z":1,"a":{"y":2,"x":[3,2,1]},"version":7}`)
	once, err := Canonicalize(in)
	if err != nil {
		t.Fatalf("Canonicalize() err = %v", err)
	}
	twice, err := Canonicalize(json.RawMessage(once))
	if err != nil {
		t.Fatalf("Canonicalize(Canonicalize()) err = %v", err)
	}
	if diff := cmp.Diff(string(once), string(twice)); diff != "" {
		t.Errorf("Canonicalize() not idempotent (-once +twice):\n%s", diff)
	}
}

func TestCanonicalizeIntegerHasNoDecimalPoint(t *testing.T) {
	got, err := Canonicalize(json.RawMessage(`{"version": 3}`))
	if err != nil {
		t.Fatalf("Canonicalize() err = %v", err)
	}
	if string(got) != `{"version":3}` {
		t.Errorf("Canonicalize() = %s, want no decimal point on integers", got)
	}
}

func TestExtractVersionUntrusted(t *testing.T) {
	doc, err := ParseDocument([]byte(`{"signed":{"version":42,"_type":"root"},"signatures":[]}`))
	if err != nil {
		t.Fatalf("ParseDocument() err = %v", err)
	}
	v, err := ExtractVersionUntrusted(doc)
	if err != nil {
		t.Fatalf("ExtractVersionUntrusted() err = %v", err)
	}
	if v != 42 {
		t.Errorf("ExtractVersionUntrusted() = %d, want 42", v)
	}
}

func TestParseDocumentRejectsMissingSigned(t *testing.T) {
	if _, err := ParseDocument([]byte(`{"signatures":[]}`)); err == nil {
		t.Errorf("ParseDocument() err = nil, want MalformedMetadataError")
	}
}
