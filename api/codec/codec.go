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

// Package codec parses and canonicalizes signed Uptane/TUF metadata
// documents. It performs no I/O and holds no trust state: callers in
// internal/director and internal/images are responsible for deciding
// whether a parsed document is actually trusted.
package codec

import (
	"bytes"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"

	"github.com/usbarmory/uptane-primary/api"
)

// ParseDocument splits a role document into its signed body and
// signature list. It does not verify anything.
func ParseDocument(raw []byte) (*api.SignedDocument, error) {
	var doc api.SignedDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, &api.MalformedMetadataError{Cause: err}
	}
	if len(doc.Signed) == 0 {
		return nil, &api.MalformedMetadataError{Cause: fmt.Errorf("missing signed body")}
	}
	return &doc, nil
}

// ExtractVersionUntrusted returns signed.version without verifying any
// signature. It exists solely to let a caller decide whether a fetch
// is even worth attempting before paying for verification.
func ExtractVersionUntrusted(doc *api.SignedDocument) (int64, error) {
	var v struct {
		Version int64 `json:"version"`
	}
	if err := json.Unmarshal(doc.Signed, &v); err != nil {
		return 0, &api.MalformedMetadataError{Cause: err}
	}
	return v.Version, nil
}

// Canonicalize renders value as the deterministic byte string that is
// the Uptane signing domain: sorted object keys, minimal whitespace,
// numbers as described on canonicalNumber, and string escapes \" and
// \\ for quote/backslash, \n, \r and \t for those control characters,
// and \u00XX for every other control character below 0x20.
//
// value must already be the decoded form of a signed body (a
// json.RawMessage or anything encoding/json can marshal); Canonicalize
// re-decodes into a generic representation first so that key order in
// the input is irrelevant.
func Canonicalize(value json.RawMessage) ([]byte, error) {
	var generic interface{}
	dec := json.NewDecoder(bytes.NewReader(value))
	dec.UseNumber()
	if err := dec.Decode(&generic); err != nil {
		return nil, &api.MalformedMetadataError{Cause: err}
	}
	var buf bytes.Buffer
	if err := encodeCanonical(&buf, generic); err != nil {
		return nil, &api.MalformedMetadataError{Cause: err}
	}
	return buf.Bytes(), nil
}

func encodeCanonical(buf *bytes.Buffer, v interface{}) error {
	switch t := v.(type) {
	case nil:
		buf.WriteString("null")
	case bool:
		if t {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case json.Number:
		buf.WriteString(canonicalNumber(t))
	case string:
		encodeCanonicalString(buf, t)
	case []interface{}:
		buf.WriteByte('[')
		for i, e := range t {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := encodeCanonical(buf, e); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case map[string]interface{}:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			encodeCanonicalString(buf, k)
			buf.WriteByte(':')
			if err := encodeCanonical(buf, t[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	default:
		return fmt.Errorf("codec: unsupported value of type %T in canonical form", v)
	}
	return nil
}

// canonicalNumber renders a json.Number that parses as an int64 in
// plain decimal form, which is how Uptane's canonical JSON writes
// version numbers and lengths. Any other literal, including an
// integer value written with a fraction or exponent such as 3.0 or
// 1e2, is emitted unchanged.
func canonicalNumber(n json.Number) string {
	if i, err := n.Int64(); err == nil {
		return strconv.FormatInt(i, 10)
	}
	return n.String()
}

func encodeCanonicalString(buf *bytes.Buffer, s string) {
	buf.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"':
			buf.WriteString(`\"`)
		case '\\':
			buf.WriteString(`\\`)
		case '\n':
			buf.WriteString(`\n`)
		case '\r':
			buf.WriteString(`\r`)
		case '\t':
			buf.WriteString(`\t`)
		default:
			if r < 0x20 {
				fmt.Fprintf(buf, `\u%04x`, r)
			} else {
				buf.WriteRune(r)
			}
		}
	}
	buf.WriteByte('"')
}

// Digest computes a content hash over bytes using algo.
func Digest(data []byte, algo api.HashAlgo) (api.Hash, error) {
	switch algo {
	case api.SHA256:
		sum := sha256.Sum256(data)
		return api.Hash{Algo: algo, Digest: sum[:]}, nil
	case api.SHA512:
		sum := sha512.Sum512(data)
		return api.Hash{Algo: algo, Digest: sum[:]}, nil
	default:
		return api.Hash{}, fmt.Errorf("codec: unsupported hash algorithm %q", algo)
	}
}
