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

// Package keyset resolves role authorization (keyid -> key, role ->
// {keyids, threshold}) and verifies multi-signature thresholds over
// canonical metadata bodies.
package keyset

import (
	"crypto"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"fmt"

	"github.com/usbarmory/uptane-primary/api"
	"github.com/usbarmory/uptane-primary/api/codec"
)

// KeyID computes the SHA-256 digest over the canonical JSON of a
// public key's Uptane representation. This is the sole reference used
// inside role metadata to name a key.
func KeyID(pk api.PublicKey) (string, error) {
	raw, err := keyJSON(pk)
	if err != nil {
		return "", err
	}
	canon, err := codec.Canonicalize(raw)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canon)
	return fmt.Sprintf("%x", sum), nil
}

func keyJSON(pk api.PublicKey) ([]byte, error) {
	var keytype, pubB64 string
	switch pk.Type {
	case api.KeyTypeRSA2048, api.KeyTypeRSA4096:
		keytype = "rsa"
		pubB64 = base64.StdEncoding.EncodeToString(pk.Value)
	case api.KeyTypeED25519:
		keytype = "ed25519"
		pubB64 = base64.StdEncoding.EncodeToString(pk.Value)
	default:
		return nil, fmt.Errorf("keyset: unsupported key type %q", pk.Type)
	}
	return []byte(fmt.Sprintf(`{"keytype":%q,"keyval":{"public":%q}}`, keytype, pubB64)), nil
}

// Set is a repository's (keyid -> key) resolution table, keyed as used
// by role metadata.
type Set struct {
	Keys map[string]api.PublicKey
}

// RoleAuthorization names the authorized keyids and required threshold
// for one role within one repository, as declared by that repository's
// trusted Root.
type RoleAuthorization struct {
	KeyIDs    map[string]bool
	Threshold int
}

// VerifyThreshold reports whether sigs contains at least auth.Threshold
// distinct, authorized signatures that each verify over canonical,
// using keys resolved from ks. Duplicate signatures by the same key id
// count once.
func VerifyThreshold(ks Set, auth RoleAuthorization, canonical []byte, sigs []api.Signature) (int, error) {
	verified := map[string]bool{}
	for _, sig := range sigs {
		if !auth.KeyIDs[sig.KeyID] {
			continue
		}
		if verified[sig.KeyID] {
			continue
		}
		pk, ok := ks.Keys[sig.KeyID]
		if !ok {
			continue
		}
		ok, err := Verify(pk, canonical, sig.Sig)
		if err != nil {
			return len(verified), err
		}
		if ok {
			verified[sig.KeyID] = true
		}
	}
	return len(verified), nil
}

// Verify checks a single base64-encoded signature against canonical
// using pk. RSA signatures are PSS/SHA-256 with MGF1/SHA-256 and salt
// length equal to the hash length, per spec.md §4.2. ED25519
// signatures are verified per RFC 8032.
func Verify(pk api.PublicKey, canonical []byte, sigB64 string) (bool, error) {
	sig, err := base64.StdEncoding.DecodeString(sigB64)
	if err != nil {
		return false, fmt.Errorf("keyset: invalid base64 signature: %w", err)
	}
	switch pk.Type {
	case api.KeyTypeRSA2048, api.KeyTypeRSA4096:
		pub, err := x509.ParsePKIXPublicKey(pk.Value)
		if err != nil {
			return false, fmt.Errorf("keyset: invalid RSA key material: %w", err)
		}
		rsaPub, ok := pub.(*rsa.PublicKey)
		if !ok {
			return false, fmt.Errorf("keyset: key material is not an RSA public key")
		}
		digest := sha256.Sum256(canonical)
		opts := &rsa.PSSOptions{SaltLength: rsa.PSSSaltLengthEqualsHash, Hash: crypto.SHA256}
		if err := rsa.VerifyPSS(rsaPub, crypto.SHA256, digest[:], sig, opts); err != nil {
			return false, nil
		}
		return true, nil
	case api.KeyTypeED25519:
		if len(pk.Value) != ed25519.PublicKeySize {
			return false, fmt.Errorf("keyset: invalid ed25519 key length %d", len(pk.Value))
		}
		return ed25519.Verify(ed25519.PublicKey(pk.Value), canonical, sig), nil
	default:
		return false, fmt.Errorf("keyset: unsupported key type %q", pk.Type)
	}
}

// Signer signs canonical metadata bodies with a device-held private
// key, the counterpart of Verify that the Primary uses to sign its
// own version manifest (spec.md §4.6's "aggregate is signed by the
// Primary's Uptane signing key").
type Signer struct {
	keyID   string
	rsaPriv *rsa.PrivateKey
	edPriv  ed25519.PrivateKey
}

// NewRSASigner returns a Signer backed by priv, whose KeyID is derived
// from pub the same way role metadata would reference it.
func NewRSASigner(pub api.PublicKey, priv *rsa.PrivateKey) (*Signer, error) {
	id, err := KeyID(pub)
	if err != nil {
		return nil, err
	}
	return &Signer{keyID: id, rsaPriv: priv}, nil
}

// NewED25519Signer returns a Signer backed by priv, whose KeyID is
// derived from pub.
func NewED25519Signer(pub api.PublicKey, priv ed25519.PrivateKey) (*Signer, error) {
	id, err := KeyID(pub)
	if err != nil {
		return nil, err
	}
	return &Signer{keyID: id, edPriv: priv}, nil
}

// KeyID returns the signer's key id, the value stamped into every
// api.Signature it produces.
func (s *Signer) KeyID() string { return s.keyID }

// Sign signs canonical, returning a Signature ready to attach to a
// SignedDocument.
func (s *Signer) Sign(canonical []byte) (api.Signature, error) {
	var sig []byte
	switch {
	case s.rsaPriv != nil:
		digest := sha256.Sum256(canonical)
		opts := &rsa.PSSOptions{SaltLength: rsa.PSSSaltLengthEqualsHash, Hash: crypto.SHA256}
		signed, err := rsa.SignPSS(rand.Reader, s.rsaPriv, crypto.SHA256, digest[:], opts)
		if err != nil {
			return api.Signature{}, fmt.Errorf("keyset: rsa sign: %w", err)
		}
		sig = signed
	case s.edPriv != nil:
		sig = ed25519.Sign(s.edPriv, canonical)
	default:
		return api.Signature{}, fmt.Errorf("keyset: signer has no key material")
	}
	return api.Signature{KeyID: s.keyID, Sig: base64.StdEncoding.EncodeToString(sig)}, nil
}
