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

package keyset

import (
	"crypto"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"testing"

	"github.com/usbarmory/uptane-primary/api"
)

func mustRSAKey(t *testing.T) (api.PublicKey, *rsa.PrivateKey) {
	t.Helper()
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("rsa.GenerateKey() err = %v", err)
	}
	der, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
	if err != nil {
		t.Fatalf("MarshalPKIXPublicKey() err = %v", err)
	}
	return api.PublicKey{Type: api.KeyTypeRSA2048, Value: der}, priv
}

func signRSA(t *testing.T, priv *rsa.PrivateKey, msg []byte) string {
	t.Helper()
	digest := sha256.Sum256(msg)
	sig, err := rsa.SignPSS(rand.Reader, priv, crypto.SHA256, digest[:], &rsa.PSSOptions{SaltLength: rsa.PSSSaltLengthEqualsHash, Hash: crypto.SHA256})
	if err != nil {
		t.Fatalf("rsa.SignPSS() err = %v", err)
	}
	return base64.StdEncoding.EncodeToString(sig)
}

func mustED25519Key(t *testing.T) (api.PublicKey, ed25519.PrivateKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("ed25519.GenerateKey() err = %v", err)
	}
	return api.PublicKey{Type: api.KeyTypeED25519, Value: pub}, priv
}

func TestVerifyRSA(t *testing.T) {
	pk, priv := mustRSAKey(t)
	msg := []byte(`{"version":1}`)
	sig := signRSA(t, priv, msg)

	ok, err := Verify(pk, msg, sig)
	if err != nil {
		t.Fatalf("Verify() err = %v", err)
	}
	if !ok {
		t.Errorf("Verify() = false, want true")
	}

	if ok, _ := Verify(pk, []byte(`{"version":2}`), sig); ok {
		t.Errorf("Verify() over tampered body = true, want false")
	}
}

func TestVerifyED25519(t *testing.T) {
	pk, priv := mustED25519Key(t)
	msg := []byte(`{"version":1}`)
	sig := base64.StdEncoding.EncodeToString(ed25519.Sign(priv, msg))

	ok, err := Verify(pk, msg, sig)
	if err != nil {
		t.Fatalf("Verify() err = %v", err)
	}
	if !ok {
		t.Errorf("Verify() = false, want true")
	}
}

func TestKeyIDRoundTrip(t *testing.T) {
	pk, _ := mustED25519Key(t)
	id1, err := KeyID(pk)
	if err != nil {
		t.Fatalf("KeyID() err = %v", err)
	}
	id2, err := KeyID(pk)
	if err != nil {
		t.Fatalf("KeyID() err = %v", err)
	}
	if id1 != id2 {
		t.Errorf("KeyID() not deterministic: %q != %q", id1, id2)
	}
}

func TestVerifyThresholdDeduplicatesSameKey(t *testing.T) {
	pk, priv := mustRSAKey(t)
	id, err := KeyID(pk)
	if err != nil {
		t.Fatalf("KeyID() err = %v", err)
	}
	msg := []byte(`{"version":1}`)
	sig := signRSA(t, priv, msg)

	ks := Set{Keys: map[string]api.PublicKey{id: pk}}
	auth := RoleAuthorization{KeyIDs: map[string]bool{id: true}, Threshold: 2}

	sigs := []api.Signature{{KeyID: id, Sig: sig}, {KeyID: id, Sig: sig}}
	got, err := VerifyThreshold(ks, auth, msg, sigs)
	if err != nil {
		t.Fatalf("VerifyThreshold() err = %v", err)
	}
	if got != 1 {
		t.Errorf("VerifyThreshold() = %d, want 1 (duplicate signatures count once)", got)
	}
}

func TestSignerRoundTripsWithVerify(t *testing.T) {
	pk, priv := mustRSAKey(t)
	signer, err := NewRSASigner(pk, priv)
	if err != nil {
		t.Fatalf("NewRSASigner() err = %v", err)
	}
	msg := []byte(`{"ecu_serial":"S1"}`)
	sig, err := signer.Sign(msg)
	if err != nil {
		t.Fatalf("Sign() err = %v", err)
	}
	wantID, err := KeyID(pk)
	if err != nil {
		t.Fatalf("KeyID() err = %v", err)
	}
	if sig.KeyID != wantID {
		t.Errorf("Sign() KeyID = %q, want %q", sig.KeyID, wantID)
	}
	ok, err := Verify(pk, msg, sig.Sig)
	if err != nil {
		t.Fatalf("Verify() err = %v", err)
	}
	if !ok {
		t.Errorf("Verify(Sign(msg)) = false, want true")
	}
}

func TestED25519SignerRoundTripsWithVerify(t *testing.T) {
	pk, priv := mustED25519Key(t)
	signer, err := NewED25519Signer(pk, priv)
	if err != nil {
		t.Fatalf("NewED25519Signer() err = %v", err)
	}
	msg := []byte(`{"ecu_serial":"S1"}`)
	sig, err := signer.Sign(msg)
	if err != nil {
		t.Fatalf("Sign() err = %v", err)
	}
	ok, err := Verify(pk, msg, sig.Sig)
	if err != nil {
		t.Fatalf("Verify() err = %v", err)
	}
	if !ok {
		t.Errorf("Verify(Sign(msg)) = false, want true")
	}
}

func TestVerifyThresholdIgnoresUnauthorizedKey(t *testing.T) {
	pk, priv := mustRSAKey(t)
	id, err := KeyID(pk)
	if err != nil {
		t.Fatalf("KeyID() err = %v", err)
	}
	msg := []byte(`{"version":1}`)
	sig := signRSA(t, priv, msg)

	ks := Set{Keys: map[string]api.PublicKey{id: pk}}
	auth := RoleAuthorization{KeyIDs: map[string]bool{"some-other-key": true}, Threshold: 1}

	got, err := VerifyThreshold(ks, auth, msg, []api.Signature{{KeyID: id, Sig: sig}})
	if err != nil {
		t.Fatalf("VerifyThreshold() err = %v", err)
	}
	if got != 0 {
		t.Errorf("VerifyThreshold() = %d, want 0 for unauthorized key", got)
	}
}
