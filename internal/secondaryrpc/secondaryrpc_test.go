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

package secondaryrpc

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/usbarmory/uptane-primary/api"
)

func TestRootVersionAndManifest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/root_version":
			w.Write([]byte(`{"Version":3}`))
		case "/manifest":
			w.Write([]byte(`{"signed":{"ecu_serial":"S1"}}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c := New(srv.URL, srv.Client(), "S1", "HW-A", api.PublicKey{})

	v, err := c.RootVersion(context.Background(), api.Director)
	if err != nil {
		t.Fatalf("RootVersion() err = %v", err)
	}
	if v != 3 {
		t.Errorf("RootVersion() = %d, want 3", v)
	}

	m, err := c.Manifest(context.Background())
	if err != nil {
		t.Fatalf("Manifest() err = %v", err)
	}
	if string(m) == "" {
		t.Errorf("Manifest() returned empty body")
	}
}

func TestPutRootPropagatesServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := New(srv.URL, srv.Client(), "S1", "HW-A", api.PublicKey{})
	if err := c.PutRoot(context.Background(), api.Director, []byte("{}")); err == nil {
		t.Fatalf("PutRoot() err = nil, want error on 500 response")
	}
}
