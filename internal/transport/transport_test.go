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

package transport

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/usbarmory/uptane-primary/api"
)

func newTestServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func TestFetchRootVersionRequestsVersionedPath(t *testing.T) {
	var gotPath string
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.Write([]byte(`{"signed":{},"signatures":[]}`))
	})
	c := &HTTPClient{DirectorBaseURL: srv.URL, Client: srv.Client()}

	body, err := c.FetchRootVersion(context.Background(), api.Director, 3, 1024)
	if err != nil {
		t.Fatalf("FetchRootVersion() err = %v", err)
	}
	if gotPath != "/3.root.json" {
		t.Errorf("requested path = %q, want /3.root.json", gotPath)
	}
	if len(body) == 0 {
		t.Errorf("FetchRootVersion() returned empty body")
	}
}

func TestFetchLatestUsesRoleName(t *testing.T) {
	var gotPath string
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.Write([]byte(`ok`))
	})
	c := &HTTPClient{ImagesBaseURL: srv.URL, Client: srv.Client()}

	if _, err := c.FetchLatest(context.Background(), api.Images, api.RoleTimestamp, 1024); err != nil {
		t.Fatalf("FetchLatest() err = %v", err)
	}
	if gotPath != "/timestamp.json" {
		t.Errorf("requested path = %q, want /timestamp.json", gotPath)
	}
}

func TestFetchLatestEnforcesSizeCap(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(strings.Repeat("x", 100)))
	})
	c := &HTTPClient{ImagesBaseURL: srv.URL, Client: srv.Client()}

	_, err := c.FetchLatest(context.Background(), api.Images, api.RoleTargets, 10)
	if _, ok := err.(*api.TransportError); !ok {
		t.Errorf("FetchLatest() err = %v (%T), want *api.TransportError for oversize response", err, err)
	}
}

func TestFetchLatestRejectsNonOKStatus(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	c := &HTTPClient{ImagesBaseURL: srv.URL, Client: srv.Client()}

	_, err := c.FetchLatest(context.Background(), api.Images, api.RoleRoot, 1024)
	if _, ok := err.(*api.TransportError); !ok {
		t.Errorf("FetchLatest() err = %v (%T), want *api.TransportError for 404", err, err)
	}
}

func TestFetchPayloadJoinsRelativeURIAgainstImagesBase(t *testing.T) {
	var gotPath string
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.Write([]byte("payload bytes"))
	})
	c := &HTTPClient{ImagesBaseURL: srv.URL, Client: srv.Client()}

	rc, err := c.FetchPayload(context.Background(), "targets/firmware.bin")
	if err != nil {
		t.Fatalf("FetchPayload() err = %v", err)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("ReadAll() err = %v", err)
	}
	if string(data) != "payload bytes" {
		t.Errorf("FetchPayload() body = %q, want %q", data, "payload bytes")
	}
	if gotPath != "/targets/firmware.bin" {
		t.Errorf("requested path = %q, want /targets/firmware.bin", gotPath)
	}
}

func TestFetchPayloadUsesAbsoluteCustomURIVerbatim(t *testing.T) {
	var gotHost string
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		gotHost = r.Host
		w.Write([]byte("ok"))
	})
	c := &HTTPClient{ImagesBaseURL: "http://images.invalid", Client: srv.Client()}

	rc, err := c.FetchPayload(context.Background(), srv.URL+"/custom/path")
	if err != nil {
		t.Fatalf("FetchPayload() err = %v", err)
	}
	defer rc.Close()
	if gotHost == "images.invalid" {
		t.Errorf("FetchPayload() used the Images base URL instead of the absolute custom URI")
	}
}

func TestPutManifestSendsToManifestEndpoint(t *testing.T) {
	var gotPath, gotMethod string
	var gotBody []byte
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotMethod = r.Method
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	})
	c := &HTTPClient{DirectorBaseURL: srv.URL, Client: srv.Client()}

	if err := c.PutManifest(context.Background(), []byte(`{"signed":{}}`)); err != nil {
		t.Fatalf("PutManifest() err = %v", err)
	}
	if gotMethod != http.MethodPut {
		t.Errorf("method = %q, want PUT", gotMethod)
	}
	if gotPath != "/manifest" {
		t.Errorf("path = %q, want /manifest", gotPath)
	}
	if string(gotBody) != `{"signed":{}}` {
		t.Errorf("body = %q", gotBody)
	}
}

func TestPutInstalledPackagesRejectsServerError(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	c := &HTTPClient{ImagesBaseURL: srv.URL, Client: srv.Client()}

	err := c.PutInstalledPackages(context.Background(), []byte(`{}`))
	if _, ok := err.(*api.TransportError); !ok {
		t.Errorf("PutInstalledPackages() err = %v (%T), want *api.TransportError", err, err)
	}
}
