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

// Package transport is the HTTP client side of the Director/Images
// metadata API and the manifest/telemetry PUT endpoints described in
// spec.md §6. It is the concrete implementation of the out-of-scope
// "Transport interface"; TLS client-certificate sourcing is delegated
// to a KeyStore the caller supplies.
package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"

	"github.com/usbarmory/uptane-primary/api"
)

// Size caps from spec.md §6. Used as fallbacks when a smaller role
// document has not yet advertised a tighter bound for its child.
const (
	MaxRootSize           int64 = 64 * 1024
	MaxTimestampSize      int64 = 64 * 1024
	MaxSnapshotSizeDefault int64 = 64 * 1024
	MaxImagesTargetsSize  int64 = 64 * 1024
	MaxDirectorTargetsSize int64 = 64 * 1024
)

// Fetcher is the metadata-fetch half of the Transport interface.
// Implementations must enforce maxSize by refusing to read more than
// that many bytes of response body.
type Fetcher interface {
	// FetchRootVersion fetches a specific root version:
	// GET {repo}/<version>.root.json
	FetchRootVersion(ctx context.Context, repo api.RepoName, version int64, maxSize int64) ([]byte, error)
	// FetchLatest fetches the latest copy of a role:
	// GET {repo}/{root,timestamp,snapshot,targets}.json
	FetchLatest(ctx context.Context, repo api.RepoName, role api.Role, maxSize int64) ([]byte, error)
}

// Reporter is the telemetry/manifest-submission half of the Transport
// interface.
type Reporter interface {
	PutManifest(ctx context.Context, body []byte) error
	PutInstalledPackages(ctx context.Context, body []byte) error
	PutSystemInfo(ctx context.Context, body []byte) error
	PutNetworkInfo(ctx context.Context, body []byte) error
}

// KeyStore sources the TLS client credentials used to authenticate to
// the backend. It is out of scope per spec.md §1 (HSM-backed
// implementations are a named collaborator, not specified here).
type KeyStore interface {
	ClientCertificate() (tlsCert, error)
}

// tlsCert is a placeholder for the crypto/tls.Certificate this core
// would present; kept as a named type so KeyStore has a concrete,
// swappable return type without importing crypto/tls in this file.
type tlsCert = []byte

// HTTPClient implements Fetcher and Reporter against a Director and
// Images base URL pair, following the closure-per-scheme fetcher shape
// used throughout the teacher's cmd/* tools, generalized with method,
// context and a hard size cap via io.LimitReader.
type HTTPClient struct {
	DirectorBaseURL string
	ImagesBaseURL   string
	Client          *http.Client
}

func (c *HTTPClient) baseURL(repo api.RepoName) string {
	if repo == api.Director {
		return c.DirectorBaseURL
	}
	return c.ImagesBaseURL
}

func (c *HTTPClient) get(ctx context.Context, rawURL string, maxSize int64) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, &api.TransportError{Cause: err}
	}
	resp, err := c.Client.Do(req)
	if err != nil {
		return nil, &api.TransportError{Cause: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, &api.TransportError{Cause: fmt.Errorf("GET %s: unexpected status %s", rawURL, resp.Status)}
	}
	lr := io.LimitReader(resp.Body, maxSize+1)
	body, err := io.ReadAll(lr)
	if err != nil {
		return nil, &api.TransportError{Cause: err}
	}
	if int64(len(body)) > maxSize {
		return nil, &api.TransportError{Cause: fmt.Errorf("GET %s: response exceeds %d byte cap", rawURL, maxSize)}
	}
	return body, nil
}

func (c *HTTPClient) FetchRootVersion(ctx context.Context, repo api.RepoName, version int64, maxSize int64) ([]byte, error) {
	u, err := joinURL(c.baseURL(repo), fmt.Sprintf("%d.root.json", version))
	if err != nil {
		return nil, &api.TransportError{Cause: err}
	}
	return c.get(ctx, u, maxSize)
}

func (c *HTTPClient) FetchLatest(ctx context.Context, repo api.RepoName, role api.Role, maxSize int64) ([]byte, error) {
	u, err := joinURL(c.baseURL(repo), fmt.Sprintf("%s.json", role))
	if err != nil {
		return nil, &api.TransportError{Cause: err}
	}
	return c.get(ctx, u, maxSize)
}

// FetchPayload streams a target's raw content, either from an
// absolute custom URI an Images target declared or, when uri has no
// scheme, from the configured Images repository. It is uncapped:
// targets.json already declared this target's length before the
// caller committed to downloading it.
func (c *HTTPClient) FetchPayload(ctx context.Context, uri string) (io.ReadCloser, error) {
	u := uri
	if !strings.Contains(uri, "://") {
		joined, err := joinURL(c.ImagesBaseURL, uri)
		if err != nil {
			return nil, &api.TransportError{Cause: err}
		}
		u = joined
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, &api.TransportError{Cause: err}
	}
	resp, err := c.Client.Do(req)
	if err != nil {
		return nil, &api.TransportError{Cause: err}
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, &api.TransportError{Cause: fmt.Errorf("GET %s: unexpected status %s", u, resp.Status)}
	}
	return resp.Body, nil
}

func (c *HTTPClient) put(ctx context.Context, rawURL string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, rawURL, bytes.NewReader(body))
	if err != nil {
		return &api.TransportError{Cause: err}
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.Client.Do(req)
	if err != nil {
		return &api.TransportError{Cause: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return &api.TransportError{Cause: fmt.Errorf("PUT %s: unexpected status %s", rawURL, resp.Status)}
	}
	return nil
}

func (c *HTTPClient) PutManifest(ctx context.Context, body []byte) error {
	u, err := joinURL(c.DirectorBaseURL, "manifest")
	if err != nil {
		return &api.TransportError{Cause: err}
	}
	return c.put(ctx, u, body)
}

func (c *HTTPClient) PutInstalledPackages(ctx context.Context, body []byte) error {
	u, err := joinURL(c.ImagesBaseURL, "core/installed")
	if err != nil {
		return &api.TransportError{Cause: err}
	}
	return c.put(ctx, u, body)
}

func (c *HTTPClient) PutSystemInfo(ctx context.Context, body []byte) error {
	u, err := joinURL(c.ImagesBaseURL, "core/system_info")
	if err != nil {
		return &api.TransportError{Cause: err}
	}
	return c.put(ctx, u, body)
}

func (c *HTTPClient) PutNetworkInfo(ctx context.Context, body []byte) error {
	u, err := joinURL(c.ImagesBaseURL, "system_info/network")
	if err != nil {
		return &api.TransportError{Cause: err}
	}
	return c.put(ctx, u, body)
}

func joinURL(base, p string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	u.Path = path.Join(u.Path, p)
	return u.String(), nil
}
