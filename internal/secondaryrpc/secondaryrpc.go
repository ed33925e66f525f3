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

// Package secondaryrpc is an HTTP-transport implementation of the
// Secondary interface (spec.md §6), for Secondaries reachable over a
// network rather than a local serial link. It follows the same
// context-scoped request/response shape as internal/transport's
// HTTPClient.
package secondaryrpc

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/usbarmory/uptane-primary/api"
	"github.com/usbarmory/uptane-primary/internal/secondary"
)

// Client is a Secondary reached over HTTP at BaseURL.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client

	serial api.EcuSerial
	hwId   api.HardwareId
	pubKey api.PublicKey
}

// New returns a Client for the Secondary at baseURL, identified by the
// serial/hwId/pubKey fixed at provisioning time.
func New(baseURL string, httpClient *http.Client, serial api.EcuSerial, hwId api.HardwareId, pubKey api.PublicKey) *Client {
	return &Client{BaseURL: baseURL, HTTPClient: httpClient, serial: serial, hwId: hwId, pubKey: pubKey}
}

func (c *Client) Serial() api.EcuSerial             { return c.serial }
func (c *Client) HwId() (api.HardwareId, error)     { return c.hwId, nil }
func (c *Client) PublicKey() (api.PublicKey, error) { return c.pubKey, nil }

func (c *Client) do(ctx context.Context, method, path string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return nil, err
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode/100 != 2 {
		resp.Body.Close()
		return nil, fmt.Errorf("%s %s: unexpected status %s", method, path, resp.Status)
	}
	return resp, nil
}

// RootVersion implements secondary.ECU.RootVersion via getRootVersion(isDirector).
func (c *Client) RootVersion(ctx context.Context, repo api.RepoName) (int64, error) {
	resp, err := c.do(ctx, http.MethodGet, "/root_version?repo="+string(repo), nil)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	var out struct{ Version int64 }
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 0, err
	}
	return out.Version, nil
}

// PutRoot implements secondary.ECU.PutRoot.
func (c *Client) PutRoot(ctx context.Context, repo api.RepoName, raw []byte) error {
	resp, err := c.do(ctx, http.MethodPut, "/root?repo="+string(repo), bytes.NewReader(raw))
	if err != nil {
		return err
	}
	return resp.Body.Close()
}

// PutMetadata implements secondary.ECU.PutMetadata.
func (c *Client) PutMetadata(ctx context.Context, bundle secondary.MetadataBundle) error {
	body, err := json.Marshal(bundle)
	if err != nil {
		return err
	}
	resp, err := c.do(ctx, http.MethodPut, "/metadata", bytes.NewReader(body))
	if err != nil {
		return err
	}
	return resp.Body.Close()
}

// SendFirmware implements secondary.ECU.SendFirmware.
func (c *Client) SendFirmware(ctx context.Context, payload secondary.FirmwarePayload) error {
	var body []byte
	var err error
	if payload.Target.Type == api.ImageOSTree {
		body, err = json.Marshal(struct {
			RemoteURL   string `json:"remote_url"`
			Credentials string `json:"credentials"`
		}{
			RemoteURL:   payload.OSTreeRemoteURL,
			Credentials: base64.StdEncoding.EncodeToString(payload.OSTreeCredentials),
		})
		if err != nil {
			return err
		}
	} else {
		body = payload.Binary
	}
	resp, err := c.do(ctx, http.MethodPut, "/firmware", bytes.NewReader(body))
	if err != nil {
		return err
	}
	return resp.Body.Close()
}

// Manifest implements secondary.ECU.Manifest.
func (c *Client) Manifest(ctx context.Context) ([]byte, error) {
	resp, err := c.do(ctx, http.MethodGet, "/manifest", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	return io.ReadAll(resp.Body)
}

var _ secondary.ECU = (*Client)(nil)
