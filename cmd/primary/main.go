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

// primary runs the Uptane Primary ECU daemon: it polls a Director and
// an Images repository, resolves and downloads updates addressed to
// this device's ECU fleet, drives Secondary ECUs through root
// rotation and firmware push, installs on the Primary itself, and
// reports a signed version manifest back to the Director. The
// provisioning file loaded via --provisioning carries this device's
// serial, signing key and Secondary fleet (see provisioning below).
package main

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/golang/glog"

	"github.com/usbarmory/uptane-primary/api"
	"github.com/usbarmory/uptane-primary/api/keyset"
	"github.com/usbarmory/uptane-primary/internal/bootloader"
	"github.com/usbarmory/uptane-primary/internal/director"
	"github.com/usbarmory/uptane-primary/internal/images"
	"github.com/usbarmory/uptane-primary/internal/installog"
	"github.com/usbarmory/uptane-primary/internal/orchestrator"
	"github.com/usbarmory/uptane-primary/internal/pkgmanager"
	"github.com/usbarmory/uptane-primary/internal/reportqueue"
	"github.com/usbarmory/uptane-primary/internal/rolestore"
	"github.com/usbarmory/uptane-primary/internal/secondary"
	"github.com/usbarmory/uptane-primary/internal/secondaryrpc"
	"github.com/usbarmory/uptane-primary/internal/transport"
)

var (
	stateDir         = flag.String("state_dir", "", "Directory where role documents, install history and the report queue are persisted")
	directorURL      = flag.String("director_url", "", "Base URL of the Director repository")
	imagesURL        = flag.String("images_url", "", "Base URL of the Images repository")
	provisioningPath = flag.String("provisioning", "", "Path to the provisioning JSON file (primary/secondary identities and keys)")
	currentImage     = flag.String("current_image", "", "Path to the file the running firmware image is loaded from")
	stagingDir       = flag.String("staging_dir", "", "Directory where downloaded payloads are staged before install")
	rebootFlagDir    = flag.String("reboot_flag_dir", "", "Directory holding the pending-reboot marker file")
	pollInterval     = flag.Duration("poll_interval", 1*time.Minute, "Steady-state interval between FetchMeta cycles")
)

// secondaryConfig is one entry of the provisioning file's secondaries list.
type secondaryConfig struct {
	Serial    string `json:"serial"`
	HwId      string `json:"hwid"`
	BaseURL   string `json:"base_url"`
	PublicKey struct {
		Type    string `json:"type"`
		ValueB64 string `json:"value_b64"`
	} `json:"public_key"`
}

// signingKeyConfig names the Primary's own Uptane signing key, used to
// sign outgoing version manifests.
type signingKeyConfig struct {
	Type    string `json:"type"`
	SeedB64 string `json:"seed_b64"`
}

// provisioning is the fixed-at-manufacture identity and key material
// this device needs: its own serial/hardware id/signing key, and the
// Secondary ECUs it addresses.
type provisioning struct {
	PrimarySerial    string            `json:"primary_serial"`
	PrimaryHwId      string            `json:"primary_hwid"`
	SigningKey       signingKeyConfig  `json:"signing_key"`
	Secondaries      []secondaryConfig `json:"secondaries"`
	TelemetryEnabled bool              `json:"telemetry_enabled"`
}

func loadProvisioning(path string) (provisioning, error) {
	var p provisioning
	data, err := os.ReadFile(path)
	if err != nil {
		return p, err
	}
	if err := json.Unmarshal(data, &p); err != nil {
		return p, err
	}
	return p, nil
}

func decodePublicKey(typ, valueB64 string) (api.PublicKey, error) {
	value, err := base64.StdEncoding.DecodeString(valueB64)
	if err != nil {
		return api.PublicKey{}, err
	}
	switch typ {
	case "rsa2048":
		return api.PublicKey{Type: api.KeyTypeRSA2048, Value: value}, nil
	case "rsa4096":
		return api.PublicKey{Type: api.KeyTypeRSA4096, Value: value}, nil
	case "ed25519":
		return api.PublicKey{Type: api.KeyTypeED25519, Value: value}, nil
	default:
		return api.PublicKey{}, &api.MalformedMetadataError{Cause: os.ErrInvalid}
	}
}

func loadSigner(cfg signingKeyConfig) (*keyset.Signer, error) {
	seed, err := base64.StdEncoding.DecodeString(cfg.SeedB64)
	if err != nil {
		return nil, err
	}
	switch cfg.Type {
	case "ed25519":
		priv := ed25519.NewKeyFromSeed(seed)
		pub := api.PublicKey{Type: api.KeyTypeED25519, Value: []byte(priv.Public().(ed25519.PublicKey))}
		return keyset.NewED25519Signer(pub, priv)
	default:
		return nil, &api.MalformedMetadataError{Cause: os.ErrInvalid}
	}
}

func checkFlags() {
	if *stateDir == "" {
		glog.Exit("--state_dir is required")
	}
	if *directorURL == "" || *imagesURL == "" {
		glog.Exit("--director_url and --images_url are required")
	}
	if *provisioningPath == "" {
		glog.Exit("--provisioning is required")
	}
	if *currentImage == "" || *stagingDir == "" {
		glog.Exit("--current_image and --staging_dir are required")
	}
	if *rebootFlagDir == "" {
		glog.Exit("--reboot_flag_dir is required")
	}
}

func main() {
	flag.Parse()
	checkFlags()

	prov, err := loadProvisioning(*provisioningPath)
	if err != nil {
		glog.Exitf("failed to load provisioning file %q: %v", *provisioningPath, err)
	}

	store, err := rolestore.Open(*stateDir)
	if err != nil {
		glog.Exitf("rolestore.Open(%q): %v", *stateDir, err)
	}

	httpClient := &transport.HTTPClient{
		DirectorBaseURL: *directorURL,
		ImagesBaseURL:   *imagesURL,
		Client:          http.DefaultClient,
	}

	known := map[api.EcuSerial]api.HardwareId{api.EcuSerial(prov.PrimarySerial): api.HardwareId(prov.PrimaryHwId)}
	secondaryPubKeys := map[api.EcuSerial]api.PublicKey{}
	var ecus []secondary.ECU
	for _, sc := range prov.Secondaries {
		pk, err := decodePublicKey(sc.PublicKey.Type, sc.PublicKey.ValueB64)
		if err != nil {
			glog.Exitf("secondary %q: invalid public key: %v", sc.Serial, err)
		}
		known[api.EcuSerial(sc.Serial)] = api.HardwareId(sc.HwId)
		secondaryPubKeys[api.EcuSerial(sc.Serial)] = pk
		ecus = append(ecus, secondaryrpc.New(sc.BaseURL, http.DefaultClient, api.EcuSerial(sc.Serial), api.HardwareId(sc.HwId), pk))
	}

	signer, err := loadSigner(prov.SigningKey)
	if err != nil {
		glog.Exitf("failed to load primary signing key: %v", err)
	}

	cfg := orchestrator.Config{
		PrimarySerial:    api.EcuSerial(prov.PrimarySerial),
		Known:            known,
		SecondaryPubKeys: secondaryPubKeys,
		TelemetryEnabled: prov.TelemetryEnabled,
		PollInterval:     *pollInterval,
	}

	orch := orchestrator.New(
		cfg,
		store,
		director.New(store, httpClient),
		images.New(store, httpClient),
		installog.New(store),
		reportqueue.New(store, nil),
		secondary.New(store, ecus),
		httpClient,
		httpClient,
		pkgmanager.New(*currentImage, *stagingDir),
		bootloader.New(*rebootFlagDir),
		signer,
	)

	if err := orch.ResumeAfterReboot(); err != nil {
		glog.Exitf("ResumeAfterReboot(): %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		glog.Info("primary: shutdown signal received")
		cancel()
	}()

	commands := make(chan orchestrator.Command, 8)
	events := orch.Run(ctx, commands)
	go driveUpdates(commands, events)

	for {
		commands <- orchestrator.Command{Kind: orchestrator.CmdFetchMeta}
		fetchErr := orch.WaitFetchMeta(ctx)
		if fetchErr == nil {
			commands <- orchestrator.Command{Kind: orchestrator.CmdCheckUpdates}
			commands <- orchestrator.Command{Kind: orchestrator.CmdSendDeviceData}
			commands <- orchestrator.Command{Kind: orchestrator.CmdPutManifest}
		}

		delay := orch.FetchMetaRetryDelay(fetchErr)
		select {
		case <-ctx.Done():
			close(commands)
			return
		case <-time.After(delay):
		}
	}
}

// driveUpdates logs every event the orchestrator emits and chains the
// StartDownload/UptaneInstall commands an UpdateAvailable/
// DownloadComplete event requires, so main's poll loop only needs to
// drive the steady-state FetchMeta/CheckUpdates/SendDeviceData/
// PutManifest cadence.
func driveUpdates(commands chan<- orchestrator.Command, events <-chan orchestrator.Event) {
	for e := range events {
		switch e.Kind {
		case orchestrator.EvtError:
			glog.Warningf("primary: %s", e.Message)
		case orchestrator.EvtUpdateAvailable:
			glog.Infof("primary: %d new target(s) available, starting download", len(e.Targets))
			commands <- orchestrator.Command{Kind: orchestrator.CmdStartDownload, Targets: e.Targets}
		case orchestrator.EvtDownloadComplete:
			glog.Infof("primary: download complete for %d target(s), installing", len(e.Targets))
			commands <- orchestrator.Command{Kind: orchestrator.CmdUptaneInstall, Targets: e.Targets}
		case orchestrator.EvtInstallComplete:
			glog.Info("primary: install complete")
		case orchestrator.EvtUptaneTimestampUpdated:
			glog.V(1).Info("primary: images timestamp updated")
		case orchestrator.EvtFetchMetaComplete, orchestrator.EvtPutManifestComplete, orchestrator.EvtSendDeviceDataComplete:
			glog.V(2).Infof("primary: %s", e.Kind)
		}
	}
}
