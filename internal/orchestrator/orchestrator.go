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

// Package orchestrator drives the command/event loop described in
// spec.md §4.6: FetchMeta/CheckUpdates/StartDownload/UptaneInstall
// against the Director and Images repositories, manifest assembly and
// submission, and telemetry delivery, remaining responsive to
// Shutdown throughout.
package orchestrator

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/golang/glog"

	"github.com/usbarmory/uptane-primary/api"
	"github.com/usbarmory/uptane-primary/api/codec"
	"github.com/usbarmory/uptane-primary/api/keyset"
	"github.com/usbarmory/uptane-primary/internal/director"
	"github.com/usbarmory/uptane-primary/internal/images"
	"github.com/usbarmory/uptane-primary/internal/installog"
	"github.com/usbarmory/uptane-primary/internal/pkgmanager"
	"github.com/usbarmory/uptane-primary/internal/reportqueue"
	"github.com/usbarmory/uptane-primary/internal/rolestore"
	"github.com/usbarmory/uptane-primary/internal/secondary"
	"github.com/usbarmory/uptane-primary/internal/targetmatcher"
	"github.com/usbarmory/uptane-primary/internal/transport"
)

// PackageManager is the subset of the out-of-scope PackageManager
// interface (spec.md §6) the Orchestrator drives directly.
type PackageManager interface {
	Install(target api.Target) (api.InstallationResult, error)
	GetCurrent() (api.Target, error)
	GetInstalledPackages() ([]pkgmanager.InstalledPackage, error)
	FinalizeInstall(target api.Target) (api.InstallationResult, error)
	VerifyTarget(target api.Target) (pkgmanager.VerifyStatus, error)
	FetchTarget(target api.Target, src io.Reader, cancel <-chan struct{}) error
	StagedPayload(filename string) ([]byte, error)
}

// Bootloader is the subset of the out-of-scope Bootloader interface
// the Orchestrator drives directly.
type Bootloader interface {
	RebootFlagSet(targetFilename string) error
	RebootFlagClear() error
	RebootDetected() (targetFilename string, detected bool, err error)
}

// PayloadFetcher downloads a target's raw content from its resolved
// fetch URI, separately from the size-capped metadata fetches
// transport.Fetcher performs.
type PayloadFetcher interface {
	FetchPayload(ctx context.Context, uri string) (io.ReadCloser, error)
}

// CommandKind names one entry of the command surface spec.md §6 defines.
type CommandKind string

const (
	CmdSendDeviceData CommandKind = "send_device_data"
	CmdPutManifest    CommandKind = "put_manifest"
	CmdFetchMeta      CommandKind = "fetch_meta"
	CmdCheckUpdates   CommandKind = "check_updates"
	CmdStartDownload  CommandKind = "start_download"
	CmdUptaneInstall  CommandKind = "uptane_install"
	CmdShutdown       CommandKind = "shutdown"
)

// Command is one entry on the Orchestrator's command channel.
// Targets is only meaningful for CmdStartDownload and CmdUptaneInstall.
type Command struct {
	Kind    CommandKind
	Targets []api.Target
}

// EventKind names one entry of the event surface spec.md §6 defines.
type EventKind string

const (
	EvtSendDeviceDataComplete EventKind = "send_device_data_complete"
	EvtPutManifestComplete    EventKind = "put_manifest_complete"
	EvtFetchMetaComplete      EventKind = "fetch_meta_complete"
	EvtUpdateAvailable        EventKind = "update_available"
	EvtUptaneTimestampUpdated EventKind = "uptane_timestamp_updated"
	EvtDownloadComplete       EventKind = "download_complete"
	EvtInstallComplete        EventKind = "install_complete"
	EvtError                  EventKind = "error"
)

// Event is one entry on the Orchestrator's event channel.
type Event struct {
	Kind    EventKind
	Targets []api.Target
	Message string
}

// Config holds the per-device fixed values the Orchestrator needs:
// the Primary's own serial, the provisioned ECU fleet, and the
// Secondaries' public keys for manifest self-verification.
type Config struct {
	PrimarySerial    api.EcuSerial
	Known            targetmatcher.KnownEcu
	SecondaryPubKeys map[api.EcuSerial]api.PublicKey
	TelemetryEnabled bool
	PollInterval     time.Duration
}

// Orchestrator is the top-level Uptane command loop for one Primary ECU.
type Orchestrator struct {
	cfg Config

	store      *rolestore.Store
	director   *director.Repo
	images     *images.Repo
	installLog *installog.Log
	reportQ    *reportqueue.Queue
	dispatcher *secondary.Dispatcher
	reporter   transport.Reporter
	payloads   PayloadFetcher
	pkgManager PackageManager
	bootloader Bootloader
	signer     *keyset.Signer

	mu              sync.Mutex
	lastException   string
	secondaryErrors map[api.EcuSerial]string

	fetchBackoff    backoff.BackOff
	fetchMetaResult chan error
}

// New returns an Orchestrator wiring together the verification state
// machines, persistence, telemetry transport and the three
// out-of-scope collaborator interfaces.
func New(
	cfg Config,
	store *rolestore.Store,
	directorRepo *director.Repo,
	imagesRepo *images.Repo,
	installLog *installog.Log,
	reportQ *reportqueue.Queue,
	dispatcher *secondary.Dispatcher,
	reporter transport.Reporter,
	payloads PayloadFetcher,
	pkgManager PackageManager,
	bootloader Bootloader,
	signer *keyset.Signer,
) *Orchestrator {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 5 * time.Second
	b.MaxInterval = 5 * time.Minute
	return &Orchestrator{
		cfg:             cfg,
		store:           store,
		director:        directorRepo,
		images:          imagesRepo,
		installLog:      installLog,
		reportQ:         reportQ,
		dispatcher:      dispatcher,
		reporter:        reporter,
		payloads:        payloads,
		pkgManager:      pkgManager,
		bootloader:      bootloader,
		signer:          signer,
		secondaryErrors: map[api.EcuSerial]string{},
		fetchBackoff:    b,
		fetchMetaResult: make(chan error, 1),
	}
}

// Run starts the command loop, returning the event channel it
// publishes to. The loop exits, closing the event channel, when ctx
// is canceled or a CmdShutdown command is received.
func (o *Orchestrator) Run(ctx context.Context, commands <-chan Command) <-chan Event {
	events := make(chan Event, 16)
	go func() {
		defer close(events)
		for {
			select {
			case <-ctx.Done():
				return
			case cmd, ok := <-commands:
				if !ok {
					return
				}
				if cmd.Kind == CmdShutdown {
					glog.Info("orchestrator: shutdown requested")
					return
				}
				o.handle(ctx, cmd, events)
			}
		}
	}()
	return events
}

func (o *Orchestrator) handle(ctx context.Context, cmd Command, events chan<- Event) {
	switch cmd.Kind {
	case CmdSendDeviceData:
		o.sendDeviceData(ctx, events)
	case CmdPutManifest:
		o.putManifest(ctx, events)
	case CmdFetchMeta:
		o.fetchMeta(ctx, events)
	case CmdCheckUpdates:
		o.checkUpdates(events)
	case CmdStartDownload:
		o.startDownload(ctx, cmd.Targets, events)
	case CmdUptaneInstall:
		o.uptaneInstall(ctx, cmd.Targets, events)
	default:
		glog.Warningf("orchestrator: unknown command %q", cmd.Kind)
	}
}

// ResumeAfterReboot finalizes a pending reboot-required install,
// completing spec.md §8 scenario 6. Call once at process start, before
// accepting commands.
func (o *Orchestrator) ResumeAfterReboot() error {
	_, detected, err := o.bootloader.RebootDetected()
	if err != nil {
		return err
	}
	if !detected {
		return nil
	}
	pending, err := o.store.LoadPendingInstall()
	if err != nil {
		return err
	}
	if pending == nil {
		return o.bootloader.RebootFlagClear()
	}
	var target api.Target
	if err := json.Unmarshal(pending, &target); err != nil {
		return &api.MalformedMetadataError{Cause: err}
	}
	result, err := o.pkgManager.FinalizeInstall(target)
	if err != nil {
		return err
	}
	data, err := json.Marshal(result)
	if err != nil {
		return err
	}
	if err := o.store.StoreInstallationResult(data); err != nil {
		return err
	}
	if result.Code == api.ResultOk {
		if err := o.installLog.Append(api.InstalledVersion{Target: target, Ecu: o.cfg.PrimarySerial, InstalledAt: time.Now().UTC()}); err != nil {
			return err
		}
	}
	if err := o.store.ClearPendingInstall(); err != nil {
		return err
	}
	return o.bootloader.RebootFlagClear()
}

// FetchMetaRetryDelay reports how long the caller's polling loop
// should wait before the next FetchMeta after err (nil on success):
// exponential backoff following a TransportError, the configured
// steady-state poll interval otherwise.
func (o *Orchestrator) FetchMetaRetryDelay(err error) time.Duration {
	var transportErr *api.TransportError
	if errors.As(err, &transportErr) {
		return o.fetchBackoff.NextBackOff()
	}
	o.fetchBackoff.Reset()
	return o.cfg.PollInterval
}

// WaitFetchMeta blocks until the CmdFetchMeta dispatched by the
// caller's most recent send on the command channel has completed,
// returning its error (nil on success) for FetchMetaRetryDelay. It
// exists so a polling loop can pace itself on FetchMeta's outcome
// without stepping outside the command/event channel architecture.
func (o *Orchestrator) WaitFetchMeta(ctx context.Context) error {
	select {
	case err := <-o.fetchMetaResult:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (o *Orchestrator) fetchMeta(ctx context.Context, events chan<- Event) {
	directorChanged, err := o.director.Advance(ctx)
	if err != nil {
		o.fail(events, err)
		o.publishFetchMetaResult(err)
		return
	}
	var imagesChanged bool
	if directorChanged {
		imagesChanged, err = o.images.Advance(ctx)
		if err != nil {
			o.fail(events, err)
			o.publishFetchMetaResult(err)
			return
		}
	}
	o.clearLastException()
	if imagesChanged {
		events <- Event{Kind: EvtUptaneTimestampUpdated}
	}
	events <- Event{Kind: EvtFetchMetaComplete}
	o.publishFetchMetaResult(nil)
}

// publishFetchMetaResult feeds WaitFetchMeta's channel, draining any
// unconsumed prior result first so a caller that never called
// WaitFetchMeta for one cycle does not see a stale result on the next.
func (o *Orchestrator) publishFetchMetaResult(err error) {
	select {
	case <-o.fetchMetaResult:
	default:
	}
	o.fetchMetaResult <- err
}

func (o *Orchestrator) checkUpdates(events chan<- Event) {
	resolved, unknown, err := targetmatcher.Match(o.director.Targets, o.images.Targets, o.cfg.Known)
	for _, ue := range unknown {
		glog.Warningf("orchestrator: %v, skipped", ue)
	}
	if err != nil {
		o.fail(events, err)
		return
	}
	installed, err := o.installedFilenames()
	if err != nil {
		o.fail(events, err)
		return
	}
	var fresh []api.Target
	for _, r := range resolved {
		if !targetmatcher.IsNew(r.Target, installed) {
			continue
		}
		t := r.Target
		t.CustomURI = r.FetchURI
		fresh = append(fresh, t)
	}
	if len(fresh) > 0 {
		events <- Event{Kind: EvtUpdateAvailable, Targets: fresh}
	}
}

// installedFilenames maps each ECU that has an installation-history
// entry to the filename of its latest entry, then sets the Primary's
// entry to pkgManager.GetCurrent()'s filename when that is available.
func (o *Orchestrator) installedFilenames() (map[api.EcuSerial]string, error) {
	out := map[api.EcuSerial]string{}
	entries, err := o.installLog.All()
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		out[e.Ecu] = e.Target.Filename
	}
	if cur, err := o.pkgManager.GetCurrent(); err == nil && cur.Filename != "" {
		out[o.cfg.PrimarySerial] = cur.Filename
	}
	return out, nil
}

// startDownload fetches each target's payload into local staging.
// Download resumption across restarts is not implemented: a target
// partially fetched in a prior process lifetime restarts from byte
// zero on the next StartDownload.
func (o *Orchestrator) startDownload(ctx context.Context, targets []api.Target, events chan<- Event) {
	var done []api.Target
	for _, t := range targets {
		if ctx.Err() != nil {
			return
		}
		if status, err := o.pkgManager.VerifyTarget(t); err == nil && status == pkgmanager.Good {
			done = append(done, t)
			continue
		}
		uri := t.CustomURI
		if uri == "" {
			uri = "targets/" + t.Filename
		}
		body, err := o.payloads.FetchPayload(ctx, uri)
		if err != nil {
			o.fail(events, &api.TransportError{Cause: err})
			continue
		}
		cancel := make(chan struct{})
		stop := make(chan struct{})
		go func() {
			select {
			case <-ctx.Done():
				close(cancel)
			case <-stop:
			}
		}()
		fetchErr := o.pkgManager.FetchTarget(t, body, cancel)
		close(stop)
		body.Close()
		if fetchErr != nil {
			o.fail(events, fetchErr)
			continue
		}
		done = append(done, t)
	}
	events <- Event{Kind: EvtDownloadComplete, Targets: done}
}

// uptaneInstall fans root rotation and metadata out to every Secondary
// the dispatcher owns, and firmware to each addressed Secondary, before
// installing on the Primary, so a Primary
// reboot never strands a Secondary mid-flash (see DESIGN.md).
func (o *Orchestrator) uptaneInstall(ctx context.Context, targets []api.Target, events chan<- Event) {
	secondaryPayloads := map[api.EcuSerial]secondary.FirmwarePayload{}
	var primaryTarget *api.Target
	for i := range targets {
		t := targets[i]
		for serial := range t.EcuIdentifiers {
			if serial == o.cfg.PrimarySerial {
				primaryTarget = &t
				continue
			}
			payload, err := o.loadFirmwarePayload(t)
			if err != nil {
				o.recordSecondaryError(events, serial, err)
				continue
			}
			secondaryPayloads[serial] = payload
		}
	}

	o.recordDispatchFailures(events, o.dispatcher.RotateRoots(ctx))
	o.recordDispatchFailures(events, o.dispatcher.PutMetadata(ctx))
	o.recordDispatchFailures(events, o.dispatcher.PutFirmware(ctx, secondaryPayloads))

	if primaryTarget != nil {
		if err := o.installOnPrimary(*primaryTarget, events); err != nil {
			return
		}
	}
	events <- Event{Kind: EvtInstallComplete}
}

// installIfNeeded calls Install unless target is already what is
// currently running, in which case re-issuing UptaneInstall for it is
// a no-op reported as ResultAlreadyProcessed rather than a redundant
// install attempt.
func (o *Orchestrator) installIfNeeded(target api.Target) (api.InstallationResult, error) {
	if cur, err := o.pkgManager.GetCurrent(); err == nil && cur.EqualIdentity(target) {
		return api.InstallationResult{TargetFilename: target.Filename, Code: api.ResultAlreadyProcessed}, nil
	}
	return o.pkgManager.Install(target)
}

func (o *Orchestrator) installOnPrimary(target api.Target, events chan<- Event) error {
	result, err := o.installIfNeeded(target)
	if err != nil {
		o.fail(events, err)
		return err
	}
	data, err := json.Marshal(result)
	if err != nil {
		o.fail(events, err)
		return err
	}
	if err := o.store.StoreInstallationResult(data); err != nil {
		o.fail(events, err)
		return err
	}
	switch result.Code {
	case api.ResultAlreadyProcessed:
		return nil
	case api.ResultOk:
		return o.installLog.Append(api.InstalledVersion{Target: target, Ecu: o.cfg.PrimarySerial, InstalledAt: time.Now().UTC()})
	case api.ResultNeedsCompletion:
		pending, err := json.Marshal(target)
		if err != nil {
			o.fail(events, err)
			return err
		}
		if err := o.store.StorePendingInstall(pending); err != nil {
			o.fail(events, err)
			return err
		}
		return o.bootloader.RebootFlagSet(target.Filename)
	default:
		o.fail(events, &api.InstallFailedError{Detail: result.Description})
		return nil
	}
}

func (o *Orchestrator) loadFirmwarePayload(t api.Target) (secondary.FirmwarePayload, error) {
	if t.Type == api.ImageOSTree {
		return secondary.FirmwarePayload{Target: t, OSTreeRemoteURL: t.CustomURI}, nil
	}
	data, err := o.pkgManager.StagedPayload(t.Filename)
	if err != nil {
		return secondary.FirmwarePayload{}, err
	}
	return secondary.FirmwarePayload{Target: t, Binary: data}, nil
}

func (o *Orchestrator) recordDispatchFailures(events chan<- Event, results []secondary.Result) {
	for _, r := range results {
		if r.Err != nil {
			o.recordSecondaryError(events, r.Serial, r.Err)
		}
	}
}

func (o *Orchestrator) recordSecondaryError(events chan<- Event, serial api.EcuSerial, err error) {
	o.mu.Lock()
	o.secondaryErrors[serial] = err.Error()
	o.mu.Unlock()
	glog.Errorf("orchestrator: secondary %q: %v", serial, err)
	events <- Event{Kind: EvtError, Message: err.Error()}
}

// sendDeviceData flushes the queued telemetry reports to the backend,
// acknowledging only the entries the backend actually accepted
// (at-least-once delivery).
func (o *Orchestrator) sendDeviceData(ctx context.Context, events chan<- Event) {
	if !o.cfg.TelemetryEnabled {
		events <- Event{Kind: EvtSendDeviceDataComplete}
		return
	}
	// Hardware/network info collection is out of scope for this core;
	// only the installed-packages list, which this core already tracks
	// through pkgManager, is gathered and queued here. A collaborator
	// outside this core is free to enqueue "system_info"/"network_info"
	// entries of its own, which the delivery loop below already knows
	// how to drain.
	packages, err := o.pkgManager.GetInstalledPackages()
	if err != nil {
		o.fail(events, err)
		return
	}
	if err := o.reportQ.Enqueue("installed_packages", packages); err != nil {
		o.fail(events, err)
		return
	}

	entries, err := o.reportQ.Peek(nil)
	if err != nil {
		o.fail(events, err)
		return
	}
	var acked []string
	for _, e := range entries {
		var sendErr error
		switch e.Kind {
		case "system_info":
			sendErr = o.reporter.PutSystemInfo(ctx, e.Payload)
		case "network_info":
			sendErr = o.reporter.PutNetworkInfo(ctx, e.Payload)
		case "installed_packages":
			sendErr = o.reporter.PutInstalledPackages(ctx, e.Payload)
		default:
			glog.Warningf("orchestrator: report queue entry %q has unknown kind %q, dropping", e.ID, e.Kind)
			acked = append(acked, e.ID)
			continue
		}
		if sendErr != nil {
			glog.Warningf("orchestrator: failed to deliver queued report %q: %v", e.ID, sendErr)
			continue
		}
		acked = append(acked, e.ID)
	}
	if len(acked) > 0 {
		if err := o.reportQ.Ack(acked); err != nil {
			o.fail(events, err)
			return
		}
	}
	events <- Event{Kind: EvtSendDeviceDataComplete}
}

// manifestSigned is the signed body of one ECU's version manifest.
type manifestSigned struct {
	EcuSerial      string            `json:"ecu_serial"`
	InstalledImage manifestTarget    `json:"installed_image"`
	Result         manifestResult    `json:"result"`
	Custom         manifestCustom    `json:"custom"`
}

type manifestTarget struct {
	Filename string            `json:"filename"`
	Length   int64             `json:"length"`
	Hashes   map[string]string `json:"hashes"`
}

type manifestResult struct {
	Code        string `json:"code"`
	Description string `json:"description,omitempty"`
}

type manifestCustom struct {
	LastException   string            `json:"last_exception,omitempty"`
	SecondaryErrors map[string]string `json:"secondary_errors,omitempty"`
}

// putManifest aggregates the Primary's own manifest with every
// self-verified Secondary manifest and PUTs the signed bundle to the
// Director, suppressing submission entirely while any ECU reports an
// install in progress (spec.md §4.6).
func (o *Orchestrator) putManifest(ctx context.Context, events chan<- Event) {
	secondaryRaw := o.dispatcher.Manifests(ctx)
	accepted := map[api.EcuSerial]json.RawMessage{}
	for serial, raw := range secondaryRaw {
		pub, ok := o.cfg.SecondaryPubKeys[serial]
		if !ok {
			glog.Warningf("orchestrator: no public key provisioned for secondary %q, omitting manifest", serial)
			continue
		}
		doc, err := codec.ParseDocument(raw)
		if err != nil {
			glog.Warningf("orchestrator: secondary %q manifest malformed, omitting: %v", serial, err)
			continue
		}
		canon, err := codec.Canonicalize(doc.Signed)
		if err != nil {
			glog.Warningf("orchestrator: secondary %q manifest could not be canonicalized, omitting: %v", serial, err)
			continue
		}
		verified := false
		for _, sig := range doc.Signatures {
			if ok, _ := keyset.Verify(pub, canon, sig.Sig); ok {
				verified = true
				break
			}
		}
		if !verified {
			glog.Warningf("orchestrator: secondary %q manifest failed self-verification, omitting", serial)
			continue
		}
		if inProgress(doc.Signed) {
			glog.Infof("orchestrator: secondary %q reports an install in progress, suppressing manifest submission this cycle", serial)
			return
		}
		accepted[serial] = raw
	}

	own, err := o.buildOwnManifest()
	if err != nil {
		o.fail(events, err)
		return
	}
	if inProgress(own) {
		glog.Info("orchestrator: primary install in progress, suppressing manifest submission this cycle")
		return
	}

	aggregate, err := o.signAggregate(own, accepted)
	if err != nil {
		o.fail(events, err)
		return
	}
	if err := o.reporter.PutManifest(ctx, aggregate); err != nil {
		o.fail(events, err)
		return
	}
	events <- Event{Kind: EvtPutManifestComplete}
}

func inProgress(signed json.RawMessage) bool {
	var v struct {
		Result struct {
			Code string `json:"code"`
		} `json:"result"`
	}
	if err := json.Unmarshal(signed, &v); err != nil {
		return false
	}
	return v.Result.Code == string(api.ResultInProgress)
}

func (o *Orchestrator) buildOwnManifest() (json.RawMessage, error) {
	cur, err := o.pkgManager.GetCurrent()
	if err != nil {
		return nil, err
	}
	if len(cur.Hashes) > 0 {
		reconciled, err := o.installLog.Reconcile(cur.Hashes[0], o.cfg.PrimarySerial)
		if err != nil {
			return nil, err
		}
		cur = reconciled.Target
	}
	var result api.InstallationResult
	if raw, err := o.store.LoadInstallationResult(); err == nil && raw != nil {
		_ = json.Unmarshal(raw, &result)
	}
	hashes := map[string]string{}
	for _, h := range cur.Hashes {
		hashes[string(h.Algo)] = hex.EncodeToString(h.Digest)
	}

	o.mu.Lock()
	lastExc := o.lastException
	secErrs := make(map[string]string, len(o.secondaryErrors))
	for k, v := range o.secondaryErrors {
		secErrs[string(k)] = v
	}
	o.mu.Unlock()

	m := manifestSigned{
		EcuSerial:      string(o.cfg.PrimarySerial),
		InstalledImage: manifestTarget{Filename: cur.Filename, Length: cur.Length, Hashes: hashes},
		Result:         manifestResult{Code: string(result.Code), Description: result.Description},
		Custom:         manifestCustom{LastException: lastExc, SecondaryErrors: secErrs},
	}
	return json.Marshal(m)
}

func (o *Orchestrator) signAggregate(own json.RawMessage, secondaryDocs map[api.EcuSerial]json.RawMessage) ([]byte, error) {
	canon, err := codec.Canonicalize(own)
	if err != nil {
		return nil, err
	}
	sig, err := o.signer.Sign(canon)
	if err != nil {
		return nil, err
	}
	ownDoc, err := json.Marshal(api.SignedDocument{Signed: own, Signatures: []api.Signature{sig}})
	if err != nil {
		return nil, err
	}

	aggregate := map[string]json.RawMessage{string(o.cfg.PrimarySerial): ownDoc}
	for serial, raw := range secondaryDocs {
		aggregate[string(serial)] = raw
	}
	return json.Marshal(aggregate)
}

func (o *Orchestrator) fail(events chan<- Event, err error) {
	o.setLastException(err)
	glog.Errorf("orchestrator: %v", err)
	events <- Event{Kind: EvtError, Message: err.Error()}
}

func (o *Orchestrator) setLastException(err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.lastException = err.Error()
}

func (o *Orchestrator) clearLastException() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.lastException = ""
}
