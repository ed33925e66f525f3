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

package api

import "fmt"

// MalformedMetadataError signals that a role document could not be
// parsed into {signed, signatures} at all.
type MalformedMetadataError struct {
	Cause error
}

func (e *MalformedMetadataError) Error() string {
	return fmt.Sprintf("malformed metadata: %v", e.Cause)
}

func (e *MalformedMetadataError) Unwrap() error { return e.Cause }

// SignatureInvalidError signals that a presented signature did not
// verify over the canonical signed body.
type SignatureInvalidError struct {
	KeyID string
}

func (e *SignatureInvalidError) Error() string {
	return fmt.Sprintf("signature invalid for key %q", e.KeyID)
}

// ThresholdUnmetError signals too few authorized, verifying signatures.
type ThresholdUnmetError struct {
	Repo      RepoName
	Role      Role
	Got, Want int
}

func (e *ThresholdUnmetError) Error() string {
	return fmt.Sprintf("%s/%s: threshold unmet: got %d valid signatures, want %d", e.Repo, e.Role, e.Got, e.Want)
}

// ExpiredMetadataError signals a role whose expiry has passed.
type ExpiredMetadataError struct {
	Repo RepoName
	Role Role
}

func (e *ExpiredMetadataError) Error() string {
	return fmt.Sprintf("%s/%s: metadata expired", e.Repo, e.Role)
}

// VersionRollbackError signals a fetched version lower than what is
// already trusted.
type VersionRollbackError struct {
	Repo         RepoName
	Role         Role
	Have, Remote int64
}

func (e *VersionRollbackError) Error() string {
	return fmt.Sprintf("%s/%s: version rollback: have %d, remote offered %d", e.Repo, e.Role, e.Have, e.Remote)
}

// MetadataIntegrityError signals that a child role's recorded
// hash/length/version does not match what its parent role declared
// for it (Timestamp's recorded Snapshot hash/length, or Snapshot's
// pinned Targets version).
type MetadataIntegrityError struct {
	Repo   RepoName
	Role   Role
	Detail string
}

func (e *MetadataIntegrityError) Error() string {
	return fmt.Sprintf("%s/%s: metadata integrity check failed: %s", e.Repo, e.Role, e.Detail)
}

// UnmetThresholdAfterRotationError signals a root rotation step whose
// target version did not meet either the old or the new keyset's
// threshold.
type UnmetThresholdAfterRotationError struct {
	Repo    RepoName
	Version int64
}

func (e *UnmetThresholdAfterRotationError) Error() string {
	return fmt.Sprintf("%s: root v%d unmet threshold under old or new keyset", e.Repo, e.Version)
}

// CrossRepoMismatchError signals a Director target with no matching,
// or hash-mismatched, Images target.
type CrossRepoMismatchError struct {
	Filename string
}

func (e *CrossRepoMismatchError) Error() string {
	return fmt.Sprintf("cross-repo mismatch for target %q", e.Filename)
}

// UnknownEcuError signals a target addressed to an ECU serial this
// device has no record of. Per spec.md §4.4 this is non-fatal: logged
// and the target is skipped for that ECU, not an aborting error, but
// is still a typed value for that log line.
type UnknownEcuError struct {
	Serial EcuSerial
}

func (e *UnknownEcuError) Error() string {
	return fmt.Sprintf("unknown ecu serial %q", e.Serial)
}

// HardwareIdMismatchError signals a target whose claimed hardware id
// for a known ECU serial does not match provisioning. This is fatal:
// it indicates misdirection.
type HardwareIdMismatchError struct {
	Serial EcuSerial
	Want   HardwareId
	Got    HardwareId
}

func (e *HardwareIdMismatchError) Error() string {
	return fmt.Sprintf("hardware id mismatch for ecu %q: want %q, got %q", e.Serial, e.Want, e.Got)
}

// TransportError wraps a transient network/transport failure.
type TransportError struct {
	Cause error
}

func (e *TransportError) Error() string { return fmt.Sprintf("transport error: %v", e.Cause) }
func (e *TransportError) Unwrap() error { return e.Cause }

// StorageError wraps a persistence failure.
type StorageError struct {
	Cause error
}

func (e *StorageError) Error() string { return fmt.Sprintf("storage error: %v", e.Cause) }
func (e *StorageError) Unwrap() error { return e.Cause }

// DownloadHashMismatchError signals a downloaded payload whose digest
// does not match the verified Images target.
type DownloadHashMismatchError struct {
	Filename string
}

func (e *DownloadHashMismatchError) Error() string {
	return fmt.Sprintf("downloaded payload for %q does not match expected hash", e.Filename)
}

// InstallFailedError wraps a PackageManager install failure detail.
type InstallFailedError struct {
	Detail string
}

func (e *InstallFailedError) Error() string { return fmt.Sprintf("install failed: %s", e.Detail) }

// SecondaryUnreachableError signals a per-ECU dispatch failure that
// does not abort the remaining fan-out.
type SecondaryUnreachableError struct {
	Serial EcuSerial
	Cause  error
}

func (e *SecondaryUnreachableError) Error() string {
	return fmt.Sprintf("secondary %q unreachable: %v", e.Serial, e.Cause)
}

func (e *SecondaryUnreachableError) Unwrap() error { return e.Cause }
