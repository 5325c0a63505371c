/*
 *
 * Copyright © 2024 The Block CSI Driver Authors. All Rights Reserved.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *   http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 *
 */

package array

import (
	"errors"
	"fmt"
)

// Kind classifies a storage or validation failure. The controller maps each
// kind onto a single gRPC status code.
type Kind int

// Error kinds reported by mediators and request validation.
const (
	KindUnknown Kind = iota
	InvalidArgument
	InvalidID
	PoolParameterMissing
	VirtSnapshotNotSupported
	ObjectNotFound
	HostNotFound
	PermissionDenied
	ObjectIsStillInUse
	CredentialsError
	ObjectAlreadyExists
	VolumeAlreadyExists
	SnapshotAlreadyExists
	HostAlreadyExists
	ObjectAlreadyProcessing
	NotEnoughSpaceInPool
	NoAvailableLun
	LunAlreadyInUse
	SizeOutOfRange
	VolumeAlreadyMappedToDifferentHosts
	VolumeAlreadyUnmapped
	NoIscsiTargetsFound
	InvalidNodeID
	UnsupportedConnectivityType
	ExpectedSnapshotButFoundVolume
	SpaceEfficiencyMismatch
	NotImplemented
)

var kindNames = map[Kind]string{
	KindUnknown:                         "Unknown",
	InvalidArgument:                     "InvalidArgument",
	InvalidID:                           "InvalidID",
	PoolParameterMissing:                "PoolParameterMissing",
	VirtSnapshotNotSupported:            "VirtSnapshotNotSupported",
	ObjectNotFound:                      "ObjectNotFound",
	HostNotFound:                        "HostNotFound",
	PermissionDenied:                    "PermissionDenied",
	ObjectIsStillInUse:                  "ObjectIsStillInUse",
	CredentialsError:                    "CredentialsError",
	ObjectAlreadyExists:                 "ObjectAlreadyExists",
	VolumeAlreadyExists:                 "VolumeAlreadyExists",
	SnapshotAlreadyExists:               "SnapshotAlreadyExists",
	HostAlreadyExists:                   "HostAlreadyExists",
	ObjectAlreadyProcessing:             "ObjectAlreadyProcessing",
	NotEnoughSpaceInPool:                "NotEnoughSpaceInPool",
	NoAvailableLun:                      "NoAvailableLun",
	LunAlreadyInUse:                     "LunAlreadyInUse",
	SizeOutOfRange:                      "SizeOutOfRange",
	VolumeAlreadyMappedToDifferentHosts: "VolumeAlreadyMappedToDifferentHosts",
	VolumeAlreadyUnmapped:               "VolumeAlreadyUnmapped",
	NoIscsiTargetsFound:                 "NoIscsiTargetsFound",
	InvalidNodeID:                       "InvalidNodeID",
	UnsupportedConnectivityType:         "UnsupportedConnectivityType",
	ExpectedSnapshotButFoundVolume:      "ExpectedSnapshotButFoundVolume",
	SpaceEfficiencyMismatch:             "SpaceEfficiencyMismatch",
	NotImplemented:                      "NotImplemented",
}

func (k Kind) String() string {
	if n, ok := kindNames[k]; ok {
		return n
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Error is a classified failure.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s", e.Msg, e.Err.Error())
	}
	return e.Msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Errorf returns an *Error of the given kind.
func Errorf(kind Kind, format string, args ...interface{}) error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap classifies err under kind, keeping it in the chain.
func Wrap(kind Kind, err error, format string, args ...interface{}) error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Err: err}
}

// KindOf returns the kind of the first *Error in err's chain, or KindUnknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsKind reports whether err is classified as one of kinds.
func IsKind(err error, kinds ...Kind) bool {
	if err == nil {
		return false
	}
	k := KindOf(err)
	for _, want := range kinds {
		if k == want {
			return true
		}
	}
	return false
}
