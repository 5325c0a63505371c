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

package controller

import (
	"context"
	"errors"

	"github.com/blockcsi/csi-block-driver/pkg/array"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var kindCodes = map[array.Kind]codes.Code{
	array.InvalidArgument:                     codes.InvalidArgument,
	array.PoolParameterMissing:                codes.InvalidArgument,
	array.VirtSnapshotNotSupported:            codes.InvalidArgument,
	array.InvalidID:                           codes.NotFound,
	array.ObjectNotFound:                      codes.NotFound,
	array.HostNotFound:                        codes.NotFound,
	array.PermissionDenied:                    codes.PermissionDenied,
	array.ObjectIsStillInUse:                  codes.FailedPrecondition,
	array.CredentialsError:                    codes.Unauthenticated,
	array.ObjectAlreadyExists:                 codes.AlreadyExists,
	array.VolumeAlreadyExists:                 codes.AlreadyExists,
	array.SnapshotAlreadyExists:               codes.AlreadyExists,
	array.HostAlreadyExists:                   codes.AlreadyExists,
	array.ObjectAlreadyProcessing:             codes.Aborted,
	array.NotEnoughSpaceInPool:                codes.ResourceExhausted,
	array.NoAvailableLun:                      codes.ResourceExhausted,
	array.LunAlreadyInUse:                     codes.ResourceExhausted,
	array.SizeOutOfRange:                      codes.OutOfRange,
	array.VolumeAlreadyMappedToDifferentHosts: codes.FailedPrecondition,
	array.UnsupportedConnectivityType:         codes.InvalidArgument,
	array.ExpectedSnapshotButFoundVolume:      codes.InvalidArgument,
	array.SpaceEfficiencyMismatch:             codes.InvalidArgument,
	array.NotImplemented:                      codes.Unimplemented,
	array.InvalidNodeID:                       codes.NotFound,
	array.NoIscsiTargetsFound:                 codes.NotFound,
}

// codeOf returns the gRPC code for err; overrides win over the default table.
func codeOf(err error, overrides map[array.Kind]codes.Code) codes.Code {
	if errors.Is(err, context.DeadlineExceeded) {
		return codes.DeadlineExceeded
	}
	if errors.Is(err, context.Canceled) {
		return codes.Canceled
	}
	kind := array.KindOf(err)
	if c, ok := overrides[kind]; ok {
		return c
	}
	if c, ok := kindCodes[kind]; ok {
		return c
	}
	return codes.Internal
}

// toStatus converts err into a gRPC status error. Errors that already carry a status are
// returned unchanged.
func toStatus(err error, overrides ...map[array.Kind]codes.Code) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok && array.KindOf(err) == array.KindUnknown {
		return err
	}
	var o map[array.Kind]codes.Code
	if len(overrides) > 0 {
		o = overrides[0]
	}
	return status.Error(codeOf(err, o), err.Error())
}
