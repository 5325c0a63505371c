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
	"strings"

	"github.com/blockcsi/csi-block-driver/pkg/array"
	"github.com/blockcsi/csi-block-driver/pkg/objectid"
	"github.com/blockcsi/csi-block-driver/pkg/secrets"
	"github.com/container-storage-interface/spec/lib/go/csi"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	// ErrUnknownAccessType represents error message for unknown access type
	ErrUnknownAccessType = "unknown access type is not Block or Mount"
	// ErrUnknownAccessMode represents error message for unknown access mode
	ErrUnknownAccessMode = "access mode cannot be UNKNOWN"
	// ErrNoMultiNodeWriter represents error message for multi node access
	ErrNoMultiNodeWriter = "multi-node with writer(s) only supported for block access type"

	// Volume context keys returned by CreateVolume
	ContextVolumeName      = "volume_name"
	ContextArrayAddress    = "array_address"
	ContextPoolName        = "pool_name"
	ContextStorageType     = "storage_type"
	ContextSpaceEfficiency = "space_efficiency"
	ContextVolumeGroupID   = "volume_group_id"
	ContextVolumeGroupName = "volume_group_name"
)

var supportedFsTypes = map[string]bool{"": true, "ext4": true, "xfs": true}

var supportedAccessModes = map[csi.VolumeCapability_AccessMode_Mode]bool{
	csi.VolumeCapability_AccessMode_SINGLE_NODE_WRITER:        true,
	csi.VolumeCapability_AccessMode_SINGLE_NODE_SINGLE_WRITER: true,
	csi.VolumeCapability_AccessMode_SINGLE_NODE_MULTI_WRITER:  true,
	csi.VolumeCapability_AccessMode_MULTI_NODE_MULTI_WRITER:   true,
}

func validateCapability(vc *csi.VolumeCapability) error {
	if vc == nil {
		return status.Error(codes.InvalidArgument, "volume capability is required")
	}
	mode := vc.GetAccessMode().GetMode()
	if mode == csi.VolumeCapability_AccessMode_UNKNOWN {
		return status.Error(codes.InvalidArgument, ErrUnknownAccessMode)
	}
	if !supportedAccessModes[mode] {
		return status.Errorf(codes.InvalidArgument, "unsupported access mode: %s", mode)
	}

	switch {
	case vc.GetBlock() != nil:
	case vc.GetMount() != nil:
		mnt := vc.GetMount()
		if !supportedFsTypes[mnt.GetFsType()] {
			return status.Errorf(codes.InvalidArgument, "unsupported fs type: %s", mnt.GetFsType())
		}
		if len(mnt.GetMountFlags()) > 0 {
			return status.Error(codes.InvalidArgument, "mount flags are not supported")
		}
		if mode == csi.VolumeCapability_AccessMode_MULTI_NODE_MULTI_WRITER {
			return status.Error(codes.InvalidArgument, ErrNoMultiNodeWriter)
		}
	default:
		return status.Error(codes.InvalidArgument, ErrUnknownAccessType)
	}
	return nil
}

func validateCapabilities(vcs []*csi.VolumeCapability) error {
	if len(vcs) == 0 {
		return status.Error(codes.InvalidArgument, "volume capabilities are required")
	}
	for _, vc := range vcs {
		if err := validateCapability(vc); err != nil {
			return err
		}
	}
	return nil
}

func topologySegments(topologies []*csi.Topology) []map[string]string {
	var out []map[string]string
	for _, t := range topologies {
		if len(t.GetSegments()) > 0 {
			out = append(out, t.GetSegments())
		}
	}
	return out
}

func requisiteSegments(req *csi.TopologyRequirement) []map[string]string {
	if req == nil {
		return nil
	}
	if seg := topologySegments(req.GetPreferred()); len(seg) > 0 {
		return append(seg, topologySegments(req.GetRequisite())...)
	}
	return topologySegments(req.GetRequisite())
}

// connection resolves the array for an existing object: the system id in the object id
// selects the system, the array type skips detection.
func connection(secretData map[string]string, info objectid.Info) (array.ConnectionInfo, error) {
	if len(secretData) == 0 {
		return array.ConnectionInfo{}, status.Error(codes.InvalidArgument, "secrets are required")
	}
	conn, err := secrets.Resolve(secretData, info.SystemID)
	if err != nil {
		return array.ConnectionInfo{}, toStatus(err)
	}
	return conn, nil
}

func decodeID(id, what string) (objectid.Info, error) {
	if id == "" {
		return objectid.Info{}, status.Errorf(codes.InvalidArgument, "%s is required", what)
	}
	return objectid.Decode(id)
}

func volumeContext(v *array.Volume, arrayAddresses []string) map[string]string {
	ctx := map[string]string{
		ContextVolumeName:      v.Name,
		ContextArrayAddress:    strings.Join(arrayAddresses, ","),
		ContextPoolName:        v.Pool,
		ContextStorageType:     v.ArrayType,
		ContextSpaceEfficiency: strings.Join(v.SpaceEfficiencyAliases, ","),
	}
	if v.VolumeGroupID != "" {
		ctx[ContextVolumeGroupID] = v.VolumeGroupID
	}
	if v.VolumeGroupName != "" {
		ctx[ContextVolumeGroupName] = v.VolumeGroupName
	}
	return ctx
}

func hasAlias(aliases []string, spaceEfficiency string) bool {
	for _, a := range aliases {
		if strings.EqualFold(a, spaceEfficiency) {
			return true
		}
	}
	return false
}

// backend is the array access shared by the controller services.
type backend struct {
	registry *array.Registry
}

// withMediator runs fn with a leased mediator and converts its error into a status.
func (b *backend) withMediator(ctx context.Context, conn array.ConnectionInfo, arrayType string,
	fn func(array.Mediator) error, overrides ...map[array.Kind]codes.Code,
) error {
	return toStatus(b.registry.WithMediator(ctx, conn, arrayType, fn), overrides...)
}
