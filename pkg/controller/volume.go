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
	"github.com/blockcsi/csi-block-driver/pkg/common"
	"github.com/blockcsi/csi-block-driver/pkg/naming"
	"github.com/blockcsi/csi-block-driver/pkg/objectid"
	"github.com/blockcsi/csi-block-driver/pkg/parameters"
	"github.com/blockcsi/csi-block-driver/pkg/secrets"
	"github.com/container-storage-interface/spec/lib/go/csi"
	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type volumeSource struct {
	info objectid.Info
	kind array.ObjectType
}

func contentSource(src *csi.VolumeContentSource) (*volumeSource, error) {
	if src == nil {
		return nil, nil
	}
	var (
		id   string
		kind array.ObjectType
	)
	switch {
	case src.GetSnapshot() != nil:
		id, kind = src.GetSnapshot().GetSnapshotId(), array.SnapshotType
	case src.GetVolume() != nil:
		id, kind = src.GetVolume().GetVolumeId(), array.VolumeType
	default:
		return nil, status.Error(codes.InvalidArgument, "unsupported volume content source")
	}
	info, err := objectid.Decode(id)
	if err != nil {
		return nil, toStatus(err)
	}
	return &volumeSource{info: info, kind: kind}, nil
}

// CreateVolume creates a volume on the storage system selected by the secret and topology.
func (s *Service) CreateVolume(ctx context.Context, req *csi.CreateVolumeRequest) (*csi.CreateVolumeResponse, error) {
	name := req.GetName()
	if name == "" {
		return nil, status.Error(codes.InvalidArgument, "name cannot be empty")
	}
	ctx = common.SetLogFields(ctx, log.Fields{"VolumeName": name})

	capRange := req.GetCapacityRange()
	if capRange == nil {
		return nil, status.Error(codes.InvalidArgument, "capacity range is required")
	}
	if capRange.GetRequiredBytes() < 0 || capRange.GetLimitBytes() < 0 {
		return nil, status.Errorf(codes.InvalidArgument,
			"bad capacity: volume size bytes %d and limit size bytes %d must not be negative",
			capRange.GetRequiredBytes(), capRange.GetLimitBytes())
	}
	if err := validateCapabilities(req.GetVolumeCapabilities()); err != nil {
		return nil, err
	}
	if len(req.GetSecrets()) == 0 {
		return nil, status.Error(codes.InvalidArgument, "secrets are required")
	}
	source, err := contentSource(req.GetVolumeContentSource())
	if err != nil {
		return nil, err
	}

	secret, err := secrets.Parse(req.GetSecrets())
	if err != nil {
		return nil, toStatus(err)
	}
	systemID, arrayType := "", ""
	if source != nil {
		systemID, arrayType = source.info.SystemID, source.info.ArrayType
	}
	conn, err := secret.Select(systemID, requisiteSegments(req.GetAccessibilityRequirements())...)
	if err != nil {
		return nil, toStatus(err)
	}
	params, err := parameters.ForVolume(req.GetParameters(), conn.SystemID)
	if err != nil {
		return nil, toStatus(err)
	}
	if params.Pool == "" {
		return nil, toStatus(array.Errorf(array.PoolParameterMissing, "pool parameter is missing"))
	}

	var resp *csi.CreateVolumeResponse
	err = s.withMediator(ctx, conn, arrayType, func(m array.Mediator) error {
		vol, err := s.createVolume(ctx, m, name, capRange.GetRequiredBytes(), params, source)
		if err != nil {
			return err
		}
		resp = &csi.CreateVolumeResponse{
			Volume: &csi.Volume{
				VolumeId:           objectid.Encode(m.Identifier(), conn.SystemID, objectid.IDs{InternalID: vol.InternalID, UID: vol.ID}),
				CapacityBytes:      vol.CapacityBytes,
				VolumeContext:      volumeContext(vol, conn.ArrayAddresses),
				ContentSource:      req.GetVolumeContentSource(),
				AccessibleTopology: accessibleTopology(secret, conn.SystemID),
			},
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	log.WithFields(common.GetLogFields(ctx)).Infof("volume %s ready", resp.Volume.VolumeId)
	return resp, nil
}

func (s *Service) createVolume(ctx context.Context, m array.Mediator, name string, requiredBytes int64,
	params parameters.ObjectParameters, source *volumeSource,
) (*array.Volume, error) {
	fields := common.GetLogFields(ctx)

	finalName, err := naming.Shape(params.Prefix, name, m)
	if err != nil {
		return nil, err
	}
	if requiredBytes > m.MaximalVolumeSizeInBytes() {
		return nil, array.Errorf(array.SizeOutOfRange,
			"requested size %d is bigger than the maximal volume size %d", requiredBytes, m.MaximalVolumeSizeInBytes())
	}
	if requiredBytes == 0 {
		requiredBytes = m.MinimalVolumeSizeInBytes()
	}

	sourceID := ""
	var sourceType array.ObjectType
	if source != nil {
		sourceID, sourceType = source.info.IDs.UID, source.kind
		if params.VirtSnapFunc {
			if err := validateVirtSource(ctx, m, source, params, requiredBytes); err != nil {
				return nil, err
			}
		}
	}

	vol, found, err := m.GetVolume(ctx, finalName, params.Pool, params.VirtSnapFunc)
	if err != nil {
		return nil, err
	}
	if !found {
		log.WithFields(fields).Infof("creating volume %s in pool %s", finalName, params.Pool)
		vol, err = m.CreateVolume(ctx, array.CreateVolumeRequest{
			Name:            finalName,
			RequiredBytes:   requiredBytes,
			SpaceEfficiency: params.SpaceEfficiency,
			Pool:            params.Pool,
			IOGroup:         params.IOGroup,
			VolumeGroup:     params.VolumeGroup,
			SourceID:        sourceID,
			SourceType:      sourceType,
			VirtSnapFunc:    params.VirtSnapFunc,
		})
		if err != nil {
			return nil, err
		}
	} else {
		log.WithFields(fields).Debugf("volume %s already exists", finalName)
		if vol.CapacityBytes < requiredBytes && sourceID == "" {
			return nil, array.Errorf(array.VolumeAlreadyExists,
				"volume %s already exists with capacity %d, smaller than requested %d", finalName, vol.CapacityBytes, requiredBytes)
		}
		if !params.VirtSnapFunc {
			switch {
			case vol.SourceID == "" && sourceID == "":
			case vol.SourceID == sourceID:
				return vol, nil
			default:
				return nil, array.Errorf(array.VolumeAlreadyExists,
					"volume %s already exists with source %q, requested source is %q", finalName, vol.SourceID, sourceID)
			}
		}
	}

	if sourceID != "" && !params.VirtSnapFunc {
		log.WithFields(fields).Infof("copying %s %s into volume %s", sourceType, sourceID, vol.Name)
		if err := m.CopyToExistingVolumeFromSource(ctx, vol, sourceID, sourceType, requiredBytes); err != nil {
			return nil, err
		}
	}
	return vol, nil
}

func validateVirtSource(ctx context.Context, m array.Mediator, source *volumeSource,
	params parameters.ObjectParameters, requiredBytes int64,
) error {
	volumeID := source.info.IDs.UID
	if source.kind == array.SnapshotType {
		snap, err := m.GetSnapshotByID(ctx, volumeID)
		if err != nil {
			return err
		}
		volumeID = snap.SourceID
	}
	vol, err := m.GetVolumeByID(ctx, volumeID)
	if err != nil {
		return err
	}
	if params.SpaceEfficiency != "" && !hasAlias(vol.SpaceEfficiencyAliases, params.SpaceEfficiency) {
		return array.Errorf(array.SpaceEfficiencyMismatch,
			"source volume %s space efficiency %v does not match %s", vol.ID, vol.SpaceEfficiencyAliases, params.SpaceEfficiency)
	}
	if vol.CapacityBytes < requiredBytes {
		return array.Errorf(array.InvalidArgument,
			"requested size %d is bigger than the source volume size %d", requiredBytes, vol.CapacityBytes)
	}
	return nil
}

func accessibleTopology(secret *secrets.Secret, systemID string) []*csi.Topology {
	if systemID == "" {
		return nil
	}
	sys, ok := secret.System(systemID)
	if !ok {
		return nil
	}
	var out []*csi.Topology
	for _, segments := range sys.SupportedTopologies {
		out = append(out, &csi.Topology{Segments: segments})
	}
	return out
}

// DeleteVolume deletes the volume; unknown or malformed ids are treated as already deleted.
func (s *Service) DeleteVolume(ctx context.Context, req *csi.DeleteVolumeRequest) (*csi.DeleteVolumeResponse, error) {
	id := req.GetVolumeId()
	if id == "" {
		return nil, status.Error(codes.InvalidArgument, "volume ID is required")
	}
	ctx = common.SetLogFields(ctx, log.Fields{"ID": id})

	info, err := objectid.Decode(id)
	if err != nil {
		log.WithFields(common.GetLogFields(ctx)).Warnf("%s, assuming the volume is already deleted", err.Error())
		return &csi.DeleteVolumeResponse{}, nil
	}
	conn, err := connection(req.GetSecrets(), info)
	if err != nil {
		return nil, err
	}

	err = s.withMediator(ctx, conn, info.ArrayType, func(m array.Mediator) error {
		err := m.DeleteVolume(ctx, info.IDs.UID)
		if array.IsKind(err, array.ObjectNotFound) {
			log.WithFields(common.GetLogFields(ctx)).Info("volume not found, assuming it is already deleted")
			return nil
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return &csi.DeleteVolumeResponse{}, nil
}

// ValidateVolumeCapabilities checks that the volume exists, matches the given context and
// parameters and supports the capabilities.
func (s *Service) ValidateVolumeCapabilities(ctx context.Context, req *csi.ValidateVolumeCapabilitiesRequest) (*csi.ValidateVolumeCapabilitiesResponse, error) {
	info, err := decodeID(req.GetVolumeId(), "volume ID")
	if err != nil {
		return nil, toStatus(err)
	}
	if err := validateCapabilities(req.GetVolumeCapabilities()); err != nil {
		return nil, err
	}
	conn, err := connection(req.GetSecrets(), info)
	if err != nil {
		return nil, err
	}

	err = s.withMediator(ctx, conn, info.ArrayType, func(m array.Mediator) error {
		vol, err := m.GetVolumeByID(ctx, info.IDs.UID)
		if err != nil {
			return err
		}
		return matchVolume(vol, req.GetVolumeContext(), req.GetParameters())
	})
	if err != nil {
		return nil, err
	}

	return &csi.ValidateVolumeCapabilitiesResponse{
		Confirmed: &csi.ValidateVolumeCapabilitiesResponse_Confirmed{
			VolumeContext:      req.GetVolumeContext(),
			VolumeCapabilities: req.GetVolumeCapabilities(),
			Parameters:         req.GetParameters(),
		},
	}, nil
}

func matchVolume(vol *array.Volume, volumeContext, params map[string]string) error {
	if pool, ok := volumeContext[ContextPoolName]; ok && pool != vol.Pool {
		return array.Errorf(array.InvalidArgument, "volume context pool %s does not match volume pool %s", pool, vol.Pool)
	}
	if se, ok := volumeContext[ContextSpaceEfficiency]; ok && se != "" {
		for _, alias := range strings.Split(se, ",") {
			if !hasAlias(vol.SpaceEfficiencyAliases, alias) {
				return array.Errorf(array.InvalidArgument,
					"volume context space efficiency %s does not match volume %v", se, vol.SpaceEfficiencyAliases)
			}
		}
	}
	if pool, ok := params[parameters.KeyPool]; ok && pool != "" && pool != vol.Pool {
		return array.Errorf(array.InvalidArgument, "parameter pool %s does not match volume pool %s", pool, vol.Pool)
	}
	if se, ok := params[parameters.KeySpaceEfficiency]; ok && se != "" && !hasAlias(vol.SpaceEfficiencyAliases, se) {
		return array.Errorf(array.InvalidArgument,
			"parameter space efficiency %s does not match volume %v", se, vol.SpaceEfficiencyAliases)
	}
	return nil
}

// ControllerExpandVolume grows the volume to the required size.
func (s *Service) ControllerExpandVolume(ctx context.Context, req *csi.ControllerExpandVolumeRequest) (*csi.ControllerExpandVolumeResponse, error) {
	info, err := decodeID(req.GetVolumeId(), "volume ID")
	if err != nil {
		return nil, toStatus(err)
	}
	required := req.GetCapacityRange().GetRequiredBytes()
	if req.GetCapacityRange() == nil || required < 0 {
		return nil, status.Error(codes.InvalidArgument, "capacity range with non-negative required bytes is required")
	}
	conn, err := connection(req.GetSecrets(), info)
	if err != nil {
		return nil, err
	}
	ctx = common.SetLogFields(ctx, log.Fields{"ID": req.GetVolumeId()})

	resp := &csi.ControllerExpandVolumeResponse{}
	err = s.withMediator(ctx, conn, info.ArrayType, func(m array.Mediator) error {
		vol, err := m.GetVolumeByID(ctx, info.IDs.UID)
		if err != nil {
			return err
		}
		if vol.CapacityBytes >= required {
			log.WithFields(common.GetLogFields(ctx)).Infof("volume capacity %d already satisfies %d", vol.CapacityBytes, required)
			resp.CapacityBytes = vol.CapacityBytes
			return nil
		}
		if required > m.MaximalVolumeSizeInBytes() {
			return array.Errorf(array.SizeOutOfRange,
				"requested size %d is bigger than the maximal volume size %d", required, m.MaximalVolumeSizeInBytes())
		}
		if err := m.ExpandVolume(ctx, info.IDs.UID, required); err != nil {
			return err
		}
		vol, err = m.GetVolumeByID(ctx, info.IDs.UID)
		if err != nil {
			return err
		}
		resp.CapacityBytes = vol.CapacityBytes
		resp.NodeExpansionRequired = req.GetVolumeCapability().GetBlock() == nil
		return nil
	}, map[array.Kind]codes.Code{array.ObjectIsStillInUse: codes.Internal})
	if err != nil {
		return nil, err
	}
	return resp, nil
}
