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

	"github.com/blockcsi/csi-block-driver/pkg/array"
	"github.com/blockcsi/csi-block-driver/pkg/common"
	"github.com/blockcsi/csi-block-driver/pkg/naming"
	"github.com/blockcsi/csi-block-driver/pkg/objectid"
	"github.com/blockcsi/csi-block-driver/pkg/parameters"
	"github.com/blockcsi/csi-block-driver/pkg/secrets"
	"github.com/container-storage-interface/spec/lib/go/csi"
	"github.com/csi-addons/spec/lib/go/volumegroup"
	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// VolumeGroupService implements the CSI-Addons volume group controller
type VolumeGroupService struct {
	volumegroup.UnimplementedControllerServer
	backend
}

// NewVolumeGroupService returns a volume group service leasing mediators from registry
func NewVolumeGroupService(registry *array.Registry) *VolumeGroupService {
	return &VolumeGroupService{backend: backend{registry: registry}}
}

// CreateVolumeGroup creates an empty group, or returns the existing empty group of the same name.
func (s *VolumeGroupService) CreateVolumeGroup(ctx context.Context, req *volumegroup.CreateVolumeGroupRequest) (*volumegroup.CreateVolumeGroupResponse, error) {
	name := req.GetName()
	if name == "" {
		return nil, status.Error(codes.InvalidArgument, "volume group name cannot be empty")
	}
	if len(req.GetSecrets()) == 0 {
		return nil, status.Error(codes.InvalidArgument, "secrets are required")
	}
	conn, err := secrets.Resolve(req.GetSecrets(), req.GetParameters()[parameters.KeySystemID])
	if err != nil {
		return nil, toStatus(err)
	}
	params, err := parameters.ForVolume(req.GetParameters(), conn.SystemID)
	if err != nil {
		return nil, toStatus(err)
	}
	ctx = common.SetLogFields(ctx, log.Fields{"VolumeGroupName": name})

	var resp *volumegroup.CreateVolumeGroupResponse
	err = s.withMediator(ctx, conn, "", func(m array.Mediator) error {
		finalName, err := naming.Shape(params.Prefix, name, m)
		if err != nil {
			return err
		}
		group, found, err := m.GetVolumeGroupByName(ctx, finalName)
		if err != nil {
			return err
		}
		if found && len(group.Volumes) > 0 {
			return array.Errorf(array.ObjectAlreadyExists, "volume group %s already exists and is not empty", finalName)
		}
		if !found {
			log.WithFields(common.GetLogFields(ctx)).Infof("creating volume group %s", finalName)
			if group, err = m.CreateVolumeGroup(ctx, finalName); err != nil {
				return err
			}
		}
		if len(req.GetVolumeIds()) > 0 {
			if group, err = s.modifyMembership(ctx, m, group, req.GetVolumeIds()); err != nil {
				return err
			}
		}
		resp = &volumegroup.CreateVolumeGroupResponse{VolumeGroup: toCSIGroup(m.Identifier(), conn.SystemID, group)}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// DeleteVolumeGroup deletes the group; unknown or malformed ids are treated as already deleted.
func (s *VolumeGroupService) DeleteVolumeGroup(ctx context.Context, req *volumegroup.DeleteVolumeGroupRequest) (*volumegroup.DeleteVolumeGroupResponse, error) {
	id := req.GetVolumeGroupId()
	if id == "" {
		return nil, status.Error(codes.InvalidArgument, "volume group ID is required")
	}
	ctx = common.SetLogFields(ctx, log.Fields{"ID": id})
	info, err := objectid.Decode(id)
	if err != nil {
		log.WithFields(common.GetLogFields(ctx)).Warnf("%s, assuming the volume group is already deleted", err.Error())
		return &volumegroup.DeleteVolumeGroupResponse{}, nil
	}
	conn, err := connection(req.GetSecrets(), info)
	if err != nil {
		return nil, err
	}

	err = s.withMediator(ctx, conn, info.ArrayType, func(m array.Mediator) error {
		err := m.DeleteVolumeGroup(ctx, info.IDs.UID)
		if array.IsKind(err, array.ObjectNotFound) {
			log.WithFields(common.GetLogFields(ctx)).Info("volume group not found, assuming it is already deleted")
			return nil
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return &volumegroup.DeleteVolumeGroupResponse{}, nil
}

// ModifyVolumeGroupMembership makes the group members equal to the requested volumes.
func (s *VolumeGroupService) ModifyVolumeGroupMembership(ctx context.Context, req *volumegroup.ModifyVolumeGroupMembershipRequest) (*volumegroup.ModifyVolumeGroupMembershipResponse, error) {
	info, err := decodeID(req.GetVolumeGroupId(), "volume group ID")
	if err != nil {
		return nil, toStatus(err)
	}
	conn, err := connection(req.GetSecrets(), info)
	if err != nil {
		return nil, err
	}
	ctx = common.SetLogFields(ctx, log.Fields{"ID": req.GetVolumeGroupId()})

	var resp *volumegroup.ModifyVolumeGroupMembershipResponse
	err = s.withMediator(ctx, conn, info.ArrayType, func(m array.Mediator) error {
		group, err := m.GetVolumeGroup(ctx, info.IDs.UID)
		if err != nil {
			return err
		}
		if group, err = s.modifyMembership(ctx, m, group, req.GetVolumeIds()); err != nil {
			return err
		}
		resp = &volumegroup.ModifyVolumeGroupMembershipResponse{VolumeGroup: toCSIGroup(m.Identifier(), conn.SystemID, group)}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// modifyMembership adds the requested volumes missing from group, removes the members not
// requested and returns the group as stored afterwards.
func (s *VolumeGroupService) modifyMembership(ctx context.Context, m array.Mediator, group *array.VolumeGroup,
	volumeIDs []string,
) (*array.VolumeGroup, error) {
	requested := make([]string, 0, len(volumeIDs))
	wanted := map[string]bool{}
	for _, id := range volumeIDs {
		info, err := objectid.Decode(id)
		if err != nil {
			return nil, err
		}
		if !wanted[info.IDs.UID] {
			wanted[info.IDs.UID] = true
			requested = append(requested, info.IDs.UID)
		}
	}
	current := map[string]bool{}
	for _, v := range group.Volumes {
		current[v.ID] = true
	}

	fields := common.GetLogFields(ctx)
	for _, id := range requested {
		if current[id] {
			continue
		}
		log.WithFields(fields).Infof("adding volume %s to group %s", id, group.Name)
		if err := m.AddVolumeToVolumeGroup(ctx, group.ID, id); err != nil {
			return nil, err
		}
	}
	for _, v := range group.Volumes {
		if wanted[v.ID] {
			continue
		}
		log.WithFields(fields).Infof("removing volume %s from group %s", v.ID, group.Name)
		if err := m.RemoveVolumeFromVolumeGroup(ctx, group.ID, v.ID); err != nil {
			return nil, err
		}
	}
	return m.GetVolumeGroup(ctx, group.ID)
}

func toCSIGroup(arrayType, systemID string, group *array.VolumeGroup) *volumegroup.VolumeGroup {
	out := &volumegroup.VolumeGroup{
		VolumeGroupId: objectid.Encode(arrayType, systemID, objectid.IDs{UID: group.ID}),
		VolumeGroupContext: map[string]string{
			ContextVolumeGroupName: group.Name,
		},
	}
	for _, v := range group.Volumes {
		out.Volumes = append(out.Volumes, &csi.Volume{
			VolumeId:      objectid.Encode(arrayType, systemID, objectid.IDs{InternalID: v.InternalID, UID: v.ID}),
			CapacityBytes: v.CapacityBytes,
		})
	}
	return out
}
