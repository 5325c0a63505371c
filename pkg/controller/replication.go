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
	"github.com/blockcsi/csi-block-driver/pkg/objectid"
	"github.com/blockcsi/csi-block-driver/pkg/parameters"
	"github.com/csi-addons/spec/lib/go/replication"
	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ReplicationService implements the CSI-Addons replication controller
type ReplicationService struct {
	replication.UnimplementedControllerServer
	backend
}

// NewReplicationService returns a replication service leasing mediators from registry
func NewReplicationService(registry *array.Registry) *ReplicationService {
	return &ReplicationService{backend: backend{registry: registry}}
}

// replicationTarget is a validated replication request.
type replicationTarget struct {
	local    objectid.Info
	isGroup  bool
	conn     array.ConnectionInfo
	request  array.ReplicationRequest
	logField log.Fields
}

func (t *replicationTarget) mirror() bool {
	return t.request.ReplicationType == array.ReplicationTypeMirror
}

// replicationSourceID picks the object a replication request is about: a group
// source wins over a volume source, which wins over the deprecated volume id.
func replicationSourceID(src *replication.ReplicationSource, volumeID string) (string, bool) {
	if id := src.GetVolumegroup().GetVolumeGroupId(); id != "" {
		return id, true
	}
	if id := src.GetVolume().GetVolumeId(); id != "" {
		return id, false
	}
	return volumeID, false
}

func (s *ReplicationService) target(src *replication.ReplicationSource, volumeID, replicationID string,
	params, secretData map[string]string,
) (*replicationTarget, error) {
	id, isGroup := replicationSourceID(src, volumeID)
	if id == "" {
		return nil, status.Error(codes.InvalidArgument, "volume ID is required")
	}
	local, err := objectid.Decode(id)
	if err != nil {
		return nil, toStatus(err)
	}

	replicationType := strings.ToLower(params[parameters.KeyReplicationType])
	if replicationType == "" {
		replicationType = array.ReplicationTypeMirror
	}
	req := array.ReplicationRequest{ReplicationType: replicationType}

	switch replicationType {
	case array.ReplicationTypeMirror:
		if replicationID == "" {
			return nil, status.Error(codes.InvalidArgument, "replication ID is required for mirror replication")
		}
		if isGroup {
			return nil, status.Error(codes.InvalidArgument, "mirror replication of a volume group is not supported")
		}
		other, err := objectid.Decode(replicationID)
		if err != nil {
			return nil, status.Errorf(codes.InvalidArgument, "bad replication ID: %s", err.Error())
		}
		req.OtherVolumeInternalID = other.IDs.InternalID
		if req.OtherVolumeInternalID == "" {
			req.OtherVolumeInternalID = other.IDs.UID
		}
		req.OtherSystemID = params[parameters.KeySystemID]
		req.CopyType = strings.ToLower(params[parameters.KeyCopyType])
		if req.CopyType == "" {
			req.CopyType = array.CopyTypeSync
		}
		if req.CopyType != array.CopyTypeSync && req.CopyType != array.CopyTypeAsync {
			return nil, status.Errorf(codes.InvalidArgument, "copy type %q must be one of sync, async",
				params[parameters.KeyCopyType])
		}
	case array.ReplicationTypeEAR:
		if replicationID != "" {
			return nil, status.Error(codes.InvalidArgument, "replication ID is not allowed for policy based replication")
		}
		if _, ok := params[parameters.KeySystemID]; ok {
			return nil, status.Errorf(codes.InvalidArgument, "%s parameter is not allowed for policy based replication",
				parameters.KeySystemID)
		}
		req.ReplicationPolicy = params[parameters.KeyReplicationPolicy]
	default:
		return nil, status.Errorf(codes.InvalidArgument, "unknown replication type %q", replicationType)
	}

	if isGroup {
		req.VolumeGroupID = local.IDs.UID
	} else {
		req.VolumeInternalID = local.IDs.InternalID
		if req.VolumeInternalID == "" {
			req.VolumeInternalID = local.IDs.UID
		}
	}

	conn, err := connection(secretData, local)
	if err != nil {
		return nil, err
	}
	return &replicationTarget{
		local:    local,
		isGroup:  isGroup,
		conn:     conn,
		request:  req,
		logField: log.Fields{"ID": id, "ReplicationType": replicationType},
	}, nil
}

// EnableVolumeReplication creates the replication unless an identical one exists.
func (s *ReplicationService) EnableVolumeReplication(ctx context.Context, req *replication.EnableVolumeReplicationRequest) (*replication.EnableVolumeReplicationResponse, error) {
	t, err := s.target(req.GetReplicationSource(), req.GetVolumeId(), req.GetReplicationId(), req.GetParameters(), req.GetSecrets())
	if err != nil {
		return nil, err
	}
	ctx = common.SetLogFields(ctx, t.logField)

	err = s.withMediator(ctx, t.conn, t.local.ArrayType, func(m array.Mediator) error {
		if t.mirror() {
			volume, err := m.GetVolumeByID(ctx, t.local.IDs.UID)
			if err != nil {
				return err
			}
			if volume.VolumeGroupID != "" {
				return status.Errorf(codes.FailedPrecondition, "volume %s belongs to volume group %s",
					volume.Name, volume.VolumeGroupID)
			}
		}
		existing, found, err := m.GetReplication(ctx, t.request)
		if err != nil {
			return err
		}
		if found {
			if t.mirror() && !strings.EqualFold(existing.CopyType, t.request.CopyType) {
				return status.Errorf(codes.FailedPrecondition, "replication %s already exists with copy type %s",
					existing.Name, existing.CopyType)
			}
			if !t.mirror() && existing.ReplicationPolicy != t.request.ReplicationPolicy {
				return status.Errorf(codes.FailedPrecondition, "replication %s already exists with policy %s",
					existing.Name, existing.ReplicationPolicy)
			}
			log.WithFields(common.GetLogFields(ctx)).Infof("replication %s already exists", existing.Name)
			return nil
		}
		log.WithFields(common.GetLogFields(ctx)).Info("creating replication")
		return m.CreateReplication(ctx, t.request)
	})
	if err != nil {
		return nil, err
	}
	return &replication.EnableVolumeReplicationResponse{}, nil
}

// DisableVolumeReplication deletes the replication; a missing one is not an error.
func (s *ReplicationService) DisableVolumeReplication(ctx context.Context, req *replication.DisableVolumeReplicationRequest) (*replication.DisableVolumeReplicationResponse, error) {
	t, err := s.target(req.GetReplicationSource(), req.GetVolumeId(), req.GetReplicationId(), req.GetParameters(), req.GetSecrets())
	if err != nil {
		return nil, err
	}
	ctx = common.SetLogFields(ctx, t.logField)

	err = s.withMediator(ctx, t.conn, t.local.ArrayType, func(m array.Mediator) error {
		existing, found, err := m.GetReplication(ctx, t.request)
		if err != nil {
			return err
		}
		if !found {
			log.WithFields(common.GetLogFields(ctx)).Info("replication not found, assuming it is already disabled")
			return nil
		}
		return m.DeleteReplication(ctx, existing)
	})
	if err != nil {
		return nil, err
	}
	return &replication.DisableVolumeReplicationResponse{}, nil
}

// PromoteVolume makes the local copy primary.
func (s *ReplicationService) PromoteVolume(ctx context.Context, req *replication.PromoteVolumeRequest) (*replication.PromoteVolumeResponse, error) {
	t, err := s.target(req.GetReplicationSource(), req.GetVolumeId(), req.GetReplicationId(), req.GetParameters(), req.GetSecrets())
	if err != nil {
		return nil, err
	}
	ctx = common.SetLogFields(ctx, t.logField)

	err = s.withReplication(ctx, t, func(m array.Mediator, r *array.Replication) error {
		if r.IsPrimary != nil && *r.IsPrimary {
			log.WithFields(common.GetLogFields(ctx)).Infof("replication %s is already primary", r.Name)
			return nil
		}
		return m.PromoteReplicationVolume(ctx, r)
	})
	if err != nil {
		return nil, err
	}
	return &replication.PromoteVolumeResponse{}, nil
}

// DemoteVolume makes the local copy secondary. An unknown role counts as secondary.
func (s *ReplicationService) DemoteVolume(ctx context.Context, req *replication.DemoteVolumeRequest) (*replication.DemoteVolumeResponse, error) {
	t, err := s.target(req.GetReplicationSource(), req.GetVolumeId(), req.GetReplicationId(), req.GetParameters(), req.GetSecrets())
	if err != nil {
		return nil, err
	}
	ctx = common.SetLogFields(ctx, t.logField)

	err = s.withReplication(ctx, t, func(m array.Mediator, r *array.Replication) error {
		if r.IsPrimary == nil || !*r.IsPrimary {
			log.WithFields(common.GetLogFields(ctx)).Infof("replication %s is already secondary", r.Name)
			return nil
		}
		return m.DemoteReplicationVolume(ctx, r)
	})
	if err != nil {
		return nil, err
	}
	return &replication.DemoteVolumeResponse{}, nil
}

// ResyncVolume reports whether the replication is in sync.
func (s *ReplicationService) ResyncVolume(ctx context.Context, req *replication.ResyncVolumeRequest) (*replication.ResyncVolumeResponse, error) {
	t, err := s.target(req.GetReplicationSource(), req.GetVolumeId(), req.GetReplicationId(), req.GetParameters(), req.GetSecrets())
	if err != nil {
		return nil, err
	}
	ctx = common.SetLogFields(ctx, t.logField)

	ready := false
	err = s.withReplication(ctx, t, func(_ array.Mediator, r *array.Replication) error {
		ready = r.IsReady
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &replication.ResyncVolumeResponse{Ready: ready}, nil
}

// withReplication runs fn on the existing replication, failing when there is none.
func (s *ReplicationService) withReplication(ctx context.Context, t *replicationTarget,
	fn func(array.Mediator, *array.Replication) error,
) error {
	return s.withMediator(ctx, t.conn, t.local.ArrayType, func(m array.Mediator) error {
		r, found, err := m.GetReplication(ctx, t.request)
		if err != nil {
			return err
		}
		if !found {
			return status.Errorf(codes.FailedPrecondition, "could not find replication for %s", t.local.String())
		}
		return fn(m, r)
	})
}
