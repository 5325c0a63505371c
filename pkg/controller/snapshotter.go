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
	"github.com/container-storage-interface/spec/lib/go/csi"
	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/timestamppb"
)

// CreateSnapshot creates a snapshot of the source volume.
func (s *Service) CreateSnapshot(ctx context.Context, req *csi.CreateSnapshotRequest) (*csi.CreateSnapshotResponse, error) {
	name := req.GetName()
	if name == "" {
		return nil, status.Error(codes.InvalidArgument, "snapshot name cannot be empty")
	}
	info, err := decodeID(req.GetSourceVolumeId(), "source volume ID")
	if err != nil {
		return nil, toStatus(err)
	}
	conn, err := connection(req.GetSecrets(), info)
	if err != nil {
		return nil, err
	}
	params, err := parameters.ForSnapshot(req.GetParameters(), conn.SystemID)
	if err != nil {
		return nil, toStatus(err)
	}
	if params.VirtSnapFunc && params.SpaceEfficiency != "" {
		return nil, status.Error(codes.InvalidArgument, "space efficiency cannot be set together with virt_snap_func")
	}
	ctx = common.SetLogFields(ctx, log.Fields{"SnapshotName": name, "SourceVolumeID": req.GetSourceVolumeId()})

	var resp *csi.CreateSnapshotResponse
	err = s.withMediator(ctx, conn, info.ArrayType, func(m array.Mediator) error {
		finalName, err := naming.Shape(params.Prefix, name, m)
		if err != nil {
			return err
		}
		snap, found, err := m.GetSnapshot(ctx, info.IDs.UID, finalName, params.Pool, params.VirtSnapFunc)
		if err != nil {
			return err
		}
		if found {
			if snap.SourceID != info.IDs.UID {
				return array.Errorf(array.SnapshotAlreadyExists,
					"snapshot %s already exists for volume %s", finalName, snap.SourceID)
			}
			log.WithFields(common.GetLogFields(ctx)).Debugf("snapshot %s already exists", finalName)
		} else {
			log.WithFields(common.GetLogFields(ctx)).Infof("creating snapshot %s", finalName)
			snap, err = m.CreateSnapshot(ctx, array.CreateSnapshotRequest{
				VolumeID:        info.IDs.UID,
				Name:            finalName,
				SpaceEfficiency: params.SpaceEfficiency,
				Pool:            params.Pool,
				VirtSnapFunc:    params.VirtSnapFunc,
			})
			if err != nil {
				return err
			}
		}
		resp = &csi.CreateSnapshotResponse{
			Snapshot: &csi.Snapshot{
				SnapshotId:     objectid.Encode(m.Identifier(), conn.SystemID, objectid.IDs{InternalID: snap.InternalID, UID: snap.ID}),
				SourceVolumeId: req.GetSourceVolumeId(),
				SizeBytes:      snap.CapacityBytes,
				ReadyToUse:     snap.IsReady,
				CreationTime:   timestamppb.Now(),
			},
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// DeleteSnapshot deletes the snapshot; unknown or malformed ids are treated as already deleted.
func (s *Service) DeleteSnapshot(ctx context.Context, req *csi.DeleteSnapshotRequest) (*csi.DeleteSnapshotResponse, error) {
	id := req.GetSnapshotId()
	if id == "" {
		return nil, status.Error(codes.InvalidArgument, "snapshot ID is required")
	}
	ctx = common.SetLogFields(ctx, log.Fields{"ID": id})

	info, err := objectid.Decode(id)
	if err != nil {
		log.WithFields(common.GetLogFields(ctx)).Warnf("%s, assuming the snapshot is already deleted", err.Error())
		return &csi.DeleteSnapshotResponse{}, nil
	}
	conn, err := connection(req.GetSecrets(), info)
	if err != nil {
		return nil, err
	}

	err = s.withMediator(ctx, conn, info.ArrayType, func(m array.Mediator) error {
		err := m.DeleteSnapshot(ctx, info.IDs.UID, info.IDs.InternalID)
		if array.IsKind(err, array.ObjectNotFound) {
			log.WithFields(common.GetLogFields(ctx)).Info("snapshot not found, assuming it is already deleted")
			return nil
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return &csi.DeleteSnapshotResponse{}, nil
}
