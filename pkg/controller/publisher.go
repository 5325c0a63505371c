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
	"sort"
	"strconv"
	"strings"

	"github.com/blockcsi/csi-block-driver/pkg/array"
	"github.com/blockcsi/csi-block-driver/pkg/common"
	"github.com/blockcsi/csi-block-driver/pkg/config"
	"github.com/blockcsi/csi-block-driver/pkg/objectid"
	"github.com/container-storage-interface/spec/lib/go/csi"
	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// PublishContextSeparatorKey carries the separator used inside multi-valued publish context entries
const PublishContextSeparatorKey = "PUBLISH_CONTEXT_SEPARATOR"

var unpublishCodes = map[array.Kind]codes.Code{
	array.InvalidID:           codes.InvalidArgument,
	array.InvalidNodeID:       codes.InvalidArgument,
	array.NoIscsiTargetsFound: codes.InvalidArgument,
}

// ControllerPublishVolume maps the volume to the host ports encoded in the node id.
func (s *Service) ControllerPublishVolume(ctx context.Context, req *csi.ControllerPublishVolumeRequest) (*csi.ControllerPublishVolumeResponse, error) {
	info, err := decodeID(req.GetVolumeId(), "volume ID")
	if err != nil {
		return nil, toStatus(err)
	}
	if req.GetNodeId() == "" {
		return nil, status.Error(codes.InvalidArgument, "node ID is required")
	}
	if req.GetReadonly() {
		return nil, status.Error(codes.InvalidArgument, "readonly publish is not supported")
	}
	if err := validateCapability(req.GetVolumeCapability()); err != nil {
		return nil, err
	}
	node, err := objectid.ParseNodeID(req.GetNodeId())
	if err != nil {
		return nil, toStatus(err)
	}
	conn, err := connection(req.GetSecrets(), info)
	if err != nil {
		return nil, err
	}
	ctx = common.SetLogFields(ctx, log.Fields{"ID": req.GetVolumeId(), "NodeID": req.GetNodeId()})

	var result *array.MapResult
	err = s.withMediator(ctx, conn, info.ArrayType, func(m array.Mediator) error {
		var err error
		result, err = m.MapVolumeByInitiators(ctx, info.IDs.UID, node.Initiators())
		return err
	})
	if err != nil {
		return nil, err
	}
	log.WithFields(common.GetLogFields(ctx)).Infof("volume mapped with lun %d over %s", result.LUN, result.Connectivity)

	return &csi.ControllerPublishVolumeResponse{
		PublishContext: publishContext(s.config().Controller, result),
	}, nil
}

func publishContext(keys config.Controller, result *array.MapResult) map[string]string {
	sep := keys.PublishContextSeparator
	pc := map[string]string{
		keys.PublishContextLunParameter:          strconv.Itoa(result.LUN),
		keys.PublishContextConnectivityParameter: result.Connectivity,
		PublishContextSeparatorKey:               sep,
	}

	switch result.Connectivity {
	case array.ConnectivityISCSI:
		iqns := make([]string, 0, len(result.ArrayInitiators))
		for iqn := range result.ArrayInitiators {
			iqns = append(iqns, iqn)
		}
		sort.Strings(iqns)
		pc[keys.PublishContextArrayIQN] = strings.Join(iqns, sep)
		for _, iqn := range iqns {
			pc[iqn] = strings.Join(result.ArrayInitiators[iqn], sep)
		}
	case array.ConnectivityFC:
		var wwpns []string
		for _, ports := range result.ArrayInitiators {
			wwpns = append(wwpns, ports...)
		}
		sort.Strings(wwpns)
		pc[keys.PublishContextFCInitiators] = strings.Join(wwpns, sep)
	}
	return pc
}

// ControllerUnpublishVolume unmaps the volume from the host; a missing host or mapping is success.
func (s *Service) ControllerUnpublishVolume(ctx context.Context, req *csi.ControllerUnpublishVolumeRequest) (*csi.ControllerUnpublishVolumeResponse, error) {
	info, err := decodeID(req.GetVolumeId(), "volume ID")
	if err != nil {
		return nil, toStatus(err, unpublishCodes)
	}
	if req.GetNodeId() == "" {
		return nil, status.Error(codes.InvalidArgument, "node ID is required")
	}
	node, err := objectid.ParseNodeID(req.GetNodeId())
	if err != nil {
		return nil, toStatus(err, unpublishCodes)
	}
	conn, err := connection(req.GetSecrets(), info)
	if err != nil {
		return nil, err
	}
	ctx = common.SetLogFields(ctx, log.Fields{"ID": req.GetVolumeId(), "NodeID": req.GetNodeId()})

	err = s.withMediator(ctx, conn, info.ArrayType, func(m array.Mediator) error {
		err := m.UnmapVolumeByInitiators(ctx, info.IDs.UID, node.Initiators())
		if array.IsKind(err, array.HostNotFound, array.VolumeAlreadyUnmapped, array.ObjectNotFound) {
			log.WithFields(common.GetLogFields(ctx)).Infof("nothing to unmap: %s", err.Error())
			return nil
		}
		return err
	}, unpublishCodes)
	if err != nil {
		return nil, err
	}
	return &csi.ControllerUnpublishVolumeResponse{}, nil
}
