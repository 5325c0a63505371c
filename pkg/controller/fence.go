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
	"github.com/blockcsi/csi-block-driver/pkg/parameters"
	"github.com/blockcsi/csi-block-driver/pkg/secrets"
	"github.com/csi-addons/spec/lib/go/fence"
	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// FenceService implements the CSI-Addons network fence controller
type FenceService struct {
	fence.UnimplementedFenceControllerServer
	backend
}

// NewFenceService returns a fence service leasing mediators from registry
func NewFenceService(registry *array.Registry) *FenceService {
	return &FenceService{backend: backend{registry: registry}}
}

// FenceClusterNetwork moves the hosts of the fence group to the unfence group. A group
// that is already fenced is left alone.
func (s *FenceService) FenceClusterNetwork(ctx context.Context, req *fence.FenceClusterNetworkRequest) (*fence.FenceClusterNetworkResponse, error) {
	params := req.GetParameters()
	fenceToken := params[parameters.KeyFenceToken]
	if fenceToken == "" {
		return nil, status.Errorf(codes.InvalidArgument, "%s parameter is required", parameters.KeyFenceToken)
	}
	unfenceToken := params[parameters.KeyUnfenceToken]
	if unfenceToken == "" {
		return nil, status.Errorf(codes.InvalidArgument, "%s parameter is required", parameters.KeyUnfenceToken)
	}
	if len(req.GetSecrets()) == 0 {
		return nil, status.Error(codes.InvalidArgument, "secrets are required")
	}
	conn, err := secrets.Resolve(req.GetSecrets(), params[parameters.KeySystemID])
	if err != nil {
		return nil, toStatus(err)
	}
	ctx = common.SetLogFields(ctx, log.Fields{"FenceToken": fenceToken})

	err = s.withMediator(ctx, conn, "", func(m array.Mediator) error {
		fenced, err := m.IsFenced(ctx, fenceToken)
		if err != nil {
			return err
		}
		if fenced {
			log.WithFields(common.GetLogFields(ctx)).Info("already fenced")
			return nil
		}
		log.WithFields(common.GetLogFields(ctx)).Infof("fencing, hosts move to %s", unfenceToken)
		return m.Fence(ctx, fenceToken, unfenceToken)
	})
	if err != nil {
		return nil, err
	}
	return &fence.FenceClusterNetworkResponse{}, nil
}
