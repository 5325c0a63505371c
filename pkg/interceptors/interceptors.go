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

// Package interceptors contains custom unary gRPC interceptors.
package interceptors

import (
	"context"
	"fmt"
	"time"

	"github.com/blockcsi/csi-block-driver/pkg/common"
	"github.com/blockcsi/csi-block-driver/pkg/gate"
	"github.com/blockcsi/csi-block-driver/pkg/metrics"
	"github.com/blockcsi/csi-block-driver/pkg/parameters"
	"github.com/container-storage-interface/spec/lib/go/csi"
	"github.com/csi-addons/spec/lib/go/fence"
	"github.com/csi-addons/spec/lib/go/replication"
	"github.com/csi-addons/spec/lib/go/volumegroup"
	csictx "github.com/dell/gocsi/context"
	"github.com/google/uuid"
	"github.com/kubernetes-csi/csi-lib-utils/protosanitizer"
	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

type rewriteRequestIDInterceptor struct{}

func (r *rewriteRequestIDInterceptor) handleServer(ctx context.Context, req interface{},
	_ *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
	id := ""
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if ids := md[csictx.RequestIDKey]; len(ids) > 0 {
			id = ids[0]
		}
	}
	if id == "" {
		id = uuid.New().String()
	}
	ctx = context.WithValue(ctx, csictx.RequestIDKey, fmt.Sprintf("%s-%s", csictx.RequestIDKey, id))

	return handler(ctx, req)
}

// NewRewriteRequestIDInterceptor creates new unary interceptor that rewrites request IDs,
// generating one when the caller sent none
func NewRewriteRequestIDInterceptor() grpc.UnaryServerInterceptor {
	interceptor := &rewriteRequestIDInterceptor{}
	return interceptor.handleServer
}

type objectLock struct {
	gate    *gate.Registry
	metrics *metrics.Metrics
}

// NewObjectLock creates new unary interceptor that rejects a request while another request on
// the same object is in flight
func NewObjectLock(g *gate.Registry, m *metrics.Metrics) grpc.UnaryServerInterceptor {
	i := &objectLock{gate: g, metrics: m}
	return i.handleServer
}

func (i *objectLock) handleServer(ctx context.Context, req interface{},
	_ *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
	category, object := LockKey(req)
	if category == "" || object == "" {
		return handler(ctx, req)
	}

	release, err := i.gate.Enter(category, object)
	if err != nil {
		i.metrics.GateRejected(category)
		log.WithFields(common.GetLogFields(ctx)).Warn(err.Error())
		return nil, status.Error(codes.Aborted, err.Error())
	}
	defer release()

	return handler(ctx, req)
}

// LockKey returns the gate category and object key for req; empty strings mean the request
// is not serialized.
func LockKey(req interface{}) (string, string) {
	switch r := req.(type) {
	case *csi.CreateVolumeRequest:
		return gate.CategoryName, r.GetName()
	case *csi.DeleteVolumeRequest:
		return gate.CategoryVolumeID, r.GetVolumeId()
	case *csi.ControllerPublishVolumeRequest:
		return gate.CategoryVolumeID, r.GetVolumeId()
	case *csi.ControllerUnpublishVolumeRequest:
		return gate.CategoryVolumeID, r.GetVolumeId()
	case *csi.ControllerExpandVolumeRequest:
		return gate.CategoryVolumeID, r.GetVolumeId()
	case *csi.CreateSnapshotRequest:
		return gate.CategoryName, r.GetName()
	case *csi.DeleteSnapshotRequest:
		return gate.CategorySnapshotID, r.GetSnapshotId()

	case *volumegroup.CreateVolumeGroupRequest:
		return gate.CategoryName, r.GetName()
	case *volumegroup.DeleteVolumeGroupRequest:
		return gate.CategoryVolumeGroupID, r.GetVolumeGroupId()
	case *volumegroup.ModifyVolumeGroupMembershipRequest:
		return gate.CategoryVolumeGroupID, r.GetVolumeGroupId()

	case *replication.EnableVolumeReplicationRequest:
		return replicationKey(r.GetReplicationSource(), r.GetVolumeId())
	case *replication.DisableVolumeReplicationRequest:
		return replicationKey(r.GetReplicationSource(), r.GetVolumeId())
	case *replication.PromoteVolumeRequest:
		return replicationKey(r.GetReplicationSource(), r.GetVolumeId())
	case *replication.DemoteVolumeRequest:
		return replicationKey(r.GetReplicationSource(), r.GetVolumeId())
	case *replication.ResyncVolumeRequest:
		return replicationKey(r.GetReplicationSource(), r.GetVolumeId())

	case *fence.FenceClusterNetworkRequest:
		return gate.CategoryFenceToken, r.GetParameters()[parameters.KeyFenceToken]
	}
	return "", ""
}

func replicationKey(src *replication.ReplicationSource, volumeID string) (string, string) {
	if id := src.GetVolumegroup().GetVolumeGroupId(); id != "" {
		return gate.CategoryVolumeGroupID, id
	}
	if id := src.GetVolume().GetVolumeId(); id != "" {
		return gate.CategoryVolumeID, id
	}
	return gate.CategoryVolumeID, volumeID
}

// NewLoggingInterceptor logs every call with secrets stripped from the request
func NewLoggingInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		method := ""
		if info != nil {
			method = info.FullMethod
		}
		fields := common.GetLogFields(ctx)
		fields["method"] = method
		log.WithFields(fields).Debugf("request: %s", protosanitizer.StripSecrets(req))

		resp, err := handler(ctx, req)
		if err != nil {
			log.WithFields(fields).Errorf("response error: %s", err.Error())
		} else {
			log.WithFields(fields).Debugf("response: %s", protosanitizer.StripSecrets(resp))
		}
		return resp, err
	}
}

// NewMetricsInterceptor records the duration and status code of every call
func NewMetricsInterceptor(m *metrics.Metrics) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		method := ""
		if info != nil {
			method = info.FullMethod
		}
		m.ObserveRPC(method, status.Code(err).String(), time.Since(start))
		return resp, err
	}
}
