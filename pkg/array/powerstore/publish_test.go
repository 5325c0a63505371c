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

package powerstore

import (
	"context"
	"net/http"
	"testing"

	"github.com/blockcsi/csi-block-driver/pkg/array"
	"github.com/dell/gopowerstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

func iscsiHosts() []gopowerstore.Host {
	return []gopowerstore.Host{
		{ID: "other", Name: "other", Initiators: []gopowerstore.InitiatorInstance{{PortName: "iqn.other", PortType: gopowerstore.InitiatorProtocolTypeEnumISCSI}}},
		{ID: validHostID, Name: "csi_node1", Initiators: []gopowerstore.InitiatorInstance{{PortName: validIQN, PortType: gopowerstore.InitiatorProtocolTypeEnumISCSI}}},
	}
}

func iscsiTargets() []gopowerstore.IPPoolAddress {
	return []gopowerstore.IPPoolAddress{
		{ID: "2", Address: "192.168.1.2", ApplianceID: validApplianceID, IPPort: gopowerstore.IPPortInstance{TargetIqn: "iqn.target"}},
		{ID: "1", Address: "192.168.1.1", ApplianceID: validApplianceID, IPPort: gopowerstore.IPPortInstance{TargetIqn: "iqn.target"}},
		{ID: "3", Address: "192.168.2.1", ApplianceID: "A2", IPPort: gopowerstore.IPPortInstance{TargetIqn: "iqn.elsewhere"}},
	}
}

func TestMapVolumeByInitiators(t *testing.T) {
	ctx := context.Background()
	initiators := array.Initiators{ISCSIIQNs: []string{validIQN}}

	t.Run("attach over iscsi", func(t *testing.T) {
		m, clientMock := newTestMediator()
		clientMock.On("GetHosts", ctx).Return(iscsiHosts(), nil)
		clientMock.On("GetVolume", ctx, validVolumeID).Return(gopowerstore.Volume{ID: validVolumeID, ApplianceID: validApplianceID}, nil)
		clientMock.On("GetStorageISCSITargetAddresses", ctx).Return(iscsiTargets(), nil)
		clientMock.On("GetHostVolumeMappingByVolumeID", ctx, validVolumeID).
			Return([]gopowerstore.HostVolumeMapping{}, nil).Once()
		clientMock.On("AttachVolumeToHost", ctx, validHostID, mock.AnythingOfType("*gopowerstore.HostVolumeAttach")).
			Return(gopowerstore.EmptyResponse(""), nil)
		clientMock.On("GetHostVolumeMappingByVolumeID", ctx, validVolumeID).
			Return([]gopowerstore.HostVolumeMapping{{HostID: validHostID, LogicalUnitNumber: 3}}, nil).Once()

		res, err := m.MapVolumeByInitiators(ctx, validVolumeID, initiators)
		assert.NoError(t, err)
		assert.Equal(t, 3, res.LUN)
		assert.Equal(t, array.ConnectivityISCSI, res.Connectivity)
		assert.Equal(t, map[string][]string{"iqn.target": {"192.168.1.1:3260", "192.168.1.2:3260"}}, res.ArrayInitiators)
	})

	t.Run("already mapped to the same host", func(t *testing.T) {
		m, clientMock := newTestMediator()
		clientMock.On("GetHosts", ctx).Return(iscsiHosts(), nil)
		clientMock.On("GetVolume", ctx, validVolumeID).Return(gopowerstore.Volume{ID: validVolumeID, ApplianceID: validApplianceID}, nil)
		clientMock.On("GetStorageISCSITargetAddresses", ctx).Return(iscsiTargets(), nil)
		clientMock.On("GetHostVolumeMappingByVolumeID", ctx, validVolumeID).
			Return([]gopowerstore.HostVolumeMapping{{HostID: validHostID, LogicalUnitNumber: 7}}, nil)

		res, err := m.MapVolumeByInitiators(ctx, validVolumeID, initiators)
		assert.NoError(t, err)
		assert.Equal(t, 7, res.LUN)
		clientMock.AssertNotCalled(t, "AttachVolumeToHost", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("mapped to another host", func(t *testing.T) {
		m, clientMock := newTestMediator()
		clientMock.On("GetHosts", ctx).Return(iscsiHosts(), nil)
		clientMock.On("GetVolume", ctx, validVolumeID).Return(gopowerstore.Volume{ID: validVolumeID, ApplianceID: validApplianceID}, nil)
		clientMock.On("GetStorageISCSITargetAddresses", ctx).Return(iscsiTargets(), nil)
		clientMock.On("GetHostVolumeMappingByVolumeID", ctx, validVolumeID).
			Return([]gopowerstore.HostVolumeMapping{{HostID: "other", LogicalUnitNumber: 1}}, nil)

		_, err := m.MapVolumeByInitiators(ctx, validVolumeID, initiators)
		assert.True(t, array.IsKind(err, array.VolumeAlreadyMappedToDifferentHosts))
	})

	t.Run("no iscsi targets", func(t *testing.T) {
		m, clientMock := newTestMediator()
		clientMock.On("GetHosts", ctx).Return(iscsiHosts(), nil)
		clientMock.On("GetVolume", ctx, validVolumeID).Return(gopowerstore.Volume{ID: validVolumeID, ApplianceID: validApplianceID}, nil)
		clientMock.On("GetStorageISCSITargetAddresses", ctx).Return([]gopowerstore.IPPoolAddress{}, nil)

		_, err := m.MapVolumeByInitiators(ctx, validVolumeID, initiators)
		assert.True(t, array.IsKind(err, array.NoIscsiTargetsFound))
	})

	t.Run("unknown host", func(t *testing.T) {
		m, clientMock := newTestMediator()
		clientMock.On("GetHosts", ctx).Return(iscsiHosts(), nil)

		_, err := m.MapVolumeByInitiators(ctx, validVolumeID, array.Initiators{ISCSIIQNs: []string{"iqn.nobody"}})
		assert.True(t, array.IsKind(err, array.HostNotFound))
	})

	t.Run("fc host matched regardless of wwn format", func(t *testing.T) {
		m, clientMock := newTestMediator()
		clientMock.On("GetHosts", ctx).Return([]gopowerstore.Host{{
			ID: validHostID, Initiators: []gopowerstore.InitiatorInstance{{PortName: "58ccf09348a003a3", PortType: gopowerstore.InitiatorProtocolTypeEnumFC}},
		}}, nil)
		clientMock.On("GetVolume", ctx, validVolumeID).Return(gopowerstore.Volume{ID: validVolumeID, ApplianceID: validApplianceID}, nil)
		clientMock.On("GetFCPorts", ctx).Return([]gopowerstore.FcPort{
			{Wwn: "58:cc:f0:93:48:20:03:a3", IsLinkUp: true, ApplianceID: validApplianceID},
			{Wwn: "58:cc:f0:93:48:30:03:a3", IsLinkUp: false, ApplianceID: validApplianceID},
		}, nil)
		clientMock.On("GetHostVolumeMappingByVolumeID", ctx, validVolumeID).
			Return([]gopowerstore.HostVolumeMapping{{HostID: validHostID, LogicalUnitNumber: 2}}, nil)

		res, err := m.MapVolumeByInitiators(ctx, validVolumeID, array.Initiators{FCWWNs: []string{validWWN}})
		assert.NoError(t, err)
		assert.Equal(t, array.ConnectivityFC, res.Connectivity)
		assert.Equal(t, []string{"58ccf093482003a3"}, res.ArrayInitiators[array.ConnectivityFC])
	})
}

func TestUnmapVolumeByInitiators(t *testing.T) {
	ctx := context.Background()
	initiators := array.Initiators{ISCSIIQNs: []string{validIQN}}

	t.Run("ok", func(t *testing.T) {
		m, clientMock := newTestMediator()
		clientMock.On("GetHosts", ctx).Return(iscsiHosts(), nil)
		clientMock.On("DetachVolumeFromHost", ctx, validHostID, mock.AnythingOfType("*gopowerstore.HostVolumeDetach")).
			Return(gopowerstore.EmptyResponse(""), nil)

		assert.NoError(t, m.UnmapVolumeByInitiators(ctx, validVolumeID, initiators))
	})

	t.Run("host removed meanwhile", func(t *testing.T) {
		m, clientMock := newTestMediator()
		clientMock.On("GetHosts", ctx).Return(iscsiHosts(), nil)
		clientMock.On("DetachVolumeFromHost", ctx, validHostID, mock.AnythingOfType("*gopowerstore.HostVolumeDetach")).
			Return(gopowerstore.EmptyResponse(""), apiError(http.StatusNotFound))

		err := m.UnmapVolumeByInitiators(ctx, validVolumeID, initiators)
		assert.True(t, array.IsKind(err, array.HostNotFound))
	})
}

func TestDefineHost(t *testing.T) {
	ctx := context.Background()
	req := array.HostDefineRequest{
		NodeName:   "node1",
		NodeID:     "node1;;;" + validIQN,
		Initiators: array.Initiators{ISCSIIQNs: []string{validIQN}},
	}

	t.Run("creates the host", func(t *testing.T) {
		m, clientMock := newTestMediator()
		clientMock.On("GetCluster", ctx).Return(gopowerstore.Cluster{Name: "ps1", ManagementAddress: "10.0.0.1"}, nil)
		clientMock.On("GetHostByName", ctx, "csi_node1").Return(gopowerstore.Host{}, apiError(http.StatusNotFound))
		clientMock.On("CreateHost", ctx, mock.AnythingOfType("*gopowerstore.HostCreate")).
			Return(gopowerstore.CreateResponse{ID: validHostID}, nil)

		resp, err := m.DefineHost(ctx, req)
		assert.NoError(t, err)
		assert.Equal(t, "csi_node1", resp.NodeNameOnStorage)
		assert.Equal(t, array.ConnectivityISCSI, resp.ConnectivityType)
		assert.Equal(t, []string{validIQN}, resp.Ports)
		assert.Equal(t, "10.0.0.1", resp.ManagementAddress)

		params := clientMock.Calls[2].Arguments.Get(1).(*gopowerstore.HostCreate)
		assert.Equal(t, "csi_node1", *params.Name)
		assert.Len(t, *params.Initiators, 1)
	})

	t.Run("existing host is reused", func(t *testing.T) {
		m, clientMock := newTestMediator()
		clientMock.On("GetCluster", ctx).Return(gopowerstore.Cluster{ManagementAddress: "10.0.0.1"}, nil)
		clientMock.On("GetHostByName", ctx, "csi_node1").Return(gopowerstore.Host{
			ID:         validHostID,
			Name:       "csi_node1",
			Initiators: []gopowerstore.InitiatorInstance{{PortName: validIQN, PortType: gopowerstore.InitiatorProtocolTypeEnumISCSI}},
		}, nil)

		_, err := m.DefineHost(ctx, req)
		assert.NoError(t, err)
		clientMock.AssertNotCalled(t, "CreateHost", mock.Anything, mock.Anything)
		clientMock.AssertNotCalled(t, "ModifyHost", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("existing host gets the node's current initiators", func(t *testing.T) {
		const oldIQN = "iqn.1994-05.com.redhat:old"
		m, clientMock := newTestMediator()
		clientMock.On("GetCluster", ctx).Return(gopowerstore.Cluster{ManagementAddress: "10.0.0.1"}, nil)
		clientMock.On("GetHostByName", ctx, "csi_node1").Return(gopowerstore.Host{
			ID:         validHostID,
			Name:       "csi_node1",
			Initiators: []gopowerstore.InitiatorInstance{{PortName: oldIQN, PortType: gopowerstore.InitiatorProtocolTypeEnumISCSI}},
		}, nil)
		removal := &gopowerstore.HostModify{RemoveInitiators: &[]string{oldIQN}}
		clientMock.On("ModifyHost", ctx, removal, validHostID).Return(gopowerstore.CreateResponse{ID: validHostID}, nil).Once()
		clientMock.On("ModifyHost", ctx, mock.MatchedBy(func(p *gopowerstore.HostModify) bool {
			return p.AddInitiators != nil && len(*p.AddInitiators) == 1 && *(*p.AddInitiators)[0].PortName == validIQN &&
				p.RemoveInitiators == nil
		}), validHostID).Return(gopowerstore.CreateResponse{ID: validHostID}, nil).Once()

		_, err := m.DefineHost(ctx, req)
		assert.NoError(t, err)
		clientMock.AssertExpectations(t)
		clientMock.AssertNotCalled(t, "CreateHost", mock.Anything, mock.Anything)
		assert.Equal(t, removal, clientMock.Calls[2].Arguments.Get(1))
	})

	t.Run("fc ports compare without separators", func(t *testing.T) {
		m, clientMock := newTestMediator()
		r := array.HostDefineRequest{
			NodeName:   "node1",
			Initiators: array.Initiators{FCWWNs: []string{validWWN}},
		}
		clientMock.On("GetCluster", ctx).Return(gopowerstore.Cluster{}, nil)
		clientMock.On("GetHostByName", ctx, "csi_node1").Return(gopowerstore.Host{
			ID:         validHostID,
			Initiators: []gopowerstore.InitiatorInstance{{PortName: "58:cc:f0:93:48:a0:03:a3", PortType: gopowerstore.InitiatorProtocolTypeEnumFC}},
		}, nil)

		_, err := m.DefineHost(ctx, r)
		assert.NoError(t, err)
		clientMock.AssertNotCalled(t, "ModifyHost", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("initiator update failure", func(t *testing.T) {
		m, clientMock := newTestMediator()
		clientMock.On("GetCluster", ctx).Return(gopowerstore.Cluster{}, nil)
		clientMock.On("GetHostByName", ctx, "csi_node1").Return(gopowerstore.Host{ID: validHostID}, nil)
		clientMock.On("ModifyHost", ctx, mock.Anything, validHostID).
			Return(gopowerstore.CreateResponse{}, apiError(http.StatusForbidden))

		_, err := m.DefineHost(ctx, req)
		assert.True(t, array.IsKind(err, array.PermissionDenied))
	})

	t.Run("requested protocol without ports", func(t *testing.T) {
		m, _ := newTestMediator()
		r := req
		r.ConnectivityType = array.ConnectivityFC
		_, err := m.DefineHost(ctx, r)
		assert.True(t, array.IsKind(err, array.UnsupportedConnectivityType))
	})
}

func TestUndefineHost(t *testing.T) {
	ctx := context.Background()
	req := array.HostDefineRequest{NodeName: "node1"}

	t.Run("deletes the host", func(t *testing.T) {
		m, clientMock := newTestMediator()
		clientMock.On("GetHostByName", ctx, "csi_node1").Return(gopowerstore.Host{ID: validHostID}, nil)
		clientMock.On("DeleteHost", ctx, mock.Anything, validHostID).Return(gopowerstore.EmptyResponse(""), nil)

		_, err := m.UndefineHost(ctx, req)
		assert.NoError(t, err)
		clientMock.AssertExpectations(t)
	})

	t.Run("already gone", func(t *testing.T) {
		m, clientMock := newTestMediator()
		clientMock.On("GetHostByName", ctx, "csi_node1").Return(gopowerstore.Host{}, apiError(http.StatusNotFound))

		_, err := m.UndefineHost(ctx, req)
		assert.NoError(t, err)
	})
}
