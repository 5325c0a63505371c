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
	"errors"
	"net/http"
	"testing"

	"github.com/blockcsi/csi-block-driver/pkg/array"
	"github.com/dell/gopowerstore"
	"github.com/dell/gopowerstore/api"
	gopowerstoremock "github.com/dell/gopowerstore/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

const (
	validVolumeID    = "39bb1b5f-5624-490d-9ece-18f7b28a904e"
	validSnapshotID  = "9f840c56-96e6-4de9-b5a3-27e7c20eaa77"
	validHostID      = "host-id"
	validApplianceID = "A1"
	validIQN         = "iqn.1994-05.com.redhat:node1"
	validWWN         = "58:CC:F0:93:48:A0:03:A3"
)

func apiError(code int) gopowerstore.APIError {
	return gopowerstore.APIError{ErrorMsg: &api.ErrorMsg{StatusCode: code}}
}

func newTestMediator() (*Mediator, *gopowerstoremock.Client) {
	clientMock := new(gopowerstoremock.Client)
	return NewWithClient(clientMock), clientMock
}

func TestEndpoint(t *testing.T) {
	assert.Equal(t, "https://10.0.0.1/api/rest", endpoint("10.0.0.1"))
	assert.Equal(t, "https://array:8443/api/rest", endpoint("https://array:8443/api/rest"))
}

func TestTranslate(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want array.Kind
	}{
		{"not found", apiError(http.StatusNotFound), array.ObjectNotFound},
		{"unauthorized", apiError(http.StatusUnauthorized), array.CredentialsError},
		{"forbidden", apiError(http.StatusForbidden), array.PermissionDenied},
		{"plain error", errors.New("boom"), array.KindUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := translate(tt.err, array.KindUnknown, "op")
			assert.Equal(t, tt.want, array.KindOf(err))
		})
	}
}

func TestGetVolume(t *testing.T) {
	ctx := context.Background()

	t.Run("found", func(t *testing.T) {
		m, clientMock := newTestMediator()
		clientMock.On("GetVolumeByName", ctx, "csi_pvc1").
			Return(gopowerstore.Volume{ID: validVolumeID, Name: "csi_pvc1", Size: 1 << 30, ApplianceID: validApplianceID}, nil)

		v, found, err := m.GetVolume(ctx, "csi_pvc1", validApplianceID, false)
		assert.NoError(t, err)
		assert.True(t, found)
		assert.Equal(t, validVolumeID, v.ID)
		assert.Equal(t, validApplianceID, v.Pool)
		assert.Equal(t, int64(1<<30), v.CapacityBytes)
		assert.Equal(t, ArrayType, v.ArrayType)
	})

	t.Run("absent", func(t *testing.T) {
		m, clientMock := newTestMediator()
		clientMock.On("GetVolumeByName", ctx, "csi_pvc1").
			Return(gopowerstore.Volume{}, apiError(http.StatusNotFound))

		v, found, err := m.GetVolume(ctx, "csi_pvc1", validApplianceID, false)
		assert.NoError(t, err)
		assert.False(t, found)
		assert.Nil(t, v)
	})

	t.Run("lookup failure is not absence", func(t *testing.T) {
		m, clientMock := newTestMediator()
		clientMock.On("GetVolumeByName", ctx, "csi_pvc1").
			Return(gopowerstore.Volume{}, errors.New("connection reset"))

		_, found, err := m.GetVolume(ctx, "csi_pvc1", validApplianceID, false)
		assert.Error(t, err)
		assert.False(t, found)
	})

	t.Run("virt snap func", func(t *testing.T) {
		m, _ := newTestMediator()
		_, _, err := m.GetVolume(ctx, "csi_pvc1", "", true)
		assert.True(t, array.IsKind(err, array.VirtSnapshotNotSupported))
	})
}

func TestCreateVolume(t *testing.T) {
	ctx := context.Background()

	t.Run("new volume", func(t *testing.T) {
		m, clientMock := newTestMediator()
		clientMock.On("CreateVolume", ctx, mock.AnythingOfType("*gopowerstore.VolumeCreate")).
			Return(gopowerstore.CreateResponse{ID: validVolumeID}, nil)
		clientMock.On("GetVolume", ctx, validVolumeID).
			Return(gopowerstore.Volume{ID: validVolumeID, Name: "csi_pvc1", Size: 1 << 30, ApplianceID: validApplianceID}, nil)

		v, err := m.CreateVolume(ctx, array.CreateVolumeRequest{
			Name: "csi_pvc1", RequiredBytes: 1 << 30, Pool: validApplianceID, SpaceEfficiency: "Thin",
		})
		assert.NoError(t, err)
		assert.Equal(t, validVolumeID, v.ID)

		params := clientMock.Calls[0].Arguments.Get(1).(*gopowerstore.VolumeCreate)
		assert.Equal(t, "csi_pvc1", *params.Name)
		assert.Equal(t, int64(1<<30), *params.Size)
		assert.Equal(t, validApplianceID, params.ApplianceID)
	})

	t.Run("from snapshot", func(t *testing.T) {
		m, clientMock := newTestMediator()
		clientMock.On("CreateVolumeFromSnapshot", ctx, mock.AnythingOfType("*gopowerstore.VolumeClone"), validSnapshotID).
			Return(gopowerstore.CreateResponse{ID: validVolumeID}, nil)
		clientMock.On("GetVolume", ctx, validVolumeID).
			Return(gopowerstore.Volume{ID: validVolumeID, ProtectionData: gopowerstore.ProtectionData{SourceID: validSnapshotID}}, nil)

		v, err := m.CreateVolume(ctx, array.CreateVolumeRequest{
			Name: "csi_pvc1", SourceID: validSnapshotID, SourceType: array.SnapshotType,
		})
		assert.NoError(t, err)
		assert.Equal(t, validSnapshotID, v.SourceID)
		clientMock.AssertNotCalled(t, "CloneVolume", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("clone", func(t *testing.T) {
		m, clientMock := newTestMediator()
		clientMock.On("CloneVolume", ctx, mock.AnythingOfType("*gopowerstore.VolumeClone"), "src").
			Return(gopowerstore.CreateResponse{ID: validVolumeID}, nil)
		clientMock.On("GetVolume", ctx, validVolumeID).Return(gopowerstore.Volume{ID: validVolumeID}, nil)

		_, err := m.CreateVolume(ctx, array.CreateVolumeRequest{Name: "csi_pvc1", SourceID: "src", SourceType: array.VolumeType})
		assert.NoError(t, err)
	})

	t.Run("thick is rejected", func(t *testing.T) {
		m, clientMock := newTestMediator()
		_, err := m.CreateVolume(ctx, array.CreateVolumeRequest{Name: "csi_pvc1", SpaceEfficiency: "thick"})
		assert.True(t, array.IsKind(err, array.SpaceEfficiencyMismatch))
		clientMock.AssertNotCalled(t, "CreateVolume", mock.Anything, mock.Anything)
	})
}

func TestCopyToExistingVolumeFromSource(t *testing.T) {
	ctx := context.Background()

	t.Run("grows a smaller clone", func(t *testing.T) {
		m, clientMock := newTestMediator()
		clientMock.On("ModifyVolume", ctx, &gopowerstore.VolumeModify{Size: 2 << 30}, validVolumeID).
			Return(gopowerstore.EmptyResponse(""), nil)

		err := m.CopyToExistingVolumeFromSource(ctx,
			&array.Volume{ID: validVolumeID, CapacityBytes: 1 << 30, SourceID: validSnapshotID},
			validSnapshotID, array.SnapshotType, 2<<30)
		assert.NoError(t, err)
		clientMock.AssertExpectations(t)
	})

	t.Run("foreign source", func(t *testing.T) {
		m, _ := newTestMediator()
		err := m.CopyToExistingVolumeFromSource(ctx,
			&array.Volume{ID: validVolumeID, CapacityBytes: 1 << 30}, validSnapshotID, array.SnapshotType, 1<<30)
		assert.True(t, array.IsKind(err, array.NotImplemented))
	})
}

func TestDeleteVolume(t *testing.T) {
	ctx := context.Background()

	t.Run("ok", func(t *testing.T) {
		m, clientMock := newTestMediator()
		clientMock.On("GetSnapshotsByVolumeID", ctx, validVolumeID).Return([]gopowerstore.Volume{}, nil)
		clientMock.On("DeleteVolume", ctx, mock.Anything, validVolumeID).Return(gopowerstore.EmptyResponse(""), nil)

		assert.NoError(t, m.DeleteVolume(ctx, validVolumeID))
	})

	t.Run("has snapshots", func(t *testing.T) {
		m, clientMock := newTestMediator()
		clientMock.On("GetSnapshotsByVolumeID", ctx, validVolumeID).
			Return([]gopowerstore.Volume{{ID: validSnapshotID}}, nil)

		err := m.DeleteVolume(ctx, validVolumeID)
		assert.True(t, array.IsKind(err, array.ObjectIsStillInUse))
		clientMock.AssertNotCalled(t, "DeleteVolume", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("gone", func(t *testing.T) {
		m, clientMock := newTestMediator()
		clientMock.On("GetSnapshotsByVolumeID", ctx, validVolumeID).Return([]gopowerstore.Volume{}, nil)
		clientMock.On("DeleteVolume", ctx, mock.Anything, validVolumeID).
			Return(gopowerstore.EmptyResponse(""), apiError(http.StatusNotFound))

		assert.True(t, array.IsKind(m.DeleteVolume(ctx, validVolumeID), array.ObjectNotFound))
	})
}

func TestSnapshots(t *testing.T) {
	ctx := context.Background()

	t.Run("get by name", func(t *testing.T) {
		m, clientMock := newTestMediator()
		clientMock.On("GetVolumeByName", ctx, "snap1").Return(gopowerstore.Volume{
			ID: validSnapshotID, Name: "snap1", State: "Ready",
			ProtectionData: gopowerstore.ProtectionData{SourceID: validVolumeID},
		}, nil)

		s, found, err := m.GetSnapshot(ctx, validVolumeID, "snap1", "", false)
		assert.NoError(t, err)
		assert.True(t, found)
		assert.True(t, s.IsReady)
		assert.Equal(t, validVolumeID, s.SourceID)
	})

	t.Run("name belongs to a volume", func(t *testing.T) {
		m, clientMock := newTestMediator()
		clientMock.On("GetVolumeByName", ctx, "snap1").Return(gopowerstore.Volume{ID: validVolumeID, Name: "snap1"}, nil)

		_, _, err := m.GetSnapshot(ctx, validVolumeID, "snap1", "", false)
		assert.True(t, array.IsKind(err, array.ExpectedSnapshotButFoundVolume))
	})

	t.Run("create", func(t *testing.T) {
		m, clientMock := newTestMediator()
		clientMock.On("CreateSnapshot", ctx, mock.AnythingOfType("*gopowerstore.SnapshotCreate"), validVolumeID).
			Return(gopowerstore.CreateResponse{ID: validSnapshotID}, nil)
		clientMock.On("GetSnapshot", ctx, validSnapshotID).Return(gopowerstore.Volume{
			ID: validSnapshotID, ProtectionData: gopowerstore.ProtectionData{SourceID: validVolumeID},
		}, nil)

		s, err := m.CreateSnapshot(ctx, array.CreateSnapshotRequest{VolumeID: validVolumeID, Name: "snap1"})
		assert.NoError(t, err)
		assert.Equal(t, validSnapshotID, s.ID)
	})

	t.Run("delete", func(t *testing.T) {
		m, clientMock := newTestMediator()
		clientMock.On("DeleteSnapshot", ctx, mock.Anything, validSnapshotID).Return(gopowerstore.EmptyResponse(""), nil)
		assert.NoError(t, m.DeleteSnapshot(ctx, validSnapshotID, ""))
	})
}

func TestVolumeGroups(t *testing.T) {
	ctx := context.Background()

	t.Run("create", func(t *testing.T) {
		m, clientMock := newTestMediator()
		clientMock.On("CreateVolumeGroup", ctx, &gopowerstore.VolumeGroupCreate{Name: "vg1"}).
			Return(gopowerstore.CreateResponse{ID: "vg-id"}, nil)
		clientMock.On("GetVolumeGroup", ctx, "vg-id").Return(gopowerstore.VolumeGroup{ID: "vg-id", Name: "vg1"}, nil)

		vg, err := m.CreateVolumeGroup(ctx, "vg1")
		assert.NoError(t, err)
		assert.Equal(t, "vg-id", vg.ID)
		assert.Empty(t, vg.Volumes)
	})

	t.Run("get by name absent", func(t *testing.T) {
		m, clientMock := newTestMediator()
		clientMock.On("GetVolumeGroupByName", ctx, "vg1").
			Return(gopowerstore.VolumeGroup{}, apiError(http.StatusNotFound))

		_, found, err := m.GetVolumeGroupByName(ctx, "vg1")
		assert.NoError(t, err)
		assert.False(t, found)
	})

	t.Run("members", func(t *testing.T) {
		m, clientMock := newTestMediator()
		members := &gopowerstore.VolumeGroupMembers{VolumeIDs: []string{validVolumeID}}
		clientMock.On("AddMembersToVolumeGroup", ctx, members, "vg-id").Return(gopowerstore.EmptyResponse(""), nil)
		clientMock.On("RemoveMembersFromVolumeGroup", ctx, members, "vg-id").Return(gopowerstore.EmptyResponse(""), nil)

		assert.NoError(t, m.AddVolumeToVolumeGroup(ctx, "vg-id", validVolumeID))
		assert.NoError(t, m.RemoveVolumeFromVolumeGroup(ctx, "vg-id", validVolumeID))
		clientMock.AssertExpectations(t)
	})
}

func TestUnsupportedOperations(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestMediator()

	_, err := m.IsFenced(ctx, "group")
	assert.True(t, array.IsKind(err, array.NotImplemented))
	assert.True(t, array.IsKind(m.Fence(ctx, "a", "b"), array.NotImplemented))
	assert.NoError(t, m.Disconnect())
}
