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
	"github.com/csi-addons/spec/lib/go/replication"
	ginkgo "github.com/onsi/ginkgo"
	gomega "github.com/onsi/gomega"
	"github.com/stretchr/testify/mock"
	"google.golang.org/grpc/codes"
)

const (
	validReplicationID = validArrayType + ":7;remote-uid"
	validRemoteSystem  = "remote-sys"
)

var mirrorRequest = array.ReplicationRequest{
	VolumeInternalID:      validVolumeUID,
	OtherVolumeInternalID: "7",
	OtherSystemID:         validRemoteSystem,
	CopyType:              array.CopyTypeAsync,
	ReplicationType:       array.ReplicationTypeMirror,
}

var earRequest = array.ReplicationRequest{
	VolumeGroupID:     validGroupUID,
	ReplicationType:   array.ReplicationTypeEAR,
	ReplicationPolicy: "pol1",
}

func mirrorParams() map[string]string {
	return map[string]string{"system_id": validRemoteSystem, "copy_type": "ASYNC"}
}

func groupSource() *replication.ReplicationSource {
	return &replication.ReplicationSource{
		Type: &replication.ReplicationSource_Volumegroup{
			Volumegroup: &replication.ReplicationSource_VolumeGroupSource{VolumeGroupId: validGroupID},
		},
	}
}

func boolPtr(b bool) *bool {
	return &b
}

var _ = ginkgo.Describe("ReplicationService", func() {
	var replSvc *ReplicationService

	ginkgo.BeforeEach(func() {
		setVariables()
		replSvc = NewReplicationService(registry)
	})

	ginkgo.AfterEach(func() {
		mediatorMock.AssertExpectations(ginkgo.GinkgoT())
	})

	ginkgo.Describe("calling EnableVolumeReplication()", func() {
		ginkgo.It("should create a mirror replication", func() {
			mediatorMock.On("GetVolumeByID", mock.Anything, validVolumeUID).Return(validVolume(validVolumeName), nil).Once()
			mediatorMock.On("GetReplication", mock.Anything, mirrorRequest).Return(nil, false, nil).Once()
			mediatorMock.On("CreateReplication", mock.Anything, mirrorRequest).Return(nil).Once()

			_, err := replSvc.EnableVolumeReplication(context.Background(), &replication.EnableVolumeReplicationRequest{
				VolumeId:      validVolumeID,
				ReplicationId: validReplicationID,
				Parameters:    mirrorParams(),
				Secrets:       flatSecret,
			})
			gomega.Expect(err).To(gomega.BeNil())
		})

		ginkgo.It("should accept an identical existing replication", func() {
			mediatorMock.On("GetVolumeByID", mock.Anything, validVolumeUID).Return(validVolume(validVolumeName), nil).Once()
			mediatorMock.On("GetReplication", mock.Anything, mirrorRequest).
				Return(&array.Replication{Name: "r1", CopyType: array.CopyTypeAsync}, true, nil).Once()

			_, err := replSvc.EnableVolumeReplication(context.Background(), &replication.EnableVolumeReplicationRequest{
				VolumeId:      validVolumeID,
				ReplicationId: validReplicationID,
				Parameters:    mirrorParams(),
				Secrets:       flatSecret,
			})
			gomega.Expect(err).To(gomega.BeNil())
		})

		ginkgo.It("should fail when the copy type differs", func() {
			mediatorMock.On("GetVolumeByID", mock.Anything, validVolumeUID).Return(validVolume(validVolumeName), nil).Once()
			mediatorMock.On("GetReplication", mock.Anything, mirrorRequest).
				Return(&array.Replication{Name: "r1", CopyType: array.CopyTypeSync}, true, nil).Once()

			_, err := replSvc.EnableVolumeReplication(context.Background(), &replication.EnableVolumeReplicationRequest{
				VolumeId:      validVolumeID,
				ReplicationId: validReplicationID,
				Parameters:    mirrorParams(),
				Secrets:       flatSecret,
			})
			expectCode(err, codes.FailedPrecondition)
		})

		ginkgo.It("should fail when the volume belongs to a group", func() {
			grouped := validVolume(validVolumeName)
			grouped.VolumeGroupID = "other-group"
			mediatorMock.On("GetVolumeByID", mock.Anything, validVolumeUID).Return(grouped, nil).Once()

			_, err := replSvc.EnableVolumeReplication(context.Background(), &replication.EnableVolumeReplicationRequest{
				VolumeId:      validVolumeID,
				ReplicationId: validReplicationID,
				Parameters:    mirrorParams(),
				Secrets:       flatSecret,
			})
			expectCode(err, codes.FailedPrecondition)
		})

		ginkgo.It("should require a replication id for mirror", func() {
			_, err := replSvc.EnableVolumeReplication(context.Background(), &replication.EnableVolumeReplicationRequest{
				VolumeId:   validVolumeID,
				Parameters: mirrorParams(),
				Secrets:    flatSecret,
			})
			expectCode(err, codes.InvalidArgument)
		})

		ginkgo.It("should reject an unknown copy type", func() {
			_, err := replSvc.EnableVolumeReplication(context.Background(), &replication.EnableVolumeReplicationRequest{
				VolumeId:      validVolumeID,
				ReplicationId: validReplicationID,
				Parameters:    map[string]string{"copy_type": "sometimes"},
				Secrets:       flatSecret,
			})
			expectCode(err, codes.InvalidArgument)
		})

		ginkgo.It("should create a policy based replication for a group", func() {
			mediatorMock.On("GetReplication", mock.Anything, earRequest).Return(nil, false, nil).Once()
			mediatorMock.On("CreateReplication", mock.Anything, earRequest).Return(nil).Once()

			_, err := replSvc.EnableVolumeReplication(context.Background(), &replication.EnableVolumeReplicationRequest{
				ReplicationSource: groupSource(),
				Parameters:        map[string]string{"replication_type": "EAR", "replication_policy": "pol1"},
				Secrets:           flatSecret,
			})
			gomega.Expect(err).To(gomega.BeNil())
		})

		ginkgo.It("should fail when the policy differs", func() {
			mediatorMock.On("GetReplication", mock.Anything, earRequest).
				Return(&array.Replication{Name: "r1", ReplicationPolicy: "pol2"}, true, nil).Once()

			_, err := replSvc.EnableVolumeReplication(context.Background(), &replication.EnableVolumeReplicationRequest{
				ReplicationSource: groupSource(),
				Parameters:        map[string]string{"replication_type": "ear", "replication_policy": "pol1"},
				Secrets:           flatSecret,
			})
			expectCode(err, codes.FailedPrecondition)
		})

		ginkgo.It("should reject a replication id or system id for policy based replication", func() {
			_, err := replSvc.EnableVolumeReplication(context.Background(), &replication.EnableVolumeReplicationRequest{
				ReplicationSource: groupSource(),
				ReplicationId:     validReplicationID,
				Parameters:        map[string]string{"replication_type": "ear"},
				Secrets:           flatSecret,
			})
			expectCode(err, codes.InvalidArgument)

			_, err = replSvc.EnableVolumeReplication(context.Background(), &replication.EnableVolumeReplicationRequest{
				ReplicationSource: groupSource(),
				Parameters:        map[string]string{"replication_type": "ear", "system_id": validRemoteSystem},
				Secrets:           flatSecret,
			})
			expectCode(err, codes.InvalidArgument)
		})

		ginkgo.It("should require a volume id", func() {
			_, err := replSvc.EnableVolumeReplication(context.Background(), &replication.EnableVolumeReplicationRequest{
				ReplicationId: validReplicationID,
				Secrets:       flatSecret,
			})
			expectCode(err, codes.InvalidArgument)
		})
	})

	ginkgo.Describe("calling DisableVolumeReplication()", func() {
		ginkgo.It("should succeed when there is no replication", func() {
			mediatorMock.On("GetReplication", mock.Anything, mirrorRequest).Return(nil, false, nil).Once()

			_, err := replSvc.DisableVolumeReplication(context.Background(), &replication.DisableVolumeReplicationRequest{
				VolumeId:      validVolumeID,
				ReplicationId: validReplicationID,
				Parameters:    mirrorParams(),
				Secrets:       flatSecret,
			})
			gomega.Expect(err).To(gomega.BeNil())
		})

		ginkgo.It("should delete an existing replication", func() {
			r := &array.Replication{Name: "r1"}
			mediatorMock.On("GetReplication", mock.Anything, mirrorRequest).Return(r, true, nil).Once()
			mediatorMock.On("DeleteReplication", mock.Anything, r).Return(nil).Once()

			_, err := replSvc.DisableVolumeReplication(context.Background(), &replication.DisableVolumeReplicationRequest{
				VolumeId:      validVolumeID,
				ReplicationId: validReplicationID,
				Parameters:    mirrorParams(),
				Secrets:       flatSecret,
			})
			gomega.Expect(err).To(gomega.BeNil())
		})
	})

	ginkgo.Describe("calling PromoteVolume()", func() {
		promote := func() error {
			_, err := replSvc.PromoteVolume(context.Background(), &replication.PromoteVolumeRequest{
				VolumeId:      validVolumeID,
				ReplicationId: validReplicationID,
				Parameters:    mirrorParams(),
				Secrets:       flatSecret,
			})
			return err
		}

		ginkgo.It("should promote a secondary", func() {
			r := &array.Replication{Name: "r1", IsPrimary: boolPtr(false)}
			mediatorMock.On("GetReplication", mock.Anything, mirrorRequest).Return(r, true, nil).Once()
			mediatorMock.On("PromoteReplicationVolume", mock.Anything, r).Return(nil).Once()
			gomega.Expect(promote()).To(gomega.BeNil())
		})

		ginkgo.It("should do nothing for a primary", func() {
			r := &array.Replication{Name: "r1", IsPrimary: boolPtr(true)}
			mediatorMock.On("GetReplication", mock.Anything, mirrorRequest).Return(r, true, nil).Once()
			gomega.Expect(promote()).To(gomega.BeNil())
		})

		ginkgo.It("should fail when there is no replication", func() {
			mediatorMock.On("GetReplication", mock.Anything, mirrorRequest).Return(nil, false, nil).Once()
			expectCode(promote(), codes.FailedPrecondition)
		})
	})

	ginkgo.Describe("calling DemoteVolume()", func() {
		demote := func() error {
			_, err := replSvc.DemoteVolume(context.Background(), &replication.DemoteVolumeRequest{
				VolumeId:      validVolumeID,
				ReplicationId: validReplicationID,
				Parameters:    mirrorParams(),
				Secrets:       flatSecret,
			})
			return err
		}

		ginkgo.It("should demote a primary", func() {
			r := &array.Replication{Name: "r1", IsPrimary: boolPtr(true)}
			mediatorMock.On("GetReplication", mock.Anything, mirrorRequest).Return(r, true, nil).Once()
			mediatorMock.On("DemoteReplicationVolume", mock.Anything, r).Return(nil).Once()
			gomega.Expect(demote()).To(gomega.BeNil())
		})

		ginkgo.It("should treat an unknown role as secondary", func() {
			r := &array.Replication{Name: "r1"}
			mediatorMock.On("GetReplication", mock.Anything, mirrorRequest).Return(r, true, nil).Once()
			gomega.Expect(demote()).To(gomega.BeNil())
		})
	})

	ginkgo.Describe("calling ResyncVolume()", func() {
		ginkgo.It("should report readiness", func() {
			mediatorMock.On("GetReplication", mock.Anything, mirrorRequest).
				Return(&array.Replication{Name: "r1", IsReady: true}, true, nil).Once()

			res, err := replSvc.ResyncVolume(context.Background(), &replication.ResyncVolumeRequest{
				VolumeId:      validVolumeID,
				ReplicationId: validReplicationID,
				Parameters:    mirrorParams(),
				Secrets:       flatSecret,
			})
			gomega.Expect(err).To(gomega.BeNil())
			gomega.Expect(res.Ready).To(gomega.BeTrue())
		})

		ginkgo.It("should fail when there is no replication", func() {
			mediatorMock.On("GetReplication", mock.Anything, mirrorRequest).Return(nil, false, nil).Once()

			_, err := replSvc.ResyncVolume(context.Background(), &replication.ResyncVolumeRequest{
				VolumeId:      validVolumeID,
				ReplicationId: validReplicationID,
				Parameters:    mirrorParams(),
				Secrets:       flatSecret,
			})
			expectCode(err, codes.FailedPrecondition)
		})
	})
})
