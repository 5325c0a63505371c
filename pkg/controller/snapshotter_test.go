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
	"github.com/container-storage-interface/spec/lib/go/csi"
	ginkgo "github.com/onsi/ginkgo"
	gomega "github.com/onsi/gomega"
	"github.com/stretchr/testify/mock"
	"google.golang.org/grpc/codes"
)

const validSnapName = "snap-a"

func getTypicalSnapshotRequest() *csi.CreateSnapshotRequest {
	return &csi.CreateSnapshotRequest{
		SourceVolumeId: validVolumeID,
		Name:           validSnapName,
		Secrets:        flatSecret,
	}
}

var _ = ginkgo.Describe("Snapshotter", func() {
	ginkgo.BeforeEach(func() {
		setVariables()
	})

	ginkgo.AfterEach(func() {
		mediatorMock.AssertExpectations(ginkgo.GinkgoT())
	})

	ginkgo.Describe("calling CreateSnapshot()", func() {
		ginkgo.It("should create a new snapshot", func() {
			mediatorMock.On("GetSnapshot", mock.Anything, validVolumeUID, validSnapName, "", false).
				Return(nil, false, nil).Once()
			mediatorMock.On("CreateSnapshot", mock.Anything, array.CreateSnapshotRequest{
				VolumeID: validVolumeUID,
				Name:     validSnapName,
			}).Return(&array.Snapshot{
				ID:            validSnapshotUID,
				InternalID:    "42",
				SourceID:      validVolumeUID,
				IsReady:       true,
				CapacityBytes: validVolSize,
			}, nil).Once()

			res, err := ctrlSvc.CreateSnapshot(context.Background(), getTypicalSnapshotRequest())
			gomega.Expect(err).To(gomega.BeNil())
			gomega.Expect(res.Snapshot.SnapshotId).To(gomega.Equal(validArrayType + ":42;" + validSnapshotUID))
			gomega.Expect(res.Snapshot.SourceVolumeId).To(gomega.Equal(validVolumeID))
			gomega.Expect(res.Snapshot.ReadyToUse).To(gomega.BeTrue())
			gomega.Expect(res.Snapshot.CreationTime).ToNot(gomega.BeNil())
		})

		ginkgo.It("should return an existing snapshot of the same volume", func() {
			mediatorMock.On("GetSnapshot", mock.Anything, validVolumeUID, validSnapName, "", false).
				Return(&array.Snapshot{ID: validSnapshotUID, SourceID: validVolumeUID, IsReady: true}, true, nil).Once()

			res, err := ctrlSvc.CreateSnapshot(context.Background(), getTypicalSnapshotRequest())
			gomega.Expect(err).To(gomega.BeNil())
			gomega.Expect(res.Snapshot.SnapshotId).To(gomega.Equal(validArrayType + ":" + validSnapshotUID))
		})

		ginkgo.It("should fail when the name belongs to another volume's snapshot", func() {
			mediatorMock.On("GetSnapshot", mock.Anything, validVolumeUID, validSnapName, "", false).
				Return(&array.Snapshot{ID: validSnapshotUID, SourceID: "other"}, true, nil).Once()

			_, err := ctrlSvc.CreateSnapshot(context.Background(), getTypicalSnapshotRequest())
			expectCode(err, codes.AlreadyExists)
		})

		ginkgo.It("should reject space efficiency with virt_snap_func", func() {
			req := getTypicalSnapshotRequest()
			req.Parameters = map[string]string{"virt_snap_func": "true", "SpaceEfficiency": "thin"}
			_, err := ctrlSvc.CreateSnapshot(context.Background(), req)
			expectCode(err, codes.InvalidArgument)
		})

		ginkgo.It("should fail without a name", func() {
			req := getTypicalSnapshotRequest()
			req.Name = ""
			_, err := ctrlSvc.CreateSnapshot(context.Background(), req)
			expectCode(err, codes.InvalidArgument)
		})
	})

	ginkgo.Describe("calling DeleteSnapshot()", func() {
		ginkgo.It("should delete the snapshot", func() {
			mediatorMock.On("DeleteSnapshot", mock.Anything, validSnapshotUID, "").Return(nil).Once()

			_, err := ctrlSvc.DeleteSnapshot(context.Background(), &csi.DeleteSnapshotRequest{SnapshotId: validSnapshotID, Secrets: flatSecret})
			gomega.Expect(err).To(gomega.BeNil())
		})

		ginkgo.It("should succeed when the snapshot is gone", func() {
			mediatorMock.On("DeleteSnapshot", mock.Anything, validSnapshotUID, "").
				Return(array.Errorf(array.ObjectNotFound, "gone")).Once()

			_, err := ctrlSvc.DeleteSnapshot(context.Background(), &csi.DeleteSnapshotRequest{SnapshotId: validSnapshotID, Secrets: flatSecret})
			gomega.Expect(err).To(gomega.BeNil())
		})

		ginkgo.It("should succeed for a malformed id", func() {
			_, err := ctrlSvc.DeleteSnapshot(context.Background(), &csi.DeleteSnapshotRequest{SnapshotId: "bad", Secrets: flatSecret})
			gomega.Expect(err).To(gomega.BeNil())
		})
	})
})
