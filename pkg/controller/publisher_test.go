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

var nodeInitiators = array.Initiators{
	FCWWNs:    []string{"WWPN1", "WWPN2"},
	ISCSIIQNs: []string{"iqn.1"},
}

func getTypicalPublishRequest() *csi.ControllerPublishVolumeRequest {
	return &csi.ControllerPublishVolumeRequest{
		VolumeId:         validVolumeID,
		NodeId:           validNodeID,
		VolumeCapability: mountCapability(csi.VolumeCapability_AccessMode_SINGLE_NODE_WRITER),
		Secrets:          flatSecret,
	}
}

var _ = ginkgo.Describe("ControllerPublish", func() {
	ginkgo.BeforeEach(func() {
		setVariables()
	})

	ginkgo.AfterEach(func() {
		mediatorMock.AssertExpectations(ginkgo.GinkgoT())
	})

	ginkgo.Describe("calling ControllerPublishVolume()", func() {
		ginkgo.It("should return the same lun for repeated iscsi publishes", func() {
			mediatorMock.On("MapVolumeByInitiators", mock.Anything, validVolumeUID, nodeInitiators).Return(&array.MapResult{
				LUN:          3,
				Connectivity: array.ConnectivityISCSI,
				ArrayInitiators: map[string][]string{
					"iqn.array-b": {"10.0.0.3", "10.0.0.4"},
					"iqn.array-a": {"10.0.0.1"},
				},
			}, nil).Twice()

			first, err := ctrlSvc.ControllerPublishVolume(context.Background(), getTypicalPublishRequest())
			gomega.Expect(err).To(gomega.BeNil())
			second, err := ctrlSvc.ControllerPublishVolume(context.Background(), getTypicalPublishRequest())
			gomega.Expect(err).To(gomega.BeNil())

			pc := first.PublishContext
			gomega.Expect(pc).To(gomega.HaveKeyWithValue("PUBLISH_CONTEXT_LUN", "3"))
			gomega.Expect(pc).To(gomega.HaveKeyWithValue("PUBLISH_CONTEXT_CONNECTIVITY", "iscsi"))
			gomega.Expect(pc).To(gomega.HaveKeyWithValue("PUBLISH_CONTEXT_ARRAY_IQN", "iqn.array-a,iqn.array-b"))
			gomega.Expect(pc).To(gomega.HaveKeyWithValue("iqn.array-b", "10.0.0.3,10.0.0.4"))
			gomega.Expect(pc).To(gomega.HaveKeyWithValue(PublishContextSeparatorKey, ","))
			gomega.Expect(second.PublishContext["PUBLISH_CONTEXT_LUN"]).To(gomega.Equal(pc["PUBLISH_CONTEXT_LUN"]))
		})

		ginkgo.It("should list the array wwpns for fc", func() {
			mediatorMock.On("MapVolumeByInitiators", mock.Anything, validVolumeUID, nodeInitiators).Return(&array.MapResult{
				LUN:             1,
				Connectivity:    array.ConnectivityFC,
				ArrayInitiators: map[string][]string{"fc": {"5005", "5004"}},
			}, nil).Once()

			res, err := ctrlSvc.ControllerPublishVolume(context.Background(), getTypicalPublishRequest())
			gomega.Expect(err).To(gomega.BeNil())
			gomega.Expect(res.PublishContext).To(gomega.HaveKeyWithValue("PUBLISH_CONTEXT_ARRAY_FC_INITIATORS", "5004,5005"))
		})

		ginkgo.It("should fail with ResourceExhausted when no lun is free", func() {
			mediatorMock.On("MapVolumeByInitiators", mock.Anything, validVolumeUID, nodeInitiators).
				Return(nil, array.Errorf(array.NoAvailableLun, "no lun left")).Once()

			_, err := ctrlSvc.ControllerPublishVolume(context.Background(), getTypicalPublishRequest())
			expectCode(err, codes.ResourceExhausted)
		})

		ginkgo.It("should fail when the volume is mapped to another host", func() {
			mediatorMock.On("MapVolumeByInitiators", mock.Anything, validVolumeUID, nodeInitiators).
				Return(nil, array.Errorf(array.VolumeAlreadyMappedToDifferentHosts, "mapped to host2")).Once()

			_, err := ctrlSvc.ControllerPublishVolume(context.Background(), getTypicalPublishRequest())
			expectCode(err, codes.FailedPrecondition)
		})

		ginkgo.It("should return NotFound for a malformed node id", func() {
			req := getTypicalPublishRequest()
			req.NodeId = "host1"
			_, err := ctrlSvc.ControllerPublishVolume(context.Background(), req)
			expectCode(err, codes.NotFound)
		})

		ginkgo.It("should reject readonly publishes", func() {
			req := getTypicalPublishRequest()
			req.Readonly = true
			_, err := ctrlSvc.ControllerPublishVolume(context.Background(), req)
			expectCode(err, codes.InvalidArgument)
		})
	})

	ginkgo.Describe("calling ControllerUnpublishVolume()", func() {
		getUnpublishRequest := func() *csi.ControllerUnpublishVolumeRequest {
			return &csi.ControllerUnpublishVolumeRequest{VolumeId: validVolumeID, NodeId: validNodeID, Secrets: flatSecret}
		}

		ginkgo.It("should unmap the volume", func() {
			mediatorMock.On("UnmapVolumeByInitiators", mock.Anything, validVolumeUID, nodeInitiators).Return(nil).Once()

			_, err := ctrlSvc.ControllerUnpublishVolume(context.Background(), getUnpublishRequest())
			gomega.Expect(err).To(gomega.BeNil())
		})

		ginkgo.It("should succeed when already unmapped or the host is gone", func() {
			mediatorMock.On("UnmapVolumeByInitiators", mock.Anything, validVolumeUID, nodeInitiators).
				Return(array.Errorf(array.VolumeAlreadyUnmapped, "not mapped")).Once()
			mediatorMock.On("UnmapVolumeByInitiators", mock.Anything, validVolumeUID, nodeInitiators).
				Return(array.Errorf(array.HostNotFound, "no host")).Once()

			_, err := ctrlSvc.ControllerUnpublishVolume(context.Background(), getUnpublishRequest())
			gomega.Expect(err).To(gomega.BeNil())
			_, err = ctrlSvc.ControllerUnpublishVolume(context.Background(), getUnpublishRequest())
			gomega.Expect(err).To(gomega.BeNil())
		})

		ginkgo.It("should return InvalidArgument for a malformed volume id", func() {
			req := getUnpublishRequest()
			req.VolumeId = "garbage"
			_, err := ctrlSvc.ControllerUnpublishVolume(context.Background(), req)
			expectCode(err, codes.InvalidArgument)
		})

		ginkgo.It("should return InvalidArgument for a malformed node id", func() {
			req := getUnpublishRequest()
			req.NodeId = "a;b;c;d;e"
			_, err := ctrlSvc.ControllerUnpublishVolume(context.Background(), req)
			expectCode(err, codes.InvalidArgument)
		})
	})
})
