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
	"github.com/csi-addons/spec/lib/go/volumegroup"
	ginkgo "github.com/onsi/ginkgo"
	gomega "github.com/onsi/gomega"
	"github.com/stretchr/testify/mock"
	"google.golang.org/grpc/codes"
)

var _ = ginkgo.Describe("VolumeGroupService", func() {
	var vgSvc *VolumeGroupService

	ginkgo.BeforeEach(func() {
		setVariables()
		vgSvc = NewVolumeGroupService(registry)
	})

	ginkgo.AfterEach(func() {
		mediatorMock.AssertExpectations(ginkgo.GinkgoT())
	})

	ginkgo.Describe("calling CreateVolumeGroup()", func() {
		ginkgo.It("should create a new empty group", func() {
			mediatorMock.On("GetVolumeGroupByName", mock.Anything, "vg-a").Return(nil, false, nil).Once()
			mediatorMock.On("CreateVolumeGroup", mock.Anything, "vg-a").
				Return(&array.VolumeGroup{ID: validGroupUID, Name: "vg-a"}, nil).Once()

			res, err := vgSvc.CreateVolumeGroup(context.Background(), &volumegroup.CreateVolumeGroupRequest{
				Name:    "vg-a",
				Secrets: flatSecret,
			})
			gomega.Expect(err).To(gomega.BeNil())
			gomega.Expect(res.VolumeGroup.VolumeGroupId).To(gomega.Equal(validGroupID))
			gomega.Expect(res.VolumeGroup.VolumeGroupContext).To(gomega.HaveKeyWithValue(ContextVolumeGroupName, "vg-a"))
			gomega.Expect(res.VolumeGroup.Volumes).To(gomega.BeEmpty())
		})

		ginkgo.It("should return an existing empty group", func() {
			mediatorMock.On("GetVolumeGroupByName", mock.Anything, "vg-a").
				Return(&array.VolumeGroup{ID: validGroupUID, Name: "vg-a"}, true, nil).Once()

			res, err := vgSvc.CreateVolumeGroup(context.Background(), &volumegroup.CreateVolumeGroupRequest{
				Name:    "vg-a",
				Secrets: flatSecret,
			})
			gomega.Expect(err).To(gomega.BeNil())
			gomega.Expect(res.VolumeGroup.VolumeGroupId).To(gomega.Equal(validGroupID))
		})

		ginkgo.It("should fail when the existing group has members", func() {
			mediatorMock.On("GetVolumeGroupByName", mock.Anything, "vg-a").Return(&array.VolumeGroup{
				ID:      validGroupUID,
				Name:    "vg-a",
				Volumes: []array.Volume{{ID: "v1"}},
			}, true, nil).Once()

			_, err := vgSvc.CreateVolumeGroup(context.Background(), &volumegroup.CreateVolumeGroupRequest{
				Name:    "vg-a",
				Secrets: flatSecret,
			})
			expectCode(err, codes.AlreadyExists)
		})

		ginkgo.It("should fail without a name", func() {
			_, err := vgSvc.CreateVolumeGroup(context.Background(), &volumegroup.CreateVolumeGroupRequest{Secrets: flatSecret})
			expectCode(err, codes.InvalidArgument)
		})
	})

	ginkgo.Describe("calling DeleteVolumeGroup()", func() {
		ginkgo.It("should succeed twice in a row", func() {
			mediatorMock.On("DeleteVolumeGroup", mock.Anything, validGroupUID).Return(nil).Once()
			mediatorMock.On("DeleteVolumeGroup", mock.Anything, validGroupUID).
				Return(array.Errorf(array.ObjectNotFound, "gone")).Once()

			req := &volumegroup.DeleteVolumeGroupRequest{VolumeGroupId: validGroupID, Secrets: flatSecret}
			_, err := vgSvc.DeleteVolumeGroup(context.Background(), req)
			gomega.Expect(err).To(gomega.BeNil())
			_, err = vgSvc.DeleteVolumeGroup(context.Background(), req)
			gomega.Expect(err).To(gomega.BeNil())
		})
	})

	ginkgo.Describe("calling ModifyVolumeGroupMembership()", func() {
		ginkgo.It("should add missing and remove extra members", func() {
			mediatorMock.On("GetVolumeGroup", mock.Anything, validGroupUID).Return(&array.VolumeGroup{
				ID:      validGroupUID,
				Name:    "vg-a",
				Volumes: []array.Volume{{ID: "v1"}, {ID: "v2"}},
			}, nil).Once()
			mediatorMock.On("AddVolumeToVolumeGroup", mock.Anything, validGroupUID, "v3").Return(nil).Once()
			mediatorMock.On("RemoveVolumeFromVolumeGroup", mock.Anything, validGroupUID, "v2").Return(nil).Once()
			mediatorMock.On("GetVolumeGroup", mock.Anything, validGroupUID).Return(&array.VolumeGroup{
				ID:      validGroupUID,
				Name:    "vg-a",
				Volumes: []array.Volume{{ID: "v1"}, {ID: "v3"}},
			}, nil).Once()

			res, err := vgSvc.ModifyVolumeGroupMembership(context.Background(), &volumegroup.ModifyVolumeGroupMembershipRequest{
				VolumeGroupId: validGroupID,
				VolumeIds:     []string{validArrayType + ":v1", validArrayType + ":v3"},
				Secrets:       flatSecret,
			})
			gomega.Expect(err).To(gomega.BeNil())
			gomega.Expect(res.VolumeGroup.Volumes).To(gomega.HaveLen(2))
			gomega.Expect(res.VolumeGroup.Volumes[1].VolumeId).To(gomega.Equal(validArrayType + ":v3"))
		})

		ginkgo.It("should return NotFound for an unknown group", func() {
			mediatorMock.On("GetVolumeGroup", mock.Anything, validGroupUID).
				Return(nil, array.Errorf(array.ObjectNotFound, "no group")).Once()

			_, err := vgSvc.ModifyVolumeGroupMembership(context.Background(), &volumegroup.ModifyVolumeGroupMembershipRequest{
				VolumeGroupId: validGroupID,
				Secrets:       flatSecret,
			})
			expectCode(err, codes.NotFound)
		})
	})
})
