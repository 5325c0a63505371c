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

	"github.com/csi-addons/spec/lib/go/fence"
	ginkgo "github.com/onsi/ginkgo"
	gomega "github.com/onsi/gomega"
	"github.com/stretchr/testify/mock"
	"google.golang.org/grpc/codes"
)

var _ = ginkgo.Describe("FenceService", func() {
	var fenceSvc *FenceService

	ginkgo.BeforeEach(func() {
		setVariables()
		fenceSvc = NewFenceService(registry)
	})

	ginkgo.AfterEach(func() {
		mediatorMock.AssertExpectations(ginkgo.GinkgoT())
	})

	fenceRequest := func() *fence.FenceClusterNetworkRequest {
		return &fence.FenceClusterNetworkRequest{
			Parameters: map[string]string{"fenceToken": "site-a", "unfenceToken": "site-b"},
			Secrets:    flatSecret,
		}
	}

	ginkgo.It("should fence an unfenced group", func() {
		mediatorMock.On("IsFenced", mock.Anything, "site-a").Return(false, nil).Once()
		mediatorMock.On("Fence", mock.Anything, "site-a", "site-b").Return(nil).Once()

		_, err := fenceSvc.FenceClusterNetwork(context.Background(), fenceRequest())
		gomega.Expect(err).To(gomega.BeNil())
	})

	ginkgo.It("should do nothing when already fenced", func() {
		mediatorMock.On("IsFenced", mock.Anything, "site-a").Return(true, nil).Once()

		_, err := fenceSvc.FenceClusterNetwork(context.Background(), fenceRequest())
		gomega.Expect(err).To(gomega.BeNil())
	})

	ginkgo.It("should require both tokens", func() {
		req := fenceRequest()
		delete(req.Parameters, "unfenceToken")
		_, err := fenceSvc.FenceClusterNetwork(context.Background(), req)
		expectCode(err, codes.InvalidArgument)
	})
})
