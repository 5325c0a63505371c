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

package hostdefiner

import (
	"context"

	"github.com/blockcsi/csi-block-driver/pkg/array"
)

//go:generate mockgen -destination=mocks/mock_storagehostmanager.go -package=mocks github.com/blockcsi/csi-block-driver/pkg/hostdefiner StorageHostManager

// StorageHostManager registers and removes hosts on a storage system.
type StorageHostManager interface {
	DefineHost(ctx context.Context, info array.ConnectionInfo, req array.HostDefineRequest) (*array.HostDefineResponse, error)
	UndefineHost(ctx context.Context, info array.ConnectionInfo, req array.HostDefineRequest) (*array.HostDefineResponse, error)
}

// RegistryHostManager reaches the storage through the same mediators the controller uses.
type RegistryHostManager struct {
	registry *array.Registry
}

// NewRegistryHostManager returns a manager leasing mediators from registry.
func NewRegistryHostManager(registry *array.Registry) *RegistryHostManager {
	return &RegistryHostManager{registry: registry}
}

// DefineHost defines the host on the detected array type.
func (m *RegistryHostManager) DefineHost(ctx context.Context, info array.ConnectionInfo, req array.HostDefineRequest) (*array.HostDefineResponse, error) {
	var resp *array.HostDefineResponse
	err := m.registry.WithMediator(ctx, info, "", func(med array.Mediator) error {
		var err error
		resp, err = med.DefineHost(ctx, req)
		return err
	})
	return resp, err
}

// UndefineHost removes the host from the detected array type.
func (m *RegistryHostManager) UndefineHost(ctx context.Context, info array.ConnectionInfo, req array.HostDefineRequest) (*array.HostDefineResponse, error) {
	var resp *array.HostDefineResponse
	err := m.registry.WithMediator(ctx, info, "", func(med array.Mediator) error {
		var err error
		resp, err = med.UndefineHost(ctx, req)
		return err
	})
	return resp, err
}
