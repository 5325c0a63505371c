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

// Package identity provides CSI specification compatible identity service
// together with the CSI-Addons identity service.
package identity

import (
	"context"

	"github.com/blockcsi/csi-block-driver/pkg/config"
	"github.com/container-storage-interface/spec/lib/go/csi"
	addons "github.com/csi-addons/spec/lib/go/identity"
	log "github.com/sirupsen/logrus"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// NewIdentityService creates new identity service. cfg is read on every call.
func NewIdentityService(cfg func() *config.Config, manifest map[string]string) *Service {
	if cfg == nil {
		cfg = config.Default
	}
	return &Service{
		config:   cfg,
		manifest: manifest,
	}
}

// Service is a identity service allows driver to return capabilities, health, and other metadata
type Service struct {
	csi.UnimplementedIdentityServer

	config   func() *config.Config
	manifest map[string]string
}

// GetPluginInfo returns general information about plugin (driver) such as name, version and manifest
func (s *Service) GetPluginInfo(_ context.Context, _ *csi.GetPluginInfoRequest) (*csi.GetPluginInfoResponse, error) {
	id := s.config().Identity
	return &csi.GetPluginInfoResponse{
		Name:          id.Name,
		VendorVersion: id.Version,
		Manifest:      s.manifest,
	}, nil
}

// GetPluginCapabilities returns the capabilities listed in the configuration file
func (s *Service) GetPluginCapabilities(_ context.Context, _ *csi.GetPluginCapabilitiesRequest) (*csi.GetPluginCapabilitiesResponse, error) {
	caps := s.config().Identity.Capabilities
	var rep csi.GetPluginCapabilitiesResponse

	for _, name := range caps.Service {
		v, ok := csi.PluginCapability_Service_Type_value[name]
		if !ok {
			log.Warnf("skipping unknown service capability %s", name)
			continue
		}
		rep.Capabilities = append(rep.Capabilities, &csi.PluginCapability{
			Type: &csi.PluginCapability_Service_{
				Service: &csi.PluginCapability_Service{
					Type: csi.PluginCapability_Service_Type(v),
				},
			},
		})
	}
	for _, name := range caps.VolumeExpansion {
		v, ok := csi.PluginCapability_VolumeExpansion_Type_value[name]
		if !ok {
			log.Warnf("skipping unknown volume expansion capability %s", name)
			continue
		}
		rep.Capabilities = append(rep.Capabilities, &csi.PluginCapability{
			Type: &csi.PluginCapability_VolumeExpansion_{
				VolumeExpansion: &csi.PluginCapability_VolumeExpansion{
					Type: csi.PluginCapability_VolumeExpansion_Type(v),
				},
			},
		})
	}
	return &rep, nil
}

// Probe always reports the driver as ready; array health is checked per request
func (s *Service) Probe(_ context.Context, _ *csi.ProbeRequest) (*csi.ProbeResponse, error) {
	return &csi.ProbeResponse{Ready: wrapperspb.Bool(true)}, nil
}

// AddonsService is the CSI-Addons identity served next to the replication and fence services
type AddonsService struct {
	addons.UnimplementedIdentityServer

	config func() *config.Config
}

// NewAddonsService creates new CSI-Addons identity service
func NewAddonsService(cfg func() *config.Config) *AddonsService {
	if cfg == nil {
		cfg = config.Default
	}
	return &AddonsService{config: cfg}
}

// GetIdentity returns the same name and version as the CSI identity
func (s *AddonsService) GetIdentity(_ context.Context, _ *addons.GetIdentityRequest) (*addons.GetIdentityResponse, error) {
	id := s.config().Identity
	return &addons.GetIdentityResponse{
		Name:          id.Name,
		VendorVersion: id.Version,
	}, nil
}

// GetCapabilities lists the CSI-Addons services this driver implements
func (s *AddonsService) GetCapabilities(_ context.Context, _ *addons.GetCapabilitiesRequest) (*addons.GetCapabilitiesResponse, error) {
	return &addons.GetCapabilitiesResponse{
		Capabilities: []*addons.Capability{
			{
				Type: &addons.Capability_Service_{
					Service: &addons.Capability_Service{
						Type: addons.Capability_Service_CONTROLLER_SERVICE,
					},
				},
			},
			{
				Type: &addons.Capability_VolumeReplication_{
					VolumeReplication: &addons.Capability_VolumeReplication{
						Type: addons.Capability_VolumeReplication_VOLUME_REPLICATION,
					},
				},
			},
			{
				Type: &addons.Capability_NetworkFence_{
					NetworkFence: &addons.Capability_NetworkFence{
						Type: addons.Capability_NetworkFence_NETWORK_FENCE,
					},
				},
			},
		},
	}, nil
}

// Probe always reports ready
func (s *AddonsService) Probe(_ context.Context, _ *addons.ProbeRequest) (*addons.ProbeResponse, error) {
	return &addons.ProbeResponse{Ready: wrapperspb.Bool(true)}, nil
}
