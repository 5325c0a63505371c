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

// Package secrets decodes array connection secrets and picks the storage system a request targets.
package secrets

import (
	"encoding/base64"
	"regexp"
	"strings"

	"github.com/blockcsi/csi-block-driver/pkg/array"
	"gopkg.in/yaml.v3"
)

// Secret keys.
const (
	KeyManagementAddress   = "management_address"
	KeyUsername            = "username"
	KeyPassword            = "password"
	KeyConfig              = "config"
	KeySupportedTopologies = "supported_topologies"
)

// MaxSystemIDLength bounds system ids in a topology-aware secret.
const MaxSystemIDLength = 32

var systemIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// System is one entry of a topology-aware secret.
type System struct {
	ID                  string
	Connection          array.ConnectionInfo
	SupportedTopologies []map[string]string
}

type systemConfig struct {
	ManagementAddress   string              `yaml:"management_address"`
	Username            string              `yaml:"username"`
	Password            string              `yaml:"password"`
	SupportedTopologies []map[string]string `yaml:"supported_topologies"`
}

// Secret is a parsed connection secret. Systems keeps the order of the config document.
type Secret struct {
	Flat    *array.ConnectionInfo
	Systems []System
}

// Parse reads the flat form and, when present, the topology-aware config.
func Parse(data map[string]string) (*Secret, error) {
	s := &Secret{}
	if raw, ok := data[KeyConfig]; ok && strings.TrimSpace(raw) != "" {
		systems, err := parseConfig(raw)
		if err != nil {
			return nil, err
		}
		s.Systems = systems
	}

	addr, user, pass := data[KeyManagementAddress], data[KeyUsername], data[KeyPassword]
	if addr != "" || user != "" || pass != "" || len(s.Systems) == 0 {
		info, err := connectionInfo(addr, user, pass, "")
		if err != nil {
			return nil, err
		}
		s.Flat = &info
	}
	return s, nil
}

func parseConfig(raw string) ([]System, error) {
	root, err := decodeMapping(raw)
	if err != nil {
		decoded, decErr := base64.StdEncoding.DecodeString(strings.TrimSpace(raw))
		if decErr != nil {
			return nil, err
		}
		if root, err = decodeMapping(string(decoded)); err != nil {
			return nil, err
		}
	}

	systems := make([]System, 0, len(root.Content)/2)
	for i := 0; i+1 < len(root.Content); i += 2 {
		id := root.Content[i].Value
		if err := validateSystemID(id); err != nil {
			return nil, err
		}
		var sc systemConfig
		if err := root.Content[i+1].Decode(&sc); err != nil {
			return nil, array.Wrap(array.InvalidArgument, err, "invalid secret config for system %s", id)
		}
		info, err := connectionInfo(sc.ManagementAddress, sc.Username, sc.Password, id)
		if err != nil {
			return nil, err
		}
		systems = append(systems, System{ID: id, Connection: info, SupportedTopologies: sc.SupportedTopologies})
	}
	if len(systems) == 0 {
		return nil, array.Errorf(array.InvalidArgument, "secret config has no systems")
	}
	return systems, nil
}

func decodeMapping(raw string) (*yaml.Node, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, array.Wrap(array.InvalidArgument, err, "invalid secret config")
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) != 1 || doc.Content[0].Kind != yaml.MappingNode {
		return nil, array.Errorf(array.InvalidArgument, "secret config is not a mapping")
	}
	return doc.Content[0], nil
}

func validateSystemID(id string) error {
	if len(id) > MaxSystemIDLength {
		return array.Errorf(array.InvalidArgument, "system id %q is longer than %d characters", id, MaxSystemIDLength)
	}
	if !systemIDPattern.MatchString(id) {
		return array.Errorf(array.InvalidArgument, "system id %q must match %s", id, systemIDPattern.String())
	}
	return nil
}

func connectionInfo(addr, user, pass, systemID string) (array.ConnectionInfo, error) {
	var missing []string
	if strings.TrimSpace(addr) == "" {
		missing = append(missing, KeyManagementAddress)
	}
	if user == "" {
		missing = append(missing, KeyUsername)
	}
	if pass == "" {
		missing = append(missing, KeyPassword)
	}
	if len(missing) > 0 {
		return array.ConnectionInfo{}, array.Errorf(array.InvalidArgument, "secret is missing %s", strings.Join(missing, ", "))
	}
	var addresses []string
	for _, a := range strings.Split(addr, ",") {
		if a = strings.TrimSpace(a); a != "" {
			addresses = append(addresses, a)
		}
	}
	return array.ConnectionInfo{ArrayAddresses: addresses, User: user, Password: pass, SystemID: systemID}, nil
}

// MultiSystem reports whether the secret carries a topology-aware config.
func (s *Secret) MultiSystem() bool {
	return len(s.Systems) > 0
}

// System returns the system with the given id.
func (s *Secret) System(id string) (System, bool) {
	for _, sys := range s.Systems {
		if sys.ID == id {
			return sys, true
		}
	}
	return System{}, false
}

// SystemForTopology returns the first system, in config order, with a supported
// topology that is a subset of one of segments.
func (s *Secret) SystemForTopology(segments ...map[string]string) (string, bool) {
	for _, sys := range s.Systems {
		for _, supported := range sys.SupportedTopologies {
			for _, seg := range segments {
				if isSubset(supported, seg) {
					return sys.ID, true
				}
			}
		}
	}
	return "", false
}

// Topologies maps every system id to its supported topologies.
func (s *Secret) Topologies() map[string][]map[string]string {
	out := make(map[string][]map[string]string, len(s.Systems))
	for _, sys := range s.Systems {
		out[sys.ID] = sys.SupportedTopologies
	}
	return out
}

// Select picks the connection: explicit systemID, then topology match, then the flat form.
func (s *Secret) Select(systemID string, segments ...map[string]string) (array.ConnectionInfo, error) {
	if systemID != "" {
		if sys, ok := s.System(systemID); ok {
			return sys.Connection, nil
		}
		return array.ConnectionInfo{}, array.Errorf(array.InvalidArgument, "system id %s is not in the secret config", systemID)
	}
	if id, ok := s.SystemForTopology(segments...); ok {
		sys, _ := s.System(id)
		return sys.Connection, nil
	}
	if s.Flat != nil {
		return *s.Flat, nil
	}
	return array.ConnectionInfo{}, array.Errorf(array.InvalidArgument, "no system match requested topologies: %v", segments)
}

// Resolve parses data and selects a connection in one step.
func Resolve(data map[string]string, systemID string, segments ...map[string]string) (array.ConnectionInfo, error) {
	s, err := Parse(data)
	if err != nil {
		return array.ConnectionInfo{}, err
	}
	return s.Select(systemID, segments...)
}

func isSubset(sub, super map[string]string) bool {
	if len(sub) == 0 {
		return false
	}
	for k, v := range sub {
		if sv, ok := super[k]; !ok || sv != v {
			return false
		}
	}
	return true
}
