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
	"maps"

	"github.com/blockcsi/csi-block-driver/pkg/secrets"
)

// ManagedNode is a node the reconciler defines on storage.
type ManagedNode struct {
	Name    string
	NodeID  string
	IOGroup string
}

// ManagedSecret is an array secret referenced by storage classes.
type ManagedSecret struct {
	Name      string
	Namespace string
	// NodesWithSystemID maps a node to the system of a multi-system secret it is placed on.
	NodesWithSystemID map[string]string
	// SystemIDsTopologies is empty for a single-system secret.
	SystemIDsTopologies map[string][]map[string]string
	// ManagedStorageClassCount is the number of distinct storage classes using the secret.
	ManagedStorageClassCount int

	storageClasses map[string]bool
	decoded        *secrets.Secret
}

func secretKey(name, namespace string) string {
	return name + "@" + namespace
}

// Key is the "<name>@<namespace>" identity of the secret.
func (s *ManagedSecret) Key() string {
	return secretKey(s.Name, s.Namespace)
}

// Active reports whether some storage class still references the secret.
func (s *ManagedSecret) Active() bool {
	return s.ManagedStorageClassCount > 0
}

// reference adds storage class name and reports whether it is the first one.
func (s *ManagedSecret) reference(name string) bool {
	if s.storageClasses[name] {
		return false
	}
	if s.storageClasses == nil {
		s.storageClasses = map[string]bool{}
	}
	s.storageClasses[name] = true
	s.ManagedStorageClassCount = len(s.storageClasses)
	return s.ManagedStorageClassCount == 1
}

func (s *ManagedSecret) release(name string) {
	delete(s.storageClasses, name)
	s.ManagedStorageClassCount = len(s.storageClasses)
}

func (s *ManagedSecret) multiSystem() bool {
	return len(s.SystemIDsTopologies) > 0
}

// admits reports whether nodeName should be defined on this secret's storage,
// and on which system.
func (s *ManagedSecret) admits(nodeName string) (string, bool) {
	if !s.multiSystem() {
		return "", true
	}
	id, ok := s.NodesWithSystemID[nodeName]
	return id, ok
}

// setDecoded replaces the topology view of the secret.
func (s *ManagedSecret) setDecoded(decoded *secrets.Secret) {
	s.decoded = decoded
	s.SystemIDsTopologies = decoded.Topologies()
	s.NodesWithSystemID = map[string]string{}
}

// place records the system a node's topology labels select; it returns the
// system id and whether it changed.
func (s *ManagedSecret) place(nodeName string, nodeTopology map[string]string) (string, bool) {
	if !s.multiSystem() || s.decoded == nil {
		return "", false
	}
	old, had := s.NodesWithSystemID[nodeName]
	id, ok := s.decoded.SystemForTopology(nodeTopology)
	if !ok {
		delete(s.NodesWithSystemID, nodeName)
		return "", had
	}
	s.NodesWithSystemID[nodeName] = id
	return id, !had || old != id
}

// target is one storage a node is defined on.
type target struct {
	secretName      string
	secretNamespace string
	systemID        string
}

// targetsFor returns, in secret order, every active storage that admits nodeName.
// Callers hold r.mu.
func (r *Reconciler) targetsFor(nodeName string) []target {
	var out []target
	for _, s := range r.secrets {
		if !s.Active() {
			continue
		}
		if id, ok := s.admits(nodeName); ok {
			out = append(out, target{secretName: s.Name, secretNamespace: s.Namespace, systemID: id})
		}
	}
	return out
}

// managedSecret returns the entry for name@namespace. Callers hold r.mu.
func (r *Reconciler) managedSecret(name, namespace string) *ManagedSecret {
	key := secretKey(name, namespace)
	for _, s := range r.secrets {
		if s.Key() == key {
			return s
		}
	}
	return nil
}

// ManagedSecrets returns a copy of the managed secrets in reference order.
func (r *Reconciler) ManagedSecrets() []ManagedSecret {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ManagedSecret, 0, len(r.secrets))
	for _, s := range r.secrets {
		cp := *s
		cp.NodesWithSystemID = make(map[string]string, len(s.NodesWithSystemID))
		for k, v := range s.NodesWithSystemID {
			cp.NodesWithSystemID[k] = v
		}
		cp.storageClasses = maps.Clone(s.storageClasses)
		out = append(out, cp)
	}
	return out
}

// ManagedSecret returns a copy of the entry for name@namespace.
func (r *Reconciler) ManagedSecret(name, namespace string) (ManagedSecret, bool) {
	for _, s := range r.ManagedSecrets() {
		if s.Key() == secretKey(name, namespace) {
			return s, true
		}
	}
	return ManagedSecret{}, false
}

// ManagedNode returns a copy of the managed node.
func (r *Reconciler) ManagedNode(name string) (ManagedNode, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, ok := r.nodes[name]
	if !ok {
		return ManagedNode{}, false
	}
	return *n, true
}
