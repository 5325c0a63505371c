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

// Package hostdefinition holds the HostDefinition custom resource and a store for it
// built on the dynamic client.
package hostdefinition

import (
	"strings"

	"github.com/blockcsi/csi-block-driver/pkg/naming"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/runtime/schema"
)

var _ runtime.Object = &HostDefinition{}

// Phase of a host definition.
type Phase string

// Phases a definition moves through.
const (
	PhaseReady           Phase = "Ready"
	PhasePendingCreation Phase = "Pending-Creation"
	PhasePendingDeletion Phase = "Pending-Deletion"
	PhaseError           Phase = "Error"
)

// IsPending reports whether a retry loop owns the definition.
func (p Phase) IsPending() bool {
	return p == PhasePendingCreation || p == PhasePendingDeletion
}

const (
	// Group of the custom resource
	Group = "csi.ibm.com"
	// Version of the custom resource
	Version = "v1"
	// Kind of the custom resource
	Kind = "HostDefinition"
	// Resource is the plural name
	Resource = "hostdefinitions"

	// Finalizer keeps the resource until the host is undefined
	Finalizer = "hostdefinitions.csi.ibm.com"

	// LabelNode holds the node name
	LabelNode = "hostdefinition.block.csi.ibm.com/node"
	// LabelSecret holds "<namespace>.<name>" of the array secret
	LabelSecret = "hostdefinition.block.csi.ibm.com/secret"

	maxNameLength  = 253
	maxLabelLength = 63
	nameHashLength = 10
)

// GVR is the GroupVersionResource used with the dynamic client.
var GVR = schema.GroupVersionResource{Group: Group, Version: Version, Resource: Resource}

// HostDefinition records one node defined on one storage system.
type HostDefinition struct {
	metav1.TypeMeta   `json:",inline"`
	metav1.ObjectMeta `json:"metadata,omitempty"`

	Spec   Spec   `json:"spec"`
	Status Status `json:"status,omitempty"`
}

// Spec is the desired host.
type Spec struct {
	NodeName          string   `json:"nodeName"`
	NodeID            string   `json:"nodeId"`
	SecretName        string   `json:"secretName"`
	SecretNamespace   string   `json:"secretNamespace"`
	SystemID          string   `json:"systemId,omitempty"`
	ConnectivityType  string   `json:"connectivityType,omitempty"`
	Ports             []string `json:"ports,omitempty"`
	NodeNameOnStorage string   `json:"nodeNameOnStorage,omitempty"`
	IOGroup           string   `json:"ioGroup,omitempty"`
	ManagementAddress string   `json:"managementAddress,omitempty"`
}

// Status is the observed phase.
type Status struct {
	Phase Phase `json:"phase,omitempty"`
}

// Name is the resource name of the definition of nodeName on the storage in the secret.
// The readable part joins the three names with "-", which is ambiguous, so a hash of the
// "/"-joined tuple is appended.
func Name(nodeName, secretNamespace, secretName string) string {
	key := strings.ToLower(strings.Join([]string{nodeName, secretNamespace, secretName}, "/"))
	h := strings.ToLower(naming.Hash(key))[:nameHashLength]
	readable := strings.ReplaceAll(key, "/", "-")
	if limit := maxNameLength - nameHashLength - 1; len(readable) > limit {
		readable = strings.TrimRight(readable[:limit], "-.")
	}
	return readable + "-" + h
}

// labelValue keeps values inside the 63 character label limit.
func labelValue(s string) string {
	if len(s) <= maxLabelLength {
		return s
	}
	return naming.Hash(s)
}

// NodeLabel is the LabelNode value for a node.
func NodeLabel(nodeName string) string {
	return labelValue(nodeName)
}

// New returns a definition in no phase, labeled for listing by node and secret.
func New(spec Spec) *HostDefinition {
	return &HostDefinition{
		TypeMeta: metav1.TypeMeta{APIVersion: GVR.GroupVersion().String(), Kind: Kind},
		ObjectMeta: metav1.ObjectMeta{
			Name: Name(spec.NodeName, spec.SecretNamespace, spec.SecretName),
			Labels: map[string]string{
				LabelNode:   labelValue(spec.NodeName),
				LabelSecret: SecretLabel(spec.SecretNamespace, spec.SecretName),
			},
			Finalizers: []string{Finalizer},
		},
		Spec: spec,
	}
}

// SecretLabel is the LabelSecret value for a secret.
func SecretLabel(namespace, name string) string {
	return labelValue(namespace + "." + name)
}

// DeepCopy returns a copy sharing no memory with hd.
func (hd *HostDefinition) DeepCopy() *HostDefinition {
	if hd == nil {
		return nil
	}
	out := new(HostDefinition)
	out.TypeMeta = hd.TypeMeta
	hd.ObjectMeta.DeepCopyInto(&out.ObjectMeta)
	out.Spec = hd.Spec
	if hd.Spec.Ports != nil {
		out.Spec.Ports = append([]string(nil), hd.Spec.Ports...)
	}
	out.Status = hd.Status
	return out
}

// DeepCopyObject lets events be recorded against a definition.
func (hd *HostDefinition) DeepCopyObject() runtime.Object {
	return hd.DeepCopy()
}
