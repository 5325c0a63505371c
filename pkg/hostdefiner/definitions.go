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
	"fmt"

	"github.com/blockcsi/csi-block-driver/pkg/array"
	"github.com/blockcsi/csi-block-driver/pkg/common/k8sutils"
	"github.com/blockcsi/csi-block-driver/pkg/hostdefinition"
	"github.com/blockcsi/csi-block-driver/pkg/objectid"
	"github.com/blockcsi/csi-block-driver/pkg/secrets"
	log "github.com/sirupsen/logrus"
	"go.uber.org/multierr"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

func secretData(secret *corev1.Secret) map[string]string {
	data := make(map[string]string, len(secret.Data)+len(secret.StringData))
	for k, v := range secret.Data {
		data[k] = string(v)
	}
	for k, v := range secret.StringData {
		data[k] = v
	}
	return data
}

func (r *Reconciler) readSecret(ctx context.Context, name, namespace string) (*secrets.Secret, error) {
	secret, err := r.kube.CoreV1().Secrets(namespace).Get(ctx, name, metav1.GetOptions{})
	if err != nil {
		return nil, err
	}
	return secrets.Parse(secretData(secret))
}

// request resolves the storage connection and host request of a definition.
func (r *Reconciler) request(ctx context.Context, spec hostdefinition.Spec) (array.ConnectionInfo, array.HostDefineRequest, error) {
	secret, err := r.readSecret(ctx, spec.SecretName, spec.SecretNamespace)
	if err != nil {
		return array.ConnectionInfo{}, array.HostDefineRequest{}, err
	}
	info, err := secret.Select(spec.SystemID)
	if err != nil {
		return array.ConnectionInfo{}, array.HostDefineRequest{}, err
	}
	nodeID, err := objectid.ParseNodeID(spec.NodeID)
	if err != nil {
		return array.ConnectionInfo{}, array.HostDefineRequest{}, err
	}
	connectivity := spec.ConnectivityType
	if connectivity == "" {
		connectivity = r.cfg.ConnectivityType
	}
	return info, array.HostDefineRequest{
		Prefix:           r.cfg.Prefix,
		ConnectivityType: connectivity,
		NodeName:         spec.NodeName,
		NodeID:           spec.NodeID,
		Initiators:       nodeID.Initiators(),
		IOGroup:          spec.IOGroup,
		Hostname:         nodeID.Hostname,
	}, nil
}

// define registers the host and returns spec completed with what the storage reported.
func (r *Reconciler) define(ctx context.Context, spec hostdefinition.Spec) (hostdefinition.Spec, error) {
	info, req, err := r.request(ctx, spec)
	if err != nil {
		return spec, err
	}
	resp, err := r.hosts.DefineHost(ctx, info, req)
	if err != nil {
		return spec, err
	}
	spec.ConnectivityType = resp.ConnectivityType
	spec.Ports = resp.Ports
	spec.NodeNameOnStorage = resp.NodeNameOnStorage
	spec.ManagementAddress = resp.ManagementAddress
	return spec, nil
}

func (r *Reconciler) undefine(ctx context.Context, spec hostdefinition.Spec) error {
	info, req, err := r.request(ctx, spec)
	if err != nil {
		return err
	}
	_, err = r.hosts.UndefineHost(ctx, info, req)
	return err
}

func (r *Reconciler) event(hd *hostdefinition.HostDefinition, eventType, reason, format string, args ...interface{}) {
	if hd == nil || r.recorder == nil {
		return
	}
	r.recorder.Eventf(hd, eventType, reason, format, args...)
}

func (r *Reconciler) specFor(node ManagedNode, t target) hostdefinition.Spec {
	return hostdefinition.Spec{
		NodeName:        node.Name,
		NodeID:          node.NodeID,
		SecretName:      t.secretName,
		SecretNamespace: t.secretNamespace,
		SystemID:        t.systemID,
		IOGroup:         node.IOGroup,
	}
}

// createDefinition defines node on the storage of t and records the outcome in a HostDefinition.
func (r *Reconciler) createDefinition(ctx context.Context, node ManagedNode, t target) error {
	spec := r.specFor(node, t)
	if labels, err := k8sutils.GetNodeLabels(ctx, r.kube, node.Name); err == nil {
		spec.ConnectivityType = r.connectivityType(labels)
	}

	defined, err := r.define(ctx, spec)
	if err != nil {
		hd, applyErr := r.store.Apply(ctx, spec, hostdefinition.PhasePendingCreation)
		r.metrics.DefinitionPhase(string(hostdefinition.PhasePendingCreation))
		r.event(hd, corev1.EventTypeWarning, ReasonFailedToDefine, "failed to define host %s: %s", node.Name, err.Error())
		log.WithError(err).Warnf("failed to define node %s on %s", node.Name, secretKey(t.secretName, t.secretNamespace))
		return multierr.Append(err, applyErr)
	}

	hd, err := r.store.Apply(ctx, defined, hostdefinition.PhaseReady)
	if err != nil {
		return fmt.Errorf("node %s is defined but its host definition can't be saved: %w", node.Name, err)
	}
	r.metrics.DefinitionPhase(string(hostdefinition.PhaseReady))
	r.event(hd, corev1.EventTypeNormal, ReasonDefined, "host %s defined as %s", node.Name, defined.NodeNameOnStorage)
	log.Infof("node %s defined on %s as %s", node.Name, secretKey(t.secretName, t.secretNamespace), defined.NodeNameOnStorage)
	return nil
}

// deleteDefinition undefines the host of hd and removes hd.
func (r *Reconciler) deleteDefinition(ctx context.Context, hd *hostdefinition.HostDefinition) error {
	if err := r.undefine(ctx, hd.Spec); err != nil {
		updated, setErr := r.store.SetPhase(ctx, hd.Name, hostdefinition.PhasePendingDeletion)
		if updated == nil {
			updated = hd
		}
		r.metrics.DefinitionPhase(string(hostdefinition.PhasePendingDeletion))
		r.event(updated, corev1.EventTypeWarning, ReasonFailedToUndefine, "failed to undefine host %s: %s", hd.Spec.NodeName, err.Error())
		return multierr.Append(err, setErr)
	}
	if err := r.store.Delete(ctx, hd.Name); err != nil {
		return err
	}
	r.event(hd, corev1.EventTypeNormal, ReasonUndefined, "host %s undefined", hd.Spec.NodeName)
	log.Infof("node %s undefined from %s", hd.Spec.NodeName, secretKey(hd.Spec.SecretName, hd.Spec.SecretNamespace))
	return nil
}

// defineNodeOnAllStorages defines the managed node on every storage that admits it.
func (r *Reconciler) defineNodeOnAllStorages(ctx context.Context, nodeName string) error {
	r.mu.Lock()
	node, ok := r.nodes[nodeName]
	var (
		n       ManagedNode
		targets []target
	)
	if ok {
		n = *node
		targets = r.targetsFor(nodeName)
	}
	r.mu.Unlock()
	if !ok || n.NodeID == "" {
		return nil
	}

	var errs error
	for _, t := range targets {
		errs = multierr.Append(errs, r.createDefinition(ctx, n, t))
	}
	return errs
}

// defineNodesOnStorage defines every managed node admitted by the secret.
func (r *Reconciler) defineNodesOnStorage(ctx context.Context, name, namespace string) error {
	r.mu.Lock()
	s := r.managedSecret(name, namespace)
	var work []struct {
		node ManagedNode
		t    target
	}
	if s != nil && s.Active() {
		for _, node := range r.nodes {
			if node.NodeID == "" {
				continue
			}
			if id, ok := s.admits(node.Name); ok {
				work = append(work, struct {
					node ManagedNode
					t    target
				}{*node, target{secretName: name, secretNamespace: namespace, systemID: id}})
			}
		}
	}
	r.mu.Unlock()

	var errs error
	for _, w := range work {
		errs = multierr.Append(errs, r.createDefinition(ctx, w.node, w.t))
	}
	return errs
}

// undefineNodeDefinitions undefines every host of nodeName.
func (r *Reconciler) undefineNodeDefinitions(ctx context.Context, nodeName string) error {
	defs, err := r.store.ListForNode(ctx, nodeName)
	if err != nil {
		return err
	}
	var errs error
	for _, hd := range defs {
		errs = multierr.Append(errs, r.deleteDefinition(ctx, hd))
	}
	return errs
}

// eligibleForUndefine reports whether the node's hosts may be removed.
func (r *Reconciler) eligibleForUndefine(ctx context.Context, nodeName string) bool {
	if !r.cfg.AllowDelete {
		return false
	}
	labels, err := k8sutils.GetNodeLabels(ctx, r.kube, nodeName)
	if apierrors.IsNotFound(err) {
		return true
	}
	if err != nil {
		log.WithError(err).Warnf("can't read labels of node %s", nodeName)
		return false
	}
	if isTrue(labels, LabelDoNotDeleteDefinition) {
		return false
	}
	return r.cfg.DynamicNodeLabeling || isTrue(labels, LabelManageNode)
}
