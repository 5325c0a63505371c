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
	"sort"
	"strings"

	"github.com/blockcsi/csi-block-driver/pkg/common/k8sutils"
	"github.com/blockcsi/csi-block-driver/pkg/hostdefinition"
	"github.com/blockcsi/csi-block-driver/pkg/secrets"
	log "github.com/sirupsen/logrus"
	corev1 "k8s.io/api/core/v1"
	storagev1 "k8s.io/api/storage/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/watch"
)

const (
	secretNameSuffix      = "secret-name"
	secretNamespaceSuffix = "secret-namespace"
)

type secretRef struct {
	name      string
	namespace string
}

// secretRefs pairs every "...secret-name" parameter with its "...secret-namespace" sibling.
// A secret referenced by several keys is returned once.
func secretRefs(params map[string]string) []secretRef {
	seen := map[secretRef]bool{}
	var refs []secretRef
	for k, v := range params {
		if !strings.HasSuffix(k, secretNameSuffix) || v == "" {
			continue
		}
		ns := params[strings.TrimSuffix(k, secretNameSuffix)+secretNamespaceSuffix]
		if ns == "" {
			continue
		}
		ref := secretRef{name: v, namespace: ns}
		if !seen[ref] {
			seen[ref] = true
			refs = append(refs, ref)
		}
	}
	sort.Slice(refs, func(i, j int) bool {
		if refs[i].namespace != refs[j].namespace {
			return refs[i].namespace < refs[j].namespace
		}
		return refs[i].name < refs[j].name
	})
	return refs
}

func driverNodeID(csiNode *storagev1.CSINode, provisioner string) (string, bool) {
	for _, d := range csiNode.Spec.Drivers {
		if d.Name == provisioner {
			return d.NodeID, true
		}
	}
	return "", false
}

func (r *Reconciler) csiNodeDriver(ctx context.Context, nodeName string) (string, bool) {
	csiNode, err := r.kube.StorageV1().CSINodes().Get(ctx, nodeName, metav1.GetOptions{})
	if err != nil {
		return "", false
	}
	return driverNodeID(csiNode, r.cfg.ProvisionerName)
}

// HandleCSINode reacts to driver registration changes.
func (r *Reconciler) HandleCSINode(ctx context.Context, ev watch.Event) {
	csiNode, ok := ev.Object.(*storagev1.CSINode)
	if !ok {
		return
	}
	switch ev.Type {
	case watch.Added, watch.Modified:
		if nodeID, present := driverNodeID(csiNode, r.cfg.ProvisionerName); present {
			r.onDriverPresent(ctx, csiNode.Name, nodeID)
		} else if ev.Type == watch.Modified {
			r.onDriverGone(ctx, csiNode.Name)
		}
	case watch.Deleted:
		r.onDriverGone(ctx, csiNode.Name)
	}
}

func (r *Reconciler) onDriverPresent(ctx context.Context, nodeName, nodeID string) {
	r.mu.Lock()
	existing, managed := r.nodes[nodeName]
	changed := managed && existing.NodeID != nodeID
	if changed {
		existing.NodeID = nodeID
	}
	r.mu.Unlock()

	if managed {
		if changed {
			log.Infof("node id of %s changed to %s, redefining", nodeName, nodeID)
			r.logErr(r.defineNodeOnAllStorages(ctx, nodeName), "redefine node %s", nodeName)
		}
		return
	}

	labels, err := k8sutils.GetNodeLabels(ctx, r.kube, nodeName)
	if err != nil {
		log.WithError(err).Warnf("can't read labels of node %s", nodeName)
		return
	}
	if !isTrue(labels, LabelManageNode) {
		if !r.cfg.DynamicNodeLabeling {
			return
		}
		value := labelTrue
		if err := k8sutils.SetNodeLabel(ctx, r.kube, nodeName, LabelManageNode, &value); err != nil {
			log.WithError(err).Warnf("can't label node %s", nodeName)
		}
	}

	topology := topologyLabels(labels)
	r.mu.Lock()
	r.nodes[nodeName] = &ManagedNode{Name: nodeName, NodeID: nodeID, IOGroup: ioGroup(labels)}
	for _, s := range r.secrets {
		if s.Active() {
			s.place(nodeName, topology)
		}
	}
	r.mu.Unlock()

	log.Infof("managing node %s", nodeName)
	r.logErr(r.defineNodeOnAllStorages(ctx, nodeName), "define node %s", nodeName)
}

func (r *Reconciler) onDriverGone(ctx context.Context, nodeName string) {
	r.mu.Lock()
	_, managed := r.nodes[nodeName]
	r.mu.Unlock()
	if !managed {
		return
	}
	r.goBackground(func() {
		if r.podPartOfUpdate(ctx, nodeName) {
			log.Infof("driver pod on %s is being replaced, keeping its hosts", nodeName)
			return
		}
		r.releaseNode(ctx, nodeName)
	})
}

// releaseNode undefines the node when allowed and stops managing it.
func (r *Reconciler) releaseNode(ctx context.Context, nodeName string) {
	if r.eligibleForUndefine(ctx, nodeName) {
		r.logErr(r.undefineNodeDefinitions(ctx, nodeName), "undefine node %s", nodeName)
		err := k8sutils.SetNodeLabel(ctx, r.kube, nodeName, LabelManageNode, nil)
		if err != nil && !apierrors.IsNotFound(err) {
			log.WithError(err).Warnf("can't remove %s from node %s", LabelManageNode, nodeName)
		}
	}
	r.mu.Lock()
	delete(r.nodes, nodeName)
	for _, s := range r.secrets {
		delete(s.NodesWithSystemID, nodeName)
	}
	r.mu.Unlock()
}

// HandleNode follows topology and io group label changes of managed nodes.
func (r *Reconciler) HandleNode(ctx context.Context, ev watch.Event) {
	node, ok := ev.Object.(*corev1.Node)
	if !ok {
		return
	}
	switch ev.Type {
	case watch.Added:
		r.mu.Lock()
		_, managed := r.nodes[node.Name]
		r.mu.Unlock()
		if managed || !isTrue(node.Labels, LabelManageNode) {
			return
		}
		if _, present := r.csiNodeDriver(ctx, node.Name); !present && r.cfg.AllowDelete {
			// the driver left while the reconciler was down
			if r.eligibleForUndefine(ctx, node.Name) {
				r.logErr(r.undefineNodeDefinitions(ctx, node.Name), "undefine node %s", node.Name)
			}
		}
	case watch.Modified:
		r.onNodeModified(ctx, node)
	}
}

func (r *Reconciler) onNodeModified(ctx context.Context, node *corev1.Node) {
	r.mu.Lock()
	managed, ok := r.nodes[node.Name]
	if !ok {
		r.mu.Unlock()
		if !r.cfg.DynamicNodeLabeling && isTrue(node.Labels, LabelManageNode) {
			if nodeID, present := r.csiNodeDriver(ctx, node.Name); present {
				r.onDriverPresent(ctx, node.Name, nodeID)
			}
		}
		return
	}

	topology := topologyLabels(node.Labels)
	var moved []target
	for _, s := range r.secrets {
		if !s.Active() {
			continue
		}
		if id, changed := s.place(node.Name, topology); changed && id != "" {
			moved = append(moved, target{secretName: s.Name, secretNamespace: s.Namespace, systemID: id})
		}
	}
	group := ioGroup(node.Labels)
	ioChanged := group != managed.IOGroup
	managed.IOGroup = group
	snapshot := *managed
	r.mu.Unlock()

	if ioChanged {
		log.Infof("io group of %s changed to %q, redefining", node.Name, group)
		r.logErr(r.defineNodeOnAllStorages(ctx, node.Name), "redefine node %s", node.Name)
		return
	}
	if snapshot.NodeID == "" {
		return
	}
	for _, t := range moved {
		r.logErr(r.createDefinition(ctx, snapshot, t), "define node %s", node.Name)
	}
}

// HandleSecret re-reads the topology of a managed secret and redefines its nodes.
func (r *Reconciler) HandleSecret(ctx context.Context, ev watch.Event) {
	secret, ok := ev.Object.(*corev1.Secret)
	if !ok || ev.Type != watch.Modified {
		return
	}
	r.mu.Lock()
	s := r.managedSecret(secret.Name, secret.Namespace)
	active := s != nil && s.Active()
	r.mu.Unlock()
	if !active {
		return
	}
	decoded, err := secrets.Parse(secretData(secret))
	if err != nil {
		log.WithError(err).Warnf("can't decode secret %s", secretKey(secret.Name, secret.Namespace))
		return
	}
	r.refreshSecret(ctx, secret.Name, secret.Namespace, decoded)
	r.logErr(r.defineNodesOnStorage(ctx, secret.Name, secret.Namespace), "define nodes on %s", secretKey(secret.Name, secret.Namespace))
}

// refreshSecret stores decoded and places every managed node on one of its systems.
func (r *Reconciler) refreshSecret(ctx context.Context, name, namespace string, decoded *secrets.Secret) {
	r.mu.Lock()
	nodeNames := make([]string, 0, len(r.nodes))
	for n := range r.nodes {
		nodeNames = append(nodeNames, n)
	}
	r.mu.Unlock()

	topologies := make(map[string]map[string]string, len(nodeNames))
	if decoded.MultiSystem() {
		for _, n := range nodeNames {
			labels, err := k8sutils.GetNodeLabels(ctx, r.kube, n)
			if err != nil {
				log.WithError(err).Warnf("can't read labels of node %s", n)
				continue
			}
			topologies[n] = topologyLabels(labels)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.managedSecret(name, namespace)
	if s == nil {
		return
	}
	s.setDecoded(decoded)
	for n, topology := range topologies {
		s.place(n, topology)
	}
}

// HandleStorageClass tracks the storage classes referencing each secret. Replayed
// ADDED events of a storage class already known are no-ops.
func (r *Reconciler) HandleStorageClass(ctx context.Context, ev watch.Event) {
	sc, ok := ev.Object.(*storagev1.StorageClass)
	if !ok || sc.Provisioner != r.cfg.ProvisionerName {
		return
	}
	switch ev.Type {
	case watch.Added:
		for _, ref := range secretRefs(sc.Parameters) {
			if !r.addSecretReference(ref, sc.Name) {
				continue
			}
			decoded, err := r.readSecret(ctx, ref.name, ref.namespace)
			if err != nil {
				log.WithError(err).Warnf("can't read secret %s", secretKey(ref.name, ref.namespace))
			} else {
				r.refreshSecret(ctx, ref.name, ref.namespace, decoded)
			}
			r.logErr(r.defineNodesOnStorage(ctx, ref.name, ref.namespace), "define nodes on %s", secretKey(ref.name, ref.namespace))
		}
	case watch.Deleted:
		r.mu.Lock()
		for _, ref := range secretRefs(sc.Parameters) {
			if s := r.managedSecret(ref.name, ref.namespace); s != nil {
				s.release(sc.Name)
			}
		}
		r.mu.Unlock()
	}
}

// addSecretReference records that storage class scName uses ref and reports
// whether the secret just gained its first storage class.
func (r *Reconciler) addSecretReference(ref secretRef, scName string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.managedSecret(ref.name, ref.namespace)
	if s == nil {
		s = &ManagedSecret{
			Name:                ref.name,
			Namespace:           ref.namespace,
			NodesWithSystemID:   map[string]string{},
			SystemIDsTopologies: map[string][]map[string]string{},
		}
		r.secrets = append(r.secrets, s)
	}
	return s.reference(scName)
}

// resyncStorageClasses drops references of storage classes missing from a fresh
// list, which were deleted while no watch was running.
func (r *Reconciler) resyncStorageClasses(objs []runtime.Object) {
	listed := map[string]map[string]bool{}
	for _, obj := range objs {
		sc, ok := obj.(*storagev1.StorageClass)
		if !ok || sc.Provisioner != r.cfg.ProvisionerName {
			continue
		}
		for _, ref := range secretRefs(sc.Parameters) {
			key := secretKey(ref.name, ref.namespace)
			if listed[key] == nil {
				listed[key] = map[string]bool{}
			}
			listed[key][sc.Name] = true
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.secrets {
		for name := range s.storageClasses {
			if !listed[s.Key()][name] {
				log.Infof("storage class %s referencing %s is gone", name, s.Key())
				s.release(name)
			}
		}
	}
}

// HandleHostDefinition starts the retry loop of pending definitions.
func (r *Reconciler) HandleHostDefinition(ctx context.Context, ev watch.Event) {
	if ev.Type == watch.Deleted {
		return
	}
	u, ok := ev.Object.(*unstructured.Unstructured)
	if !ok {
		return
	}
	hd, err := hostdefinition.FromUnstructured(u)
	if err != nil {
		log.WithError(err).Warn("can't decode host definition")
		return
	}
	if hd.DeletionTimestamp == nil && hd.Status.Phase.IsPending() {
		r.startRetry(ctx, hd.Name)
	}
}

func (r *Reconciler) logErr(err error, format string, args ...interface{}) {
	if err != nil {
		log.WithError(err).Warnf("failed to "+format, args...)
	}
}
