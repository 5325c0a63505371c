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
	"time"

	log "github.com/sirupsen/logrus"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/fields"
)

const probeInterval = time.Second

// nodePodPresent reports whether a driver node pod is scheduled on nodeName.
func (r *Reconciler) nodePodPresent(ctx context.Context, nodeName string) bool {
	pods, err := r.kube.CoreV1().Pods(metav1.NamespaceAll).List(ctx, metav1.ListOptions{
		LabelSelector: r.cfg.NodePodSelector,
		FieldSelector: fields.OneTermEqualSelector("spec.nodeName", nodeName).String(),
	})
	if err != nil {
		log.WithError(err).Warnf("can't list driver pods on node %s", nodeName)
		return false
	}
	for _, pod := range pods.Items {
		if pod.Spec.NodeName == nodeName {
			return true
		}
	}
	return false
}

// podPartOfUpdate probes the node once per tick and reports whether a driver pod
// was present on every tick of the last contiguous run, which means the driver is
// being restarted rather than removed.
func (r *Reconciler) podPartOfUpdate(ctx context.Context, nodeName string) bool {
	ticks := r.cfg.SecondsToCheckPodPhase
	if ticks <= 0 {
		return false
	}
	run := 0
	for i := 0; i < ticks; i++ {
		if r.nodePodPresent(ctx, nodeName) {
			run++
		} else {
			run = 0
		}
		if i < ticks-1 {
			if err := r.sleep(ctx, probeInterval); err != nil {
				return false
			}
		}
	}
	return run == ticks
}
