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

// Package hostdefiner keeps the hosts defined on storage systems in line with the
// cluster nodes that run the driver.
package hostdefiner

import (
	"context"
	"sync"
	"time"

	"github.com/blockcsi/csi-block-driver/pkg/common"
	"github.com/blockcsi/csi-block-driver/pkg/gate"
	"github.com/blockcsi/csi-block-driver/pkg/hostdefinition"
	"github.com/blockcsi/csi-block-driver/pkg/metrics"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/client-go/kubernetes"
	typedv1core "k8s.io/client-go/kubernetes/typed/core/v1"
	"k8s.io/client-go/tools/record"
)

// Event reasons.
const (
	ReasonDefined              = "SuccessfullyDefined"
	ReasonUndefined            = "SuccessfullyUndefined"
	ReasonFailedToDefine       = "FailedToDefine"
	ReasonFailedToUndefine     = "FailedToUndefine"
	ReasonRetryBudgetExhausted = "RetryBudgetExhausted"
)

const categoryHostDefinition = "host_definition"

// Reconciler owns the managed nodes and secrets and reacts to cluster events.
type Reconciler struct {
	cfg      Config
	kube     kubernetes.Interface
	store    *hostdefinition.Store
	hosts    StorageHostManager
	recorder record.EventRecorder
	metrics  *metrics.Metrics
	inUse    *gate.Registry

	mu      sync.Mutex
	nodes   map[string]*ManagedNode
	secrets []*ManagedSecret

	// background holds retry loops and pod probes.
	background sync.WaitGroup
	sleep      func(ctx context.Context, d time.Duration) error
}

// Option customizes a Reconciler.
type Option func(*Reconciler)

// WithMetrics counts definition phases and retries on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Reconciler) { r.metrics = m }
}

// WithSleep replaces the wait used between retry attempts and pod probes.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(r *Reconciler) { r.sleep = sleep }
}

// NewReconciler returns a reconciler with empty managed sets.
func NewReconciler(cfg Config, kube kubernetes.Interface, store *hostdefinition.Store, hosts StorageHostManager,
	recorder record.EventRecorder, opts ...Option,
) *Reconciler {
	r := &Reconciler{
		cfg:      cfg,
		kube:     kube,
		store:    store,
		hosts:    hosts,
		recorder: recorder,
		inUse:    gate.NewRegistry(),
		nodes:    map[string]*ManagedNode{},
		sleep:    sleepContext,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// NewEventRecorder returns a recorder writing events through kube and the
// broadcaster to shut down on exit.
func NewEventRecorder(kube kubernetes.Interface) (record.EventRecorder, record.EventBroadcaster, error) {
	broadcaster := record.NewBroadcaster()
	broadcaster.StartRecordingToSink(&typedv1core.EventSinkImpl{Interface: kube.CoreV1().Events("")})

	scheme := runtime.NewScheme()
	if err := corev1.AddToScheme(scheme); err != nil {
		return nil, nil, err
	}
	return broadcaster.NewRecorder(scheme, corev1.EventSource{Component: common.Name + "-host-definer"}), broadcaster, nil
}

// Run starts the five watchers and blocks until ctx is done or one of them fails.
func (r *Reconciler) Run(ctx context.Context) error {
	log.Infof("starting host definer for %s", r.cfg.ProvisionerName)
	g, ctx := errgroup.WithContext(ctx)
	for _, s := range r.sources() {
		s := s
		g.Go(func() error { return r.watch(ctx, s) })
	}
	err := g.Wait()
	r.background.Wait()
	return err
}

// Wait blocks until background retry loops and probes are done.
func (r *Reconciler) Wait() {
	r.background.Wait()
}

func (r *Reconciler) goBackground(fn func()) {
	r.background.Add(1)
	go func() {
		defer r.background.Done()
		fn()
	}()
}
