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

// Package metrics holds the Prometheus collectors shared by the driver processes.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
)

const namespace = "block_csi"

// Metrics groups the collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	gateRejections *prometheus.CounterVec
	definitions    *prometheus.CounterVec
	retryAttempts  *prometheus.CounterVec
	backendCalls   *prometheus.HistogramVec
}

// New creates the collectors and registers them on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		gateRejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gate_rejections_total",
			Help:      "Requests rejected because the same object was already being processed.",
		}, []string{"category"}),
		definitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "host_definitions_total",
			Help:      "Host definition transitions by resulting phase.",
		}, []string{"phase"}),
		retryAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "host_definition_retries_total",
			Help:      "Pending host definition retry attempts by outcome.",
		}, []string{"outcome"}),
		backendCalls: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "rpc_duration_seconds",
			Help:      "Duration of gRPC calls handled by the driver.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "code"}),
	}
	m.registry.MustRegister(
		m.gateRejections,
		m.definitions,
		m.retryAttempts,
		m.backendCalls,
		prometheus.NewGoCollector(),
	)
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// GateRejected counts a rejected request for category.
func (m *Metrics) GateRejected(category string) {
	if m == nil {
		return
	}
	m.gateRejections.WithLabelValues(category).Inc()
}

// DefinitionPhase counts a host definition reaching phase.
func (m *Metrics) DefinitionPhase(phase string) {
	if m == nil {
		return
	}
	m.definitions.WithLabelValues(phase).Inc()
}

// RetryAttempt counts a pending retry attempt; outcome is "success", "failure" or "skipped".
func (m *Metrics) RetryAttempt(outcome string) {
	if m == nil {
		return
	}
	m.retryAttempts.WithLabelValues(outcome).Inc()
}

// ObserveRPC records the duration of one gRPC call.
func (m *Metrics) ObserveRPC(method, code string, d time.Duration) {
	if m == nil {
		return
	}
	m.backendCalls.WithLabelValues(method, code).Observe(d.Seconds())
}

// Serve exposes /metrics on addr until ctx is done.
func (m *Metrics) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		<-ctx.Done()
		_ = srv.Close()
	}()

	log.Infof("serving metrics on %s", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
