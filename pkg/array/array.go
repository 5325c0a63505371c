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

// Package array provides the storage mediator abstraction and a pooled registry of mediator handles.
package array

import (
	"context"
	"fmt"
	"strings"
	"sync"

	log "github.com/sirupsen/logrus"
	"go.uber.org/multierr"
	"golang.org/x/sync/semaphore"
)

// DefaultConnectionLimit bounds concurrently leased mediators per registry key.
const DefaultConnectionLimit = 10

// Factory creates a mediator connected to the system described by info.
type Factory func(ctx context.Context, info ConnectionInfo) (Mediator, error)

// Detector reports whether the system described by info is of this variant.
type Detector func(ctx context.Context, info ConnectionInfo) bool

// Variant binds an array type to its detection probe and factory.
type Variant struct {
	ArrayType string
	Detect    Detector
	New       Factory
}

type agentKey struct {
	endpoints string
	user      string
	systemID  string
}

func keyOf(info ConnectionInfo) agentKey {
	return agentKey{
		endpoints: strings.Join(info.ArrayAddresses, ","),
		user:      info.User,
		systemID:  info.SystemID,
	}
}

// Registry shares mediator handles per (endpoints, user, system id).
type Registry struct {
	mu       sync.Mutex
	variants []Variant
	agents   map[agentKey]*Agent
	detected map[string]string
	limit    int64
}

// NewRegistry returns a registry with at most limit leased handles per key.
func NewRegistry(limit int, variants ...Variant) *Registry {
	if limit <= 0 {
		limit = DefaultConnectionLimit
	}
	return &Registry{
		variants: variants,
		agents:   map[agentKey]*Agent{},
		detected: map[string]string{},
		limit:    int64(limit),
	}
}

// Register adds a variant after the ones already known.
func (r *Registry) Register(v Variant) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.variants = append(r.variants, v)
}

func (r *Registry) variant(arrayType string) (Variant, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, v := range r.variants {
		if v.ArrayType == arrayType {
			return v, true
		}
	}
	return Variant{}, false
}

// DetectArrayType probes the first endpoint with each variant in registration order.
func (r *Registry) DetectArrayType(ctx context.Context, info ConnectionInfo) (string, error) {
	if len(info.ArrayAddresses) == 0 {
		return "", Errorf(InvalidArgument, "no array address given")
	}
	endpoints := strings.Join(info.ArrayAddresses, ",")

	r.mu.Lock()
	if t, ok := r.detected[endpoints]; ok {
		r.mu.Unlock()
		return t, nil
	}
	variants := append([]Variant(nil), r.variants...)
	r.mu.Unlock()

	probe := info
	probe.ArrayAddresses = info.ArrayAddresses[:1]
	for _, v := range variants {
		if v.Detect != nil && v.Detect(ctx, probe) {
			log.WithFields(log.Fields{"endpoints": endpoints, "arrayType": v.ArrayType}).Debug("detected array type")
			r.mu.Lock()
			r.detected[endpoints] = v.ArrayType
			r.mu.Unlock()
			return v.ArrayType, nil
		}
	}
	return "", Errorf(InvalidArgument, "could not detect array type of %s", info.ArrayAddresses[0])
}

// Get returns the agent for info, detecting the array type when arrayType is empty.
func (r *Registry) Get(ctx context.Context, info ConnectionInfo, arrayType string) (*Agent, error) {
	if arrayType == "" {
		t, err := r.DetectArrayType(ctx, info)
		if err != nil {
			return nil, err
		}
		arrayType = t
	}
	v, ok := r.variant(arrayType)
	if !ok {
		return nil, Errorf(InvalidArgument, "unsupported array type %q", arrayType)
	}

	key := keyOf(info)
	r.mu.Lock()
	defer r.mu.Unlock()
	if a, ok := r.agents[key]; ok {
		if a.info.Password == info.Password && a.arrayType == arrayType {
			return a, nil
		}
		// credentials rotated; drop the stale pool
		go func() { _ = a.close() }()
	}
	a := &Agent{
		info:      info,
		arrayType: arrayType,
		factory:   v.New,
		sem:       semaphore.NewWeighted(r.limit),
	}
	r.agents[key] = a
	return a, nil
}

// WithMediator leases a mediator for the duration of fn.
func (r *Registry) WithMediator(ctx context.Context, info ConnectionInfo, arrayType string, fn func(Mediator) error) error {
	agent, err := r.Get(ctx, info, arrayType)
	if err != nil {
		return err
	}
	m, release, err := agent.Acquire(ctx)
	if err != nil {
		return err
	}
	defer release()
	return fn(m)
}

// Close disconnects every pooled mediator.
func (r *Registry) Close() error {
	r.mu.Lock()
	agents := r.agents
	r.agents = map[agentKey]*Agent{}
	r.mu.Unlock()

	var err error
	for _, a := range agents {
		err = multierr.Append(err, a.close())
	}
	return err
}

// Agent pools mediators for one registry key.
type Agent struct {
	info      ConnectionInfo
	arrayType string
	factory   Factory
	sem       *semaphore.Weighted

	mu     sync.Mutex
	idle   []Mediator
	closed bool
}

// ArrayType of the pooled mediators.
func (a *Agent) ArrayType() string {
	return a.arrayType
}

// Acquire leases a mediator, blocking while the key is at its connection limit.
// The returned release func must be called exactly once.
func (a *Agent) Acquire(ctx context.Context) (Mediator, func(), error) {
	if err := a.sem.Acquire(ctx, 1); err != nil {
		return nil, nil, fmt.Errorf("waiting for a connection to %s: %w", strings.Join(a.info.ArrayAddresses, ","), err)
	}

	a.mu.Lock()
	var m Mediator
	if n := len(a.idle); n > 0 {
		m = a.idle[n-1]
		a.idle = a.idle[:n-1]
	}
	a.mu.Unlock()

	if m == nil {
		var err error
		m, err = a.factory(ctx, a.info)
		if err != nil {
			a.sem.Release(1)
			return nil, nil, err
		}
	}

	var once sync.Once
	release := func() {
		once.Do(func() {
			a.mu.Lock()
			if a.closed {
				a.mu.Unlock()
				if err := m.Disconnect(); err != nil {
					log.Debugf("disconnect of released mediator failed: %v", err)
				}
			} else {
				a.idle = append(a.idle, m)
				a.mu.Unlock()
			}
			a.sem.Release(1)
		})
	}
	return m, release, nil
}

func (a *Agent) close() error {
	a.mu.Lock()
	idle := a.idle
	a.idle = nil
	a.closed = true
	a.mu.Unlock()

	var err error
	for _, m := range idle {
		err = multierr.Append(err, m.Disconnect())
	}
	return err
}
