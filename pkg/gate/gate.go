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

// Package gate rejects concurrent operations on the same logical object.
package gate

import (
	"sync"

	"github.com/akutz/gosync"
	"github.com/blockcsi/csi-block-driver/pkg/array"
)

// Lock categories used by the controller services.
const (
	CategoryName          = "name"
	CategoryVolumeID      = "volume_id"
	CategorySnapshotID    = "snapshot_id"
	CategoryVolumeGroupID = "volume_group_id"
	CategoryFenceToken    = "parameters.fenceToken"
)

// AlreadyProcessing is the message returned for a busy key.
const AlreadyProcessing = "object already processing"

type key struct {
	category string
	object   string
}

// Registry holds the keys of in-flight operations.
type Registry struct {
	mu    sync.Mutex
	locks map[key]gosync.TryLocker
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{locks: map[key]gosync.TryLocker{}}
}

// Enter claims (category, object) without waiting. The returned func releases
// the claim and must be called exactly once.
func (r *Registry) Enter(category, object string) (func(), error) {
	k := key{category: category, object: object}

	r.mu.Lock()
	defer r.mu.Unlock()
	lock, ok := r.locks[k]
	if !ok {
		lock = &gosync.TryMutex{}
		r.locks[k] = lock
	}
	if !lock.TryLock(0) {
		return nil, array.Errorf(array.ObjectAlreadyProcessing, "%s: %s %s", AlreadyProcessing, category, object)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			lock.Unlock()
			delete(r.locks, k)
		})
	}, nil
}

// InUse reports whether (category, object) is currently claimed.
func (r *Registry) InUse(category, object string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.locks[key{category: category, object: object}]
	return ok
}

// Len is the number of claimed keys.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.locks)
}
