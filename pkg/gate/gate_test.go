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

package gate

import (
	"runtime"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/blockcsi/csi-block-driver/pkg/array"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnterAndRelease(t *testing.T) {
	r := NewRegistry()

	release, err := r.Enter(CategoryName, "vol-a")
	require.NoError(t, err)
	assert.True(t, r.InUse(CategoryName, "vol-a"))

	_, err = r.Enter(CategoryName, "vol-a")
	assert.True(t, array.IsKind(err, array.ObjectAlreadyProcessing))
	assert.Contains(t, err.Error(), AlreadyProcessing)

	// same object under a different category is independent
	releaseID, err := r.Enter(CategoryVolumeID, "vol-a")
	require.NoError(t, err)
	releaseID()

	release()
	release()
	assert.False(t, r.InUse(CategoryName, "vol-a"))
	assert.Equal(t, 0, r.Len())

	release, err = r.Enter(CategoryName, "vol-a")
	require.NoError(t, err)
	release()
}

func TestConcurrentEnterAdmitsOne(t *testing.T) {
	r := NewRegistry()
	var admitted, rejected int32
	start := make(chan struct{})
	hold := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			release, err := r.Enter(CategoryName, "vol-c")
			if err != nil {
				atomic.AddInt32(&rejected, 1)
				return
			}
			atomic.AddInt32(&admitted, 1)
			<-hold
			release()
		}()
	}
	close(start)
	for atomic.LoadInt32(&admitted)+atomic.LoadInt32(&rejected) < 16 {
		runtime.Gosched()
	}
	close(hold)
	wg.Wait()
	assert.Equal(t, int32(1), admitted)
	assert.Equal(t, int32(15), rejected)
	assert.Equal(t, 0, r.Len())
}
