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

package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBuildInfoDefaults(t *testing.T) {
	assert.Equal(t, "unknown", SemVer)
	assert.Empty(t, CommitSha7)
	assert.Empty(t, CommitSha32)
	assert.True(t, CommitTime.IsZero())
}

func TestBuildInfoOverride(t *testing.T) {
	saved := SemVer
	defer func() { SemVer = saved }()

	SemVer = "1.2.0"
	CommitTime = time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	defer func() { CommitTime = time.Time{} }()

	assert.Equal(t, "1.2.0", SemVer)
	assert.False(t, CommitTime.IsZero())
}
