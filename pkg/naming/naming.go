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

// Package naming derives on-array object names from request names.
package naming

import (
	"crypto/sha256"

	"github.com/blockcsi/csi-block-driver/pkg/array"
	"github.com/mr-tron/base58"
)

// Separator joins a prefix and a name.
const Separator = "_"

// Limits is the part of a mediator the shaper needs.
type Limits interface {
	MaxObjectNameLength() int
	MaxObjectPrefixLength() int
	DefaultObjectPrefix() string
}

// Shape returns the final object name for name under prefix.
// The result never exceeds limits.MaxObjectNameLength(); when the plain join is too long the
// name part is replaced by the base58 SHA-256 of name and the result is cut at the cap.
func Shape(prefix, name string, limits Limits) (string, error) {
	if prefix != "" && len(prefix) > limits.MaxObjectPrefixLength() {
		return "", array.Errorf(array.InvalidArgument,
			"prefix %q is too long, max allowed length is %d", prefix, limits.MaxObjectPrefixLength())
	}
	if prefix == "" {
		prefix = limits.DefaultObjectPrefix()
	}
	return Fit(prefix, name, limits.MaxObjectNameLength()), nil
}

// Fit joins prefix and name and hashes name when the join is longer than maxLen.
func Fit(prefix, name string, maxLen int) string {
	full := join(prefix, name)
	if maxLen <= 0 || len(full) <= maxLen {
		return full
	}
	full = join(prefix, Hash(name))
	if len(full) > maxLen {
		full = full[:maxLen]
	}
	return full
}

// Hash is the base58 encoding of the SHA-256 of s.
func Hash(s string) string {
	sum := sha256.Sum256([]byte(s))
	return base58.Encode(sum[:])
}

func join(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return prefix + Separator + name
}
