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

// Package objectid encodes the volume, snapshot and node identifiers exchanged with the container orchestrator.
package objectid

import (
	"strings"

	"github.com/blockcsi/csi-block-driver/pkg/array"
)

const (
	fieldSeparator = ":"
	idSeparator    = ";"
)

// IDs holds the backend identifiers of one object.
type IDs struct {
	InternalID string
	UID        string
}

// Info is a decoded object id.
type Info struct {
	ArrayType string
	SystemID  string
	IDs       IDs
}

// Encode renders arrayType[:systemID]:[internalID;]uid.
func Encode(arrayType, systemID string, ids IDs) string {
	var b strings.Builder
	b.WriteString(arrayType)
	if systemID != "" {
		b.WriteString(fieldSeparator)
		b.WriteString(systemID)
	}
	b.WriteString(fieldSeparator)
	if ids.InternalID != "" {
		b.WriteString(ids.InternalID)
		b.WriteString(idSeparator)
	}
	b.WriteString(ids.UID)
	return b.String()
}

// String is Encode applied to i.
func (i Info) String() string {
	return Encode(i.ArrayType, i.SystemID, i.IDs)
}

// Decode parses an id produced by Encode. Malformed ids fail with kind array.InvalidID.
func Decode(s string) (Info, error) {
	parts := strings.Split(s, fieldSeparator)
	var info Info
	switch len(parts) {
	case 2:
		info.ArrayType = parts[0]
	case 3:
		// an empty system segment ("arrayX::uid") is the same as no system
		info.ArrayType, info.SystemID = parts[0], parts[1]
	default:
		return Info{}, array.Errorf(array.InvalidID, "wrong object id format: %q", s)
	}

	ids := strings.Split(parts[len(parts)-1], idSeparator)
	switch len(ids) {
	case 1:
		info.IDs.UID = ids[0]
	case 2:
		info.IDs.InternalID, info.IDs.UID = ids[0], ids[1]
		if info.IDs.InternalID == "" {
			return Info{}, array.Errorf(array.InvalidID, "wrong object id format: %q", s)
		}
	default:
		return Info{}, array.Errorf(array.InvalidID, "wrong object id format: %q", s)
	}

	if info.ArrayType == "" || info.IDs.UID == "" {
		return Info{}, array.Errorf(array.InvalidID, "wrong object id format: %q", s)
	}
	return info, nil
}
