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

// Package parameters merges storage-class parameters with their per-system overrides.
package parameters

import (
	"strconv"
	"strings"

	"github.com/blockcsi/csi-block-driver/pkg/array"
	"gopkg.in/yaml.v3"
)

// Parameter keys.
const (
	KeyPool               = "pool"
	KeySpaceEfficiency    = "SpaceEfficiency"
	KeyVolumeNamePrefix   = "volume_name_prefix"
	KeySnapshotNamePrefix = "snapshot_name_prefix"
	KeyIOGroup            = "io_group"
	KeyVolumeGroup        = "volume_group"
	KeyVirtSnapFunc       = "virt_snap_func"
	KeyBySystemID         = "by_system_id"
	KeySystemID           = "system_id"
	KeyReplicationType    = "replication_type"
	KeyCopyType           = "copy_type"
	KeyReplicationPolicy  = "replication_policy"
	KeyFenceToken         = "fenceToken"
	KeyUnfenceToken       = "unfenceToken"
)

// ObjectParameters are the request-scoped storage parameters.
type ObjectParameters struct {
	Pool            string
	SpaceEfficiency string
	Prefix          string
	IOGroup         string
	VolumeGroup     string
	VirtSnapFunc    bool
}

// ForVolume resolves volume parameters for systemID.
func ForVolume(params map[string]string, systemID string) (ObjectParameters, error) {
	return resolve(params, systemID, KeyVolumeNamePrefix)
}

// ForSnapshot resolves snapshot parameters for systemID.
func ForSnapshot(params map[string]string, systemID string) (ObjectParameters, error) {
	return resolve(params, systemID, KeySnapshotNamePrefix)
}

func resolve(params map[string]string, systemID, prefixKey string) (ObjectParameters, error) {
	merged := make(map[string]string, len(params))
	for k, v := range params {
		merged[k] = v
	}
	if systemID != "" {
		perSystem, err := BySystemID(params)
		if err != nil {
			return ObjectParameters{}, err
		}
		for k, v := range perSystem[systemID] {
			merged[k] = v
		}
	}

	virt, err := parseBool(merged[KeyVirtSnapFunc])
	if err != nil {
		return ObjectParameters{}, array.Wrap(array.InvalidArgument, err, "invalid %s", KeyVirtSnapFunc)
	}
	return ObjectParameters{
		Pool:            merged[KeyPool],
		SpaceEfficiency: strings.ToLower(merged[KeySpaceEfficiency]),
		Prefix:          merged[prefixKey],
		IOGroup:         merged[KeyIOGroup],
		VolumeGroup:     merged[KeyVolumeGroup],
		VirtSnapFunc:    virt,
	}, nil
}

// BySystemID decodes the by_system_id parameter, a JSON object of per-system overrides.
func BySystemID(params map[string]string) (map[string]map[string]string, error) {
	raw := strings.TrimSpace(params[KeyBySystemID])
	if raw == "" {
		return nil, nil
	}
	out := map[string]map[string]string{}
	if err := yaml.Unmarshal([]byte(raw), &out); err != nil {
		return nil, array.Wrap(array.InvalidArgument, err, "invalid %s parameter", KeyBySystemID)
	}
	return out, nil
}

func parseBool(v string) (bool, error) {
	if v == "" {
		return false, nil
	}
	return strconv.ParseBool(strings.TrimSpace(v))
}
