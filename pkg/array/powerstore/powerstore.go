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

// Package powerstore is the PowerStore mediator. PowerStore has no pools: the pool
// parameter names the appliance a volume is placed on.
package powerstore

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/blockcsi/csi-block-driver/core"
	"github.com/blockcsi/csi-block-driver/pkg/array"
	"github.com/blockcsi/csi-block-driver/pkg/common"
	"github.com/dell/gopowerstore"
	log "github.com/sirupsen/logrus"
)

// ArrayType is the identifier encoded in object ids.
const ArrayType = "powerstore"

const (
	maxObjectNameLength   = 128
	maxObjectPrefixLength = 20
	defaultObjectPrefix   = "csi"
	minVolumeSize         = 1 << 20
	maxVolumeSize         = 256 << 40

	// SpaceEfficiencyThin is the only provisioning PowerStore offers
	SpaceEfficiencyThin = "thin"

	stateReady = "Ready"
)

// Variant registers the PowerStore mediator with an array registry.
func Variant() array.Variant {
	return array.Variant{ArrayType: ArrayType, Detect: Detect, New: New}
}

// Mediator implements array.Mediator on a gopowerstore client.
type Mediator struct {
	client gopowerstore.Client
}

func endpoint(address string) string {
	if strings.Contains(address, "://") {
		return address
	}
	return fmt.Sprintf("https://%s/api/rest", address)
}

func newClient(ctx context.Context, info array.ConnectionInfo) (gopowerstore.Client, error) {
	if len(info.ArrayAddresses) == 0 {
		return nil, array.Errorf(array.InvalidArgument, "no array address given")
	}
	clientOptions := gopowerstore.NewClientOptions()
	clientOptions.SetInsecure(common.EnvBool(ctx, common.EnvArrayInsecure, true))
	if rateLimit := common.EnvInt(ctx, common.EnvThrottlingRateLimit, 0); rateLimit > 0 {
		clientOptions.SetRateLimit(rateLimit)
	}

	c, err := gopowerstore.NewClientWithArgs(endpoint(info.ArrayAddresses[0]), info.User, info.Password, clientOptions)
	if err != nil {
		return nil, array.Wrap(array.CredentialsError, err, "unable to create PowerStore client")
	}
	c.SetCustomHTTPHeaders(http.Header{
		"Application-Type": {fmt.Sprintf("%s/%s", common.VerboseName, core.SemVer)},
	})
	c.SetLogger(&common.CustomLogger{})
	return c, nil
}

// Detect reports whether the first address answers the PowerStore cluster API.
func Detect(ctx context.Context, info array.ConnectionInfo) bool {
	c, err := newClient(ctx, info)
	if err != nil {
		return false
	}
	if _, err := c.GetCluster(ctx); err != nil {
		log.Debugf("%s is not a PowerStore: %s", info.ArrayAddresses[0], err.Error())
		return false
	}
	return true
}

// New connects to the array and checks the credentials.
func New(ctx context.Context, info array.ConnectionInfo) (array.Mediator, error) {
	c, err := newClient(ctx, info)
	if err != nil {
		return nil, err
	}
	if _, err := c.GetCluster(ctx); err != nil {
		return nil, translate(err, array.CredentialsError, "can't connect to %s", info.ArrayAddresses[0])
	}
	return NewWithClient(c), nil
}

// NewWithClient wraps an existing client.
func NewWithClient(c gopowerstore.Client) *Mediator {
	return &Mediator{client: c}
}

// translate classifies gopowerstore errors; fallback is used for anything unrecognized.
func translate(err error, fallback array.Kind, format string, args ...interface{}) error {
	if apiErr, ok := err.(gopowerstore.APIError); ok && apiErr.ErrorMsg != nil {
		switch {
		case apiErr.NotFound():
			return array.Wrap(array.ObjectNotFound, err, format, args...)
		case apiErr.StatusCode == http.StatusUnauthorized:
			return array.Wrap(array.CredentialsError, err, format, args...)
		case apiErr.StatusCode == http.StatusForbidden:
			return array.Wrap(array.PermissionDenied, err, format, args...)
		case apiErr.VolumeNameIsAlreadyUse():
			return array.Wrap(array.ObjectAlreadyExists, err, format, args...)
		}
	}
	return array.Wrap(fallback, err, format, args...)
}

func isNotFound(err error) bool {
	apiErr, ok := err.(gopowerstore.APIError)
	return ok && apiErr.ErrorMsg != nil && apiErr.NotFound()
}

// Identifier of the variant
func (m *Mediator) Identifier() string { return ArrayType }

// MaxObjectNameLength of volume, snapshot and host names
func (m *Mediator) MaxObjectNameLength() int { return maxObjectNameLength }

// MaxObjectPrefixLength of user supplied prefixes
func (m *Mediator) MaxObjectPrefixLength() int { return maxObjectPrefixLength }

// DefaultObjectPrefix is used when the storage class sets none
func (m *Mediator) DefaultObjectPrefix() string { return defaultObjectPrefix }

// MinimalVolumeSizeInBytes is the size used for requests without a size
func (m *Mediator) MinimalVolumeSizeInBytes() int64 { return minVolumeSize }

// MaximalVolumeSizeInBytes is the largest volume PowerStore creates
func (m *Mediator) MaximalVolumeSizeInBytes() int64 { return maxVolumeSize }

func toVolume(v gopowerstore.Volume) *array.Volume {
	return &array.Volume{
		ID:                     v.ID,
		Name:                   v.Name,
		CapacityBytes:          v.Size,
		Pool:                   v.ApplianceID,
		ArrayType:              ArrayType,
		SpaceEfficiencyAliases: []string{SpaceEfficiencyThin},
		SourceID:               v.ProtectionData.SourceID,
		DefaultSpaceEfficiency: SpaceEfficiencyThin,
	}
}

func toSnapshot(v gopowerstore.Volume) *array.Snapshot {
	return &array.Snapshot{
		ID:            v.ID,
		Name:          v.Name,
		SourceID:      v.ProtectionData.SourceID,
		IsReady:       v.State == stateReady,
		CapacityBytes: v.Size,
		ArrayType:     ArrayType,
		Pool:          v.ApplianceID,
	}
}

func checkSpaceEfficiency(se string) error {
	if se != "" && !strings.EqualFold(se, SpaceEfficiencyThin) {
		return array.Errorf(array.SpaceEfficiencyMismatch, "space efficiency %q is not supported, PowerStore volumes are %s",
			se, SpaceEfficiencyThin)
	}
	return nil
}

// GetVolume looks a volume up by name.
func (m *Mediator) GetVolume(ctx context.Context, name, _ string, virtSnapFunc bool) (*array.Volume, bool, error) {
	if virtSnapFunc {
		return nil, false, array.Errorf(array.VirtSnapshotNotSupported, "virt_snap_func is not supported by %s", ArrayType)
	}
	v, err := m.client.GetVolumeByName(ctx, name)
	if err != nil {
		if isNotFound(err) {
			return nil, false, nil
		}
		return nil, false, translate(err, array.KindUnknown, "can't find volume %s", name)
	}
	return toVolume(v), true, nil
}

// GetVolumeByID looks a volume up by id.
func (m *Mediator) GetVolumeByID(ctx context.Context, id string) (*array.Volume, error) {
	v, err := m.client.GetVolume(ctx, id)
	if err != nil {
		return nil, translate(err, array.KindUnknown, "can't get volume %s", id)
	}
	return toVolume(v), nil
}

// CreateVolume creates a volume, cloning it from the source when one is given.
func (m *Mediator) CreateVolume(ctx context.Context, req array.CreateVolumeRequest) (*array.Volume, error) {
	if req.VirtSnapFunc {
		return nil, array.Errorf(array.VirtSnapshotNotSupported, "virt_snap_func is not supported by %s", ArrayType)
	}
	if err := checkSpaceEfficiency(req.SpaceEfficiency); err != nil {
		return nil, err
	}

	groupID := ""
	if req.VolumeGroup != "" {
		vg, err := m.client.GetVolumeGroupByName(ctx, req.VolumeGroup)
		if err != nil {
			return nil, translate(err, array.KindUnknown, "can't find volume group %s", req.VolumeGroup)
		}
		groupID = vg.ID
	}

	name := req.Name
	var (
		resp gopowerstore.CreateResponse
		err  error
	)
	switch {
	case req.SourceID == "":
		size := req.RequiredBytes
		resp, err = m.client.CreateVolume(ctx, &gopowerstore.VolumeCreate{
			Name:          &name,
			Size:          &size,
			ApplianceID:   req.Pool,
			VolumeGroupID: groupID,
		})
	case req.SourceType == array.SnapshotType:
		resp, err = m.client.CreateVolumeFromSnapshot(ctx, &gopowerstore.VolumeClone{Name: &name}, req.SourceID)
	default:
		resp, err = m.client.CloneVolume(ctx, &gopowerstore.VolumeClone{Name: &name}, req.SourceID)
	}
	if err != nil {
		return nil, translate(err, array.KindUnknown, "can't create volume %s", name)
	}
	return m.GetVolumeByID(ctx, resp.ID)
}

// CopyToExistingVolumeFromSource finishes a clone made by CreateVolume: PowerStore copies the
// data at creation time, so only the size may still need to grow.
func (m *Mediator) CopyToExistingVolumeFromSource(ctx context.Context, volume *array.Volume, sourceID string,
	sourceType array.ObjectType, requiredBytes int64,
) error {
	if volume.SourceID != sourceID {
		return array.Errorf(array.NotImplemented, "can't copy %s %s into existing volume %s", sourceType, sourceID, volume.Name)
	}
	if volume.CapacityBytes < requiredBytes {
		return m.ExpandVolume(ctx, volume.ID, requiredBytes)
	}
	return nil
}

// DeleteVolume deletes a volume that has no snapshots left.
func (m *Mediator) DeleteVolume(ctx context.Context, id string) error {
	snaps, err := m.client.GetSnapshotsByVolumeID(ctx, id)
	if err != nil {
		return translate(err, array.KindUnknown, "can't list snapshots of volume %s", id)
	}
	if len(snaps) > 0 {
		return array.Errorf(array.ObjectIsStillInUse, "volume %s has %d snapshots", id, len(snaps))
	}
	if _, err := m.client.DeleteVolume(ctx, nil, id); err != nil {
		return translate(err, array.KindUnknown, "can't delete volume %s", id)
	}
	return nil
}

// ExpandVolume grows the volume to requiredBytes.
func (m *Mediator) ExpandVolume(ctx context.Context, id string, requiredBytes int64) error {
	if _, err := m.client.ModifyVolume(ctx, &gopowerstore.VolumeModify{Size: requiredBytes}, id); err != nil {
		return translate(err, array.KindUnknown, "can't expand volume %s", id)
	}
	return nil
}

// GetSnapshot looks a snapshot up by name.
func (m *Mediator) GetSnapshot(ctx context.Context, _ string, name, _ string, virtSnapFunc bool) (*array.Snapshot, bool, error) {
	if virtSnapFunc {
		return nil, false, array.Errorf(array.VirtSnapshotNotSupported, "virt_snap_func is not supported by %s", ArrayType)
	}
	v, err := m.client.GetVolumeByName(ctx, name)
	if err != nil {
		if isNotFound(err) {
			return nil, false, nil
		}
		return nil, false, translate(err, array.KindUnknown, "can't find snapshot %s", name)
	}
	if v.ProtectionData.SourceID == "" {
		return nil, false, array.Errorf(array.ExpectedSnapshotButFoundVolume, "%s is a volume, not a snapshot", name)
	}
	return toSnapshot(v), true, nil
}

// GetSnapshotByID looks a snapshot up by id.
func (m *Mediator) GetSnapshotByID(ctx context.Context, id string) (*array.Snapshot, error) {
	v, err := m.client.GetSnapshot(ctx, id)
	if err != nil {
		return nil, translate(err, array.KindUnknown, "can't get snapshot %s", id)
	}
	return toSnapshot(v), nil
}

// CreateSnapshot snapshots a volume.
func (m *Mediator) CreateSnapshot(ctx context.Context, req array.CreateSnapshotRequest) (*array.Snapshot, error) {
	if req.VirtSnapFunc {
		return nil, array.Errorf(array.VirtSnapshotNotSupported, "virt_snap_func is not supported by %s", ArrayType)
	}
	if err := checkSpaceEfficiency(req.SpaceEfficiency); err != nil {
		return nil, err
	}
	name := req.Name
	resp, err := m.client.CreateSnapshot(ctx, &gopowerstore.SnapshotCreate{Name: &name}, req.VolumeID)
	if err != nil {
		return nil, translate(err, array.KindUnknown, "can't create snapshot %s", name)
	}
	return m.GetSnapshotByID(ctx, resp.ID)
}

// DeleteSnapshot deletes a snapshot.
func (m *Mediator) DeleteSnapshot(ctx context.Context, id, _ string) error {
	if _, err := m.client.DeleteSnapshot(ctx, nil, id); err != nil {
		return translate(err, array.KindUnknown, "can't delete snapshot %s", id)
	}
	return nil
}

func toVolumeGroup(vg gopowerstore.VolumeGroup) *array.VolumeGroup {
	out := &array.VolumeGroup{ID: vg.ID, Name: vg.Name}
	for _, v := range vg.Volumes {
		out.Volumes = append(out.Volumes, *toVolume(v))
	}
	return out
}

// CreateVolumeGroup creates an empty volume group.
func (m *Mediator) CreateVolumeGroup(ctx context.Context, name string) (*array.VolumeGroup, error) {
	resp, err := m.client.CreateVolumeGroup(ctx, &gopowerstore.VolumeGroupCreate{Name: name})
	if err != nil {
		return nil, translate(err, array.KindUnknown, "can't create volume group %s", name)
	}
	return m.GetVolumeGroup(ctx, resp.ID)
}

// GetVolumeGroup returns the group and its members.
func (m *Mediator) GetVolumeGroup(ctx context.Context, id string) (*array.VolumeGroup, error) {
	vg, err := m.client.GetVolumeGroup(ctx, id)
	if err != nil {
		return nil, translate(err, array.KindUnknown, "can't get volume group %s", id)
	}
	return toVolumeGroup(vg), nil
}

// GetVolumeGroupByName looks a group up by name.
func (m *Mediator) GetVolumeGroupByName(ctx context.Context, name string) (*array.VolumeGroup, bool, error) {
	vg, err := m.client.GetVolumeGroupByName(ctx, name)
	if err != nil {
		if isNotFound(err) {
			return nil, false, nil
		}
		return nil, false, translate(err, array.KindUnknown, "can't find volume group %s", name)
	}
	return toVolumeGroup(vg), true, nil
}

// DeleteVolumeGroup deletes the group, leaving its volumes in place.
func (m *Mediator) DeleteVolumeGroup(ctx context.Context, id string) error {
	if _, err := m.client.DeleteVolumeGroup(ctx, id); err != nil {
		return translate(err, array.KindUnknown, "can't delete volume group %s", id)
	}
	return nil
}

// AddVolumeToVolumeGroup adds one member.
func (m *Mediator) AddVolumeToVolumeGroup(ctx context.Context, groupID, volumeID string) error {
	_, err := m.client.AddMembersToVolumeGroup(ctx, &gopowerstore.VolumeGroupMembers{VolumeIDs: []string{volumeID}}, groupID)
	if err != nil {
		return translate(err, array.KindUnknown, "can't add volume %s to group %s", volumeID, groupID)
	}
	return nil
}

// RemoveVolumeFromVolumeGroup removes one member.
func (m *Mediator) RemoveVolumeFromVolumeGroup(ctx context.Context, groupID, volumeID string) error {
	_, err := m.client.RemoveMembersFromVolumeGroup(ctx, &gopowerstore.VolumeGroupMembers{VolumeIDs: []string{volumeID}}, groupID)
	if err != nil {
		return translate(err, array.KindUnknown, "can't remove volume %s from group %s", volumeID, groupID)
	}
	return nil
}

func notImplemented(op string) error {
	return array.Errorf(array.NotImplemented, "%s is not implemented for %s", op, ArrayType)
}

// IsFenced is not implemented for PowerStore.
func (m *Mediator) IsFenced(context.Context, string) (bool, error) {
	return false, notImplemented("fencing")
}

// Fence is not implemented for PowerStore.
func (m *Mediator) Fence(context.Context, string, string) error {
	return notImplemented("fencing")
}

// Disconnect is a no-op: the REST client holds no session.
func (m *Mediator) Disconnect() error {
	return nil
}

