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

package array

import "context"

// ObjectType names the kind of object an id refers to.
type ObjectType string

// Object types understood by mediators.
const (
	VolumeType      ObjectType = "volume"
	SnapshotType    ObjectType = "snapshot"
	VolumeGroupType ObjectType = "volume_group"
	HostType        ObjectType = "host"
)

// Connectivity types reported by MapVolumeByInitiators.
const (
	ConnectivityNVMeOverFC = "nvmeofc"
	ConnectivityFC         = "fc"
	ConnectivityISCSI      = "iscsi"
)

// Replication types.
const (
	ReplicationTypeMirror = "mirror"
	ReplicationTypeEAR    = "ear"
)

// Copy types for mirrored replication.
const (
	CopyTypeSync  = "sync"
	CopyTypeAsync = "async"
)

// ConnectionInfo identifies one storage system and the credentials to reach it.
type ConnectionInfo struct {
	ArrayAddresses []string
	User           string
	Password       string
	SystemID       string
}

// Volume as reported by a mediator.
type Volume struct {
	ID                     string
	InternalID             string
	Name                   string
	CapacityBytes          int64
	Pool                   string
	ArrayType              string
	ArrayAddress           string
	SpaceEfficiencyAliases []string
	VolumeGroupID          string
	VolumeGroupName        string
	SourceID               string
	DefaultSpaceEfficiency string
}

// Snapshot as reported by a mediator.
type Snapshot struct {
	ID            string
	InternalID    string
	Name          string
	SourceID      string
	IsReady       bool
	CapacityBytes int64
	ArrayType     string
	Pool          string
}

// VolumeGroup as reported by a mediator.
type VolumeGroup struct {
	ID      string
	Name    string
	Volumes []Volume
}

// Replication describes one replication relationship.
type Replication struct {
	Name            string
	CopyType        string
	ReplicationType string
	// IsPrimary is nil when the role is unknown.
	IsPrimary         *bool
	IsReady           bool
	VolumeGroupID     string
	ReplicationPolicy string
}

// Initiators are the host ports taken from a node id.
type Initiators struct {
	NVMeNQNs  []string
	FCWWNs    []string
	ISCSIIQNs []string
}

// Empty reports whether no port of any protocol is set.
func (i Initiators) Empty() bool {
	return len(i.NVMeNQNs) == 0 && len(i.FCWWNs) == 0 && len(i.ISCSIIQNs) == 0
}

// MapResult is what a successful mapping returns.
type MapResult struct {
	LUN          int
	Connectivity string
	// ArrayInitiators holds array-side WWPNs for fc, or IQN to portal list for iscsi.
	ArrayInitiators map[string][]string
}

// CreateVolumeRequest collects createVolume arguments.
type CreateVolumeRequest struct {
	Name            string
	RequiredBytes   int64
	SpaceEfficiency string
	Pool            string
	IOGroup         string
	VolumeGroup     string
	SourceID        string
	SourceType      ObjectType
	VirtSnapFunc    bool
}

// CreateSnapshotRequest collects createSnapshot arguments.
type CreateSnapshotRequest struct {
	VolumeID        string
	Name            string
	SpaceEfficiency string
	Pool            string
	VirtSnapFunc    bool
}

// ReplicationRequest identifies a replication on the local system.
type ReplicationRequest struct {
	VolumeInternalID      string
	VolumeGroupID         string
	OtherVolumeInternalID string
	OtherSystemID         string
	CopyType              string
	ReplicationType       string
	ReplicationPolicy     string
}

// HostDefineRequest describes a cluster node to register on a storage system.
type HostDefineRequest struct {
	Prefix           string
	ConnectivityType string
	NodeName         string
	NodeID           string
	Initiators       Initiators
	IOGroup          string
	Hostname         string
}

// HostDefineResponse reports what the storage registered.
type HostDefineResponse struct {
	ConnectivityType  string
	Ports             []string
	NodeNameOnStorage string
	IOGroup           []string
	ManagementAddress string
}

// Mediator is the capability surface of one storage system variant.
//
// Lookups by name return found=false with a nil error when the object does
// not exist, so a failed lookup is never mistaken for an absent object.
type Mediator interface {
	Identifier() string
	MaxObjectNameLength() int
	MaxObjectPrefixLength() int
	DefaultObjectPrefix() string
	MinimalVolumeSizeInBytes() int64
	MaximalVolumeSizeInBytes() int64

	GetVolume(ctx context.Context, name, pool string, virtSnapFunc bool) (*Volume, bool, error)
	GetVolumeByID(ctx context.Context, id string) (*Volume, error)
	CreateVolume(ctx context.Context, req CreateVolumeRequest) (*Volume, error)
	CopyToExistingVolumeFromSource(ctx context.Context, volume *Volume, sourceID string, sourceType ObjectType, requiredBytes int64) error
	DeleteVolume(ctx context.Context, id string) error
	ExpandVolume(ctx context.Context, id string, requiredBytes int64) error

	GetSnapshot(ctx context.Context, volumeID, name, pool string, virtSnapFunc bool) (*Snapshot, bool, error)
	GetSnapshotByID(ctx context.Context, id string) (*Snapshot, error)
	CreateSnapshot(ctx context.Context, req CreateSnapshotRequest) (*Snapshot, error)
	DeleteSnapshot(ctx context.Context, id, internalID string) error

	MapVolumeByInitiators(ctx context.Context, volumeID string, initiators Initiators) (*MapResult, error)
	UnmapVolumeByInitiators(ctx context.Context, volumeID string, initiators Initiators) error

	CreateVolumeGroup(ctx context.Context, name string) (*VolumeGroup, error)
	GetVolumeGroup(ctx context.Context, id string) (*VolumeGroup, error)
	GetVolumeGroupByName(ctx context.Context, name string) (*VolumeGroup, bool, error)
	DeleteVolumeGroup(ctx context.Context, id string) error
	AddVolumeToVolumeGroup(ctx context.Context, groupID, volumeID string) error
	RemoveVolumeFromVolumeGroup(ctx context.Context, groupID, volumeID string) error

	GetReplication(ctx context.Context, req ReplicationRequest) (*Replication, bool, error)
	CreateReplication(ctx context.Context, req ReplicationRequest) error
	DeleteReplication(ctx context.Context, replication *Replication) error
	PromoteReplicationVolume(ctx context.Context, replication *Replication) error
	DemoteReplicationVolume(ctx context.Context, replication *Replication) error

	IsFenced(ctx context.Context, group string) (bool, error)
	Fence(ctx context.Context, fenceGroup, unfenceGroup string) error

	DefineHost(ctx context.Context, req HostDefineRequest) (*HostDefineResponse, error)
	UndefineHost(ctx context.Context, req HostDefineRequest) (*HostDefineResponse, error)

	Disconnect() error
}
