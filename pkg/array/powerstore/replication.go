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


package powerstore

import (
	"context"
	"fmt"

	"github.com/blockcsi/csi-block-driver/pkg/array"
	"github.com/dell/gopowerstore"
	log "github.com/sirupsen/logrus"
)

const (
	protectionPolicyPrefix = "pp-"
	replicationRulePrefix  = "rr-"
	asyncRPO               = gopowerstore.RpoFiveMinutes
)

// replicated is the volume or volume group a replication session protects.
func replicated(req array.ReplicationRequest) (id string, isGroup bool) {
	if req.VolumeGroupID != "" {
		return req.VolumeGroupID, true
	}
	return req.VolumeInternalID, false
}

func rpoFor(copyType string) gopowerstore.RPOEnum {
	if copyType == array.CopyTypeAsync {
		return asyncRPO
	}
	return gopowerstore.RpoZero
}

func copyTypeOf(rs gopowerstore.ReplicationSession, fallback string) string {
	switch rs.Type {
	case "Synchronous", "Metro_Active_Active":
		return array.CopyTypeSync
	case "Asynchronous":
		return array.CopyTypeAsync
	}
	return fallback
}

func isPrimary(role string) *bool {
	var primary bool
	switch gopowerstore.ReplicationRoleEnum(role) {
	case gopowerstore.ReplicationRoleSource, gopowerstore.ReplicationRoleMetroPreferred:
		primary = true
	case gopowerstore.ReplicationRoleDestination, gopowerstore.ReplicationRoleMetroNonPreferred:
		primary = false
	default:
		return nil
	}
	return &primary
}

func toReplication(rs gopowerstore.ReplicationSession, req array.ReplicationRequest) *array.Replication {
	r := &array.Replication{
		Name:            rs.ID,
		CopyType:        copyTypeOf(rs, req.CopyType),
		ReplicationType: req.ReplicationType,
		IsPrimary:       isPrimary(rs.Role),
		IsReady:         rs.State == gopowerstore.RsStateOk,
	}
	if _, isGroup := replicated(req); isGroup {
		r.VolumeGroupID = req.VolumeGroupID
	}
	return r
}

// GetReplication finds the replication session whose local resource is the requested volume or group.
func (m *Mediator) GetReplication(ctx context.Context, req array.ReplicationRequest) (*array.Replication, bool, error) {
	id, isGroup := replicated(req)
	rs, err := m.client.GetReplicationSessionByLocalResourceID(ctx, id)
	if err != nil {
		if isNotFound(err) {
			return nil, false, nil
		}
		return nil, false, translate(err, array.KindUnknown, "can't query replication session of %s", id)
	}
	r := toReplication(rs, req)
	if req.ReplicationType == array.ReplicationTypeEAR {
		policy, err := m.assignedPolicy(ctx, id, isGroup)
		if err != nil {
			return nil, false, err
		}
		r.ReplicationPolicy = policy
	}
	log.WithFields(log.Fields{"Session": rs.ID, "State": rs.State, "Role": rs.Role}).
		Debugf("found replication session of %s", id)
	return r, true, nil
}

// assignedPolicy is the name of the protection policy assigned to a volume or group.
func (m *Mediator) assignedPolicy(ctx context.Context, id string, isGroup bool) (string, error) {
	var policyID string
	if isGroup {
		vg, err := m.client.GetVolumeGroup(ctx, id)
		if err != nil {
			return "", translate(err, array.KindUnknown, "can't query volume group %s", id)
		}
		policyID = vg.ProtectionPolicyID
	} else {
		vol, err := m.client.GetVolume(ctx, id)
		if err != nil {
			return "", translate(err, array.KindUnknown, "can't query volume %s", id)
		}
		policyID = vol.ProtectionPolicyID
	}
	if policyID == "" {
		return "", nil
	}
	pp, err := m.client.GetProtectionPolicy(ctx, policyID)
	if err != nil {
		return "", translate(err, array.KindUnknown, "can't query protection policy %s", policyID)
	}
	return pp.Name, nil
}

// CreateReplication assigns a replicating protection policy to the volume or group.
// For policy based replication the named policy must exist. For mirror replication
// a policy and rule pair targeting the remote system is created on demand; the array
// provisions the remote copy itself.
func (m *Mediator) CreateReplication(ctx context.Context, req array.ReplicationRequest) error {
	var (
		policyID string
		err      error
	)
	if req.ReplicationType == array.ReplicationTypeEAR {
		if req.ReplicationPolicy == "" {
			return array.Errorf(array.InvalidArgument, "a replication policy is required for policy based replication")
		}
		pp, err := m.client.GetProtectionPolicyByName(ctx, req.ReplicationPolicy)
		if err != nil {
			return translate(err, array.KindUnknown, "can't query protection policy %s", req.ReplicationPolicy)
		}
		policyID = pp.ID
	} else {
		policyID, err = m.ensureProtectionPolicy(ctx, req.OtherSystemID, rpoFor(req.CopyType))
		if err != nil {
			return err
		}
		if req.OtherVolumeInternalID != "" {
			log.Debugf("remote volume %s is managed by the replication session", req.OtherVolumeInternalID)
		}
	}
	return m.assignPolicy(ctx, req, policyID)
}

func (m *Mediator) assignPolicy(ctx context.Context, req array.ReplicationRequest, policyID string) error {
	id, isGroup := replicated(req)
	if isGroup {
		_, err := m.client.UpdateVolumeGroupProtectionPolicy(ctx, id,
			&gopowerstore.VolumeGroupChangePolicy{ProtectionPolicyID: policyID})
		if err != nil {
			return translate(err, array.KindUnknown, "can't assign protection policy %s to volume group %s", policyID, id)
		}
		return nil
	}
	_, err := m.client.ModifyVolume(ctx, &gopowerstore.VolumeModify{ProtectionPolicyID: policyID}, id)
	if err != nil {
		return translate(err, array.KindUnknown, "can't assign protection policy %s to volume %s", policyID, id)
	}
	return nil
}

// ensureProtectionPolicy returns the policy replicating to remoteSystem at rpo, creating it and its rule when missing.
func (m *Mediator) ensureProtectionPolicy(ctx context.Context, remoteSystem string, rpo gopowerstore.RPOEnum) (string, error) {
	if remoteSystem == "" {
		return "", array.Errorf(array.InvalidArgument, "a remote system is required for mirror replication")
	}
	rs, err := m.client.GetRemoteSystemByName(ctx, remoteSystem)
	if err != nil {
		return "", translate(err, array.KindUnknown, "can't query remote system %s", remoteSystem)
	}

	base := fmt.Sprintf("%s-%s-%s", defaultObjectPrefix, remoteSystem, rpo)
	if limit := maxObjectNameLength - len(protectionPolicyPrefix); len(base) > limit {
		base = base[:limit]
	}
	ppName := protectionPolicyPrefix + base
	pp, err := m.client.GetProtectionPolicyByName(ctx, ppName)
	if err == nil {
		return pp.ID, nil
	}
	if !isNotFound(err) {
		return "", translate(err, array.KindUnknown, "can't query protection policy %s", ppName)
	}

	rrName := replicationRulePrefix + base
	rrID := ""
	rr, err := m.client.GetReplicationRuleByName(ctx, rrName)
	switch {
	case err == nil:
		rrID = rr.ID
	case isNotFound(err):
		created, err := m.client.CreateReplicationRule(ctx, &gopowerstore.ReplicationRuleCreate{
			Name:           rrName,
			Rpo:            rpo,
			RemoteSystemID: rs.ID,
		})
		if err != nil {
			return "", translate(err, array.KindUnknown, "can't create replication rule %s", rrName)
		}
		rrID = created.ID
	default:
		return "", translate(err, array.KindUnknown, "can't query replication rule %s", rrName)
	}

	created, err := m.client.CreateProtectionPolicy(ctx, &gopowerstore.ProtectionPolicyCreate{
		Name:               ppName,
		ReplicationRuleIDs: []string{rrID},
	})
	if err != nil {
		return "", translate(err, array.KindUnknown, "can't create protection policy %s", ppName)
	}
	log.Infof("created protection policy %s replicating to %s", ppName, remoteSystem)
	return created.ID, nil
}

// DeleteReplication unassigns the protection policy, which ends the replication session.
func (m *Mediator) DeleteReplication(ctx context.Context, r *array.Replication) error {
	rs, err := m.client.GetReplicationSessionByID(ctx, r.Name)
	if err != nil {
		if isNotFound(err) {
			return nil
		}
		return translate(err, array.KindUnknown, "can't query replication session %s", r.Name)
	}
	if rs.ResourceType == "volume_group" {
		_, err = m.client.ModifyVolumeGroup(ctx, &gopowerstore.VolumeGroupModify{ProtectionPolicyID: ""}, rs.LocalResourceID)
	} else {
		_, err = m.client.ModifyVolume(ctx, &gopowerstore.VolumeModify{ProtectionPolicyID: ""}, rs.LocalResourceID)
	}
	if err != nil && !isNotFound(err) {
		return translate(err, array.KindUnknown, "can't unassign protection policy from %s", rs.LocalResourceID)
	}
	return nil
}

// PromoteReplicationVolume fails the session over to the local copy.
func (m *Mediator) PromoteReplicationVolume(ctx context.Context, r *array.Replication) error {
	return m.executeAction(ctx, r.Name, gopowerstore.RsActionFailover,
		&gopowerstore.FailoverParams{IsPlanned: true, Reverse: false})
}

// DemoteReplicationVolume reprotects the session so the local copy becomes the destination.
func (m *Mediator) DemoteReplicationVolume(ctx context.Context, r *array.Replication) error {
	return m.executeAction(ctx, r.Name, gopowerstore.RsActionReprotect, nil)
}

// executeAction runs action on the session unless it is already in the state action leads to.
func (m *Mediator) executeAction(ctx context.Context, sessionID string, action gopowerstore.ActionType,
	params *gopowerstore.FailoverParams,
) error {
	rs, err := m.client.GetReplicationSessionByID(ctx, sessionID)
	if err != nil {
		return translate(err, array.KindUnknown, "can't query replication session %s", sessionID)
	}
	done, busy := actionState(rs.State, action)
	if done {
		log.Infof("replication session %s is already %s", sessionID, rs.State)
		return nil
	}
	if busy {
		return array.Errorf(array.ObjectAlreadyProcessing, "replication session %s is still executing a previous action", sessionID)
	}
	_, err = m.client.ExecuteActionOnReplicationSession(ctx, sessionID, action, params)
	if err != nil {
		if apiErr, ok := err.(gopowerstore.APIError); ok && apiErr.ErrorMsg != nil && apiErr.UnableToFailoverFromDestination() {
			log.Debugf("replication session %s can't fail over from the destination side", sessionID)
			return nil
		}
		return translate(err, array.KindUnknown, "can't %s replication session %s", action, sessionID)
	}
	log.Infof("action %s executed on replication session %s", action, sessionID)
	return nil
}

// actionState reports whether the session is already where action would take it, or
// whether an action in flight must finish first.
func actionState(state gopowerstore.RSStateEnum, action gopowerstore.ActionType) (done, busy bool) {
	switch action {
	case gopowerstore.RsActionResume, gopowerstore.RsActionReprotect:
		return state == gopowerstore.RsStateOk, state == gopowerstore.RsStateReprotecting || state == gopowerstore.RsStateResuming
	case gopowerstore.RsActionPause:
		return state == gopowerstore.RsStatePaused || state == gopowerstore.RsStatePausedForMigration ||
			state == gopowerstore.RsStatePausedForNdu, false
	case gopowerstore.RsActionFailover:
		return state == gopowerstore.RsStateFailedOver, state == gopowerstore.RsStateFailingOver
	}
	return false, false
}
