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
	"sort"
	"strings"

	"github.com/blockcsi/csi-block-driver/pkg/array"
	"github.com/blockcsi/csi-block-driver/pkg/naming"
	"github.com/dell/gopowerstore"
	log "github.com/sirupsen/logrus"
)

const iscsiPort = 3260

func normalizeWWN(wwn string) string {
	return strings.ToLower(strings.ReplaceAll(wwn, ":", ""))
}

// connectivity picks the protocol a host is reached with: nvme over fc first, then fc, then iscsi.
func connectivity(requested string, initiators array.Initiators) string {
	if requested != "" {
		return requested
	}
	switch {
	case len(initiators.NVMeNQNs) > 0:
		return array.ConnectivityNVMeOverFC
	case len(initiators.FCWWNs) > 0:
		return array.ConnectivityFC
	default:
		return array.ConnectivityISCSI
	}
}

func hostPorts(initiators array.Initiators) map[string]bool {
	ports := make(map[string]bool)
	for _, nqn := range initiators.NVMeNQNs {
		ports[nqn] = true
	}
	for _, wwn := range initiators.FCWWNs {
		ports[normalizeWWN(wwn)] = true
	}
	for _, iqn := range initiators.ISCSIIQNs {
		ports[iqn] = true
	}
	return ports
}

// findHost returns the host owning any of the initiators.
func (m *Mediator) findHost(ctx context.Context, initiators array.Initiators) (*gopowerstore.Host, error) {
	hosts, err := m.client.GetHosts(ctx)
	if err != nil {
		return nil, translate(err, array.KindUnknown, "can't list hosts")
	}
	ports := hostPorts(initiators)
	for i := range hosts {
		for _, initiator := range hosts[i].Initiators {
			name := initiator.PortName
			if initiator.PortType == gopowerstore.InitiatorProtocolTypeEnumFC {
				name = normalizeWWN(name)
			}
			if ports[name] {
				return &hosts[i], nil
			}
		}
	}
	return nil, array.Errorf(array.HostNotFound, "no host found for initiators %v", initiators)
}

// arrayInitiators reports the array-side ports a host connects to.
func (m *Mediator) arrayInitiators(ctx context.Context, connectivityType, applianceID string) (map[string][]string, error) {
	switch connectivityType {
	case array.ConnectivityISCSI:
		addresses, err := m.client.GetStorageISCSITargetAddresses(ctx)
		if err != nil {
			return nil, translate(err, array.KindUnknown, "can't get iscsi targets")
		}
		sort.Slice(addresses, func(i, j int) bool { return addresses[i].ID < addresses[j].ID })
		targets := make(map[string][]string)
		for _, t := range addresses {
			if applianceID != "" && t.ApplianceID != applianceID {
				continue
			}
			targets[t.IPPort.TargetIqn] = append(targets[t.IPPort.TargetIqn], fmt.Sprintf("%s:%d", t.Address, iscsiPort))
		}
		if len(targets) == 0 {
			return nil, array.Errorf(array.NoIscsiTargetsFound, "no iscsi targets found on appliance %s", applianceID)
		}
		return targets, nil
	case array.ConnectivityFC:
		ports, err := m.client.GetFCPorts(ctx)
		if err != nil {
			return nil, translate(err, array.KindUnknown, "can't get fc ports")
		}
		var wwpns []string
		for _, p := range ports {
			if p.IsLinkUp && (applianceID == "" || p.ApplianceID == applianceID) {
				wwpns = append(wwpns, normalizeWWN(p.Wwn))
			}
		}
		return map[string][]string{array.ConnectivityFC: wwpns}, nil
	}
	return nil, nil
}

// MapVolumeByInitiators attaches the volume to the host owning initiators.
func (m *Mediator) MapVolumeByInitiators(ctx context.Context, volumeID string, initiators array.Initiators) (*array.MapResult, error) {
	host, err := m.findHost(ctx, initiators)
	if err != nil {
		return nil, err
	}
	volume, err := m.client.GetVolume(ctx, volumeID)
	if err != nil {
		return nil, translate(err, array.KindUnknown, "can't get volume %s", volumeID)
	}
	conn := connectivity("", initiators)
	targets, err := m.arrayInitiators(ctx, conn, volume.ApplianceID)
	if err != nil {
		return nil, err
	}

	mappings, err := m.client.GetHostVolumeMappingByVolumeID(ctx, volumeID)
	if err != nil {
		return nil, translate(err, array.KindUnknown, "can't get mappings of volume %s", volumeID)
	}
	for _, mapping := range mappings {
		if mapping.HostID == host.ID {
			log.Debugf("volume %s already mapped to host %s", volumeID, host.Name)
			return &array.MapResult{LUN: int(mapping.LogicalUnitNumber), Connectivity: conn, ArrayInitiators: targets}, nil
		}
	}
	if len(mappings) > 0 {
		return nil, array.Errorf(array.VolumeAlreadyMappedToDifferentHosts,
			"volume %s is already mapped to host %s", volumeID, mappings[0].HostID)
	}

	if _, err := m.client.AttachVolumeToHost(ctx, host.ID, &gopowerstore.HostVolumeAttach{VolumeID: &volumeID}); err != nil {
		return nil, translate(err, array.KindUnknown, "can't attach volume %s to host %s", volumeID, host.Name)
	}
	mappings, err = m.client.GetHostVolumeMappingByVolumeID(ctx, volumeID)
	if err != nil {
		return nil, translate(err, array.KindUnknown, "can't get mappings of volume %s", volumeID)
	}
	for _, mapping := range mappings {
		if mapping.HostID == host.ID {
			return &array.MapResult{LUN: int(mapping.LogicalUnitNumber), Connectivity: conn, ArrayInitiators: targets}, nil
		}
	}
	return nil, array.Errorf(array.NoAvailableLun, "volume %s has no lun on host %s after attach", volumeID, host.Name)
}

// UnmapVolumeByInitiators detaches the volume from the host owning initiators.
func (m *Mediator) UnmapVolumeByInitiators(ctx context.Context, volumeID string, initiators array.Initiators) error {
	host, err := m.findHost(ctx, initiators)
	if err != nil {
		return err
	}
	_, err = m.client.DetachVolumeFromHost(ctx, host.ID, &gopowerstore.HostVolumeDetach{VolumeID: &volumeID})
	if err == nil {
		return nil
	}
	if apiErr, ok := err.(gopowerstore.APIError); ok && apiErr.ErrorMsg != nil {
		switch {
		case apiErr.HostIsNotExist():
			return array.Wrap(array.HostNotFound, err, "host %s is gone", host.Name)
		case apiErr.VolumeIsNotAttachedToHost(), apiErr.HostIsNotAttachedToVolume():
			return array.Wrap(array.VolumeAlreadyUnmapped, err, "volume %s is not mapped to host %s", volumeID, host.Name)
		}
	}
	return translate(err, array.KindUnknown, "can't detach volume %s from host %s", volumeID, host.Name)
}

func initiatorsFor(conn string, initiators array.Initiators) ([]gopowerstore.InitiatorCreateModify, []string) {
	var (
		portType gopowerstore.InitiatorProtocolTypeEnum
		names    []string
	)
	switch conn {
	case array.ConnectivityNVMeOverFC:
		portType, names = gopowerstore.InitiatorProtocolTypeEnumNVME, initiators.NVMeNQNs
	case array.ConnectivityFC:
		portType = gopowerstore.InitiatorProtocolTypeEnumFC
		for _, wwn := range initiators.FCWWNs {
			names = append(names, normalizeWWN(wwn))
		}
	default:
		portType, names = gopowerstore.InitiatorProtocolTypeEnumISCSI, initiators.ISCSIIQNs
	}
	out := make([]gopowerstore.InitiatorCreateModify, 0, len(names))
	for i := range names {
		pt := portType
		out = append(out, gopowerstore.InitiatorCreateModify{PortName: &names[i], PortType: &pt})
	}
	return out, names
}

func (m *Mediator) hostName(req array.HostDefineRequest) string {
	prefix := req.Prefix
	if prefix == "" {
		prefix = defaultObjectPrefix
	}
	return naming.Fit(prefix, req.NodeName, maxObjectNameLength)
}

func portKey(name string, portType gopowerstore.InitiatorProtocolTypeEnum) string {
	if portType == gopowerstore.InitiatorProtocolTypeEnumFC {
		return normalizeWWN(name)
	}
	return name
}

// reconcileInitiators makes the host's initiators equal to wanted: stale ports are removed first, then missing ones added.
func (m *Mediator) reconcileInitiators(ctx context.Context, host gopowerstore.Host, wanted []gopowerstore.InitiatorCreateModify) error {
	want := make(map[string]bool, len(wanted))
	for _, initiator := range wanted {
		want[portKey(*initiator.PortName, *initiator.PortType)] = true
	}
	have := make(map[string]bool, len(host.Initiators))
	var toRemove []string
	for _, initiator := range host.Initiators {
		key := portKey(initiator.PortName, initiator.PortType)
		have[key] = true
		if !want[key] {
			toRemove = append(toRemove, initiator.PortName)
		}
	}
	var toAdd []gopowerstore.InitiatorCreateModify
	for _, initiator := range wanted {
		if !have[portKey(*initiator.PortName, *initiator.PortType)] {
			toAdd = append(toAdd, initiator)
		}
	}

	if len(toRemove) > 0 {
		log.Infof("removing initiators %v from host %s", toRemove, host.Name)
		if _, err := m.client.ModifyHost(ctx, &gopowerstore.HostModify{RemoveInitiators: &toRemove}, host.ID); err != nil {
			return translate(err, array.KindUnknown, "can't remove initiators from host %s", host.Name)
		}
	}
	if len(toAdd) > 0 {
		log.Infof("adding %d initiators to host %s", len(toAdd), host.Name)
		if _, err := m.client.ModifyHost(ctx, &gopowerstore.HostModify{AddInitiators: &toAdd}, host.ID); err != nil {
			return translate(err, array.KindUnknown, "can't add initiators to host %s", host.Name)
		}
	}
	return nil
}

// DefineHost registers the node as a host. An existing host of the same name is reused
// after its initiators are brought in line with the node's ports.
func (m *Mediator) DefineHost(ctx context.Context, req array.HostDefineRequest) (*array.HostDefineResponse, error) {
	conn := connectivity(req.ConnectivityType, req.Initiators)
	initiators, ports := initiatorsFor(conn, req.Initiators)
	if len(initiators) == 0 {
		return nil, array.Errorf(array.UnsupportedConnectivityType, "node %s has no %s ports", req.NodeName, conn)
	}
	name := m.hostName(req)
	resp := &array.HostDefineResponse{ConnectivityType: conn, Ports: ports, NodeNameOnStorage: name}

	cluster, err := m.client.GetCluster(ctx)
	if err != nil {
		return nil, translate(err, array.KindUnknown, "can't get cluster info")
	}
	resp.ManagementAddress = cluster.ManagementAddress

	if host, err := m.client.GetHostByName(ctx, name); err == nil {
		log.Infof("host %s already defined", name)
		if err := m.reconcileInitiators(ctx, host, initiators); err != nil {
			return nil, err
		}
		return resp, nil
	} else if !isNotFound(err) {
		return nil, translate(err, array.KindUnknown, "can't get host %s", name)
	}

	osType := gopowerstore.OSTypeEnumLinux
	description := fmt.Sprintf("node %s", req.NodeID)
	_, err = m.client.CreateHost(ctx, &gopowerstore.HostCreate{
		Name:        &name,
		OsType:      &osType,
		Initiators:  &initiators,
		Description: &description,
	})
	if err != nil {
		return nil, translate(err, array.HostAlreadyExists, "can't create host %s", name)
	}
	return resp, nil
}

// UndefineHost deletes the node's host; a host that is already gone is not an error.
func (m *Mediator) UndefineHost(ctx context.Context, req array.HostDefineRequest) (*array.HostDefineResponse, error) {
	name := m.hostName(req)
	resp := &array.HostDefineResponse{NodeNameOnStorage: name}
	host, err := m.client.GetHostByName(ctx, name)
	if err != nil {
		if isNotFound(err) {
			return resp, nil
		}
		return nil, translate(err, array.KindUnknown, "can't get host %s", name)
	}
	if _, err := m.client.DeleteHost(ctx, nil, host.ID); err != nil && !isNotFound(err) {
		return nil, translate(err, array.KindUnknown, "can't delete host %s", name)
	}
	return resp, nil
}
