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

package objectid

import (
	"strings"

	"github.com/blockcsi/csi-block-driver/pkg/array"
)

const (
	nodeIDSeparator = ";"
	wwnSeparator    = ":"
	minNodeIDFields = 2
	maxNodeIDFields = 4
)

// NodeID is the decoded form of hostname;nvmeNQN;fcWWNs;iscsiIQN.
type NodeID struct {
	Hostname string
	NVMeNQN  string
	FCWWNs   []string
	ISCSIIQN string
}

// ParseNodeID accepts two to four fields; fields after the hostname may be empty.
func ParseNodeID(s string) (NodeID, error) {
	fields := strings.Split(s, nodeIDSeparator)
	if len(fields) < minNodeIDFields || len(fields) > maxNodeIDFields || fields[0] == "" {
		return NodeID{}, array.Errorf(array.InvalidNodeID, "wrong node id format: %q", s)
	}
	n := NodeID{Hostname: fields[0], NVMeNQN: fields[1]}
	if len(fields) > 2 && fields[2] != "" {
		n.FCWWNs = strings.Split(fields[2], wwnSeparator)
	}
	if len(fields) > 3 {
		n.ISCSIIQN = fields[3]
	}
	return n, nil
}

// String renders the node id, omitting trailing empty fields beyond the second.
func (n NodeID) String() string {
	fields := []string{n.Hostname, n.NVMeNQN, strings.Join(n.FCWWNs, wwnSeparator), n.ISCSIIQN}
	for len(fields) > minNodeIDFields && fields[len(fields)-1] == "" {
		fields = fields[:len(fields)-1]
	}
	return strings.Join(fields, nodeIDSeparator)
}

// Initiators returns the node's ports grouped by protocol.
func (n NodeID) Initiators() array.Initiators {
	var i array.Initiators
	if n.NVMeNQN != "" {
		i.NVMeNQNs = []string{n.NVMeNQN}
	}
	i.FCWWNs = append(i.FCWWNs, n.FCWWNs...)
	if n.ISCSIIQN != "" {
		i.ISCSIIQNs = []string{n.ISCSIIQN}
	}
	return i
}
