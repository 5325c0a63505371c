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

package hostdefiner

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/blockcsi/csi-block-driver/pkg/common"
)

// Node labels read and written by the reconciler.
const (
	LabelManageNode            = "hostdefiner.block.csi.ibm.com/manage-node"
	LabelDoNotDeleteDefinition = "hostdefiner.block.csi.ibm.com/do-not-delete-definition"
	LabelIOGroupPrefix         = "hostdefiner.block.csi.ibm.com/io-group-"
	LabelConnectivityType      = "block.csi.ibm.com/connectivity-type"
	TopologyLabelPrefix        = "topology.block.csi.ibm.com/"

	labelTrue        = "true"
	ioGroupSeparator = ":"
)

const (
	defaultProvisionerName        = "block.csi.ibm.com"
	defaultNodePodSelector        = "app.kubernetes.io/component=csi-node"
	defaultRetryBudget            = 5
	defaultRetryDelay             = 3 * time.Second
	defaultRetryFactor            = 3.0
	defaultSecondsToCheckPodPhase = 2
)

// Config holds the environment switches of the reconciler.
type Config struct {
	ProvisionerName        string
	DynamicNodeLabeling    bool
	AllowDelete            bool
	Prefix                 string
	ConnectivityType       string
	NodePodSelector        string
	RetryBudget            int
	RetryDelay             time.Duration
	RetryFactor            float64
	SecondsToCheckPodPhase int
}

// ConfigFromEnv reads Config from the environment, falling back to the defaults.
func ConfigFromEnv(ctx context.Context) Config {
	factor := float64(defaultRetryFactor)
	if v, err := strconv.ParseFloat(common.EnvString(ctx, common.EnvRetryFactor, ""), 64); err == nil && v >= 1 {
		factor = v
	}
	return Config{
		ProvisionerName:        common.EnvString(ctx, common.EnvProvisionerName, defaultProvisionerName),
		DynamicNodeLabeling:    common.EnvBool(ctx, common.EnvDynamicNodeLabeling, false),
		AllowDelete:            common.EnvBool(ctx, common.EnvAllowDelete, true),
		Prefix:                 common.EnvString(ctx, common.EnvPrefix, ""),
		ConnectivityType:       common.EnvString(ctx, common.EnvConnectivityType, ""),
		NodePodSelector:        common.EnvString(ctx, common.EnvNodePodSelector, defaultNodePodSelector),
		RetryBudget:            common.EnvInt(ctx, common.EnvRetryBudget, defaultRetryBudget),
		RetryDelay:             common.EnvDuration(ctx, common.EnvRetryDelay, defaultRetryDelay),
		RetryFactor:            factor,
		SecondsToCheckPodPhase: common.EnvInt(ctx, common.EnvSecondsToCheckPodPhase, defaultSecondsToCheckPodPhase),
	}
}

func isTrue(labels map[string]string, key string) bool {
	return labels[key] == labelTrue
}

// ioGroup joins the N of every io-group-N=true label in ascending order.
func ioGroup(labels map[string]string) string {
	var groups []int
	for k, v := range labels {
		if !strings.HasPrefix(k, LabelIOGroupPrefix) || v != labelTrue {
			continue
		}
		n, err := strconv.Atoi(strings.TrimPrefix(k, LabelIOGroupPrefix))
		if err != nil || n < 0 {
			continue
		}
		groups = append(groups, n)
	}
	sort.Ints(groups)
	parts := make([]string, 0, len(groups))
	for _, n := range groups {
		parts = append(parts, strconv.Itoa(n))
	}
	return strings.Join(parts, ioGroupSeparator)
}

// topologyLabels keeps the labels used to pick a system of a multi-system secret.
func topologyLabels(labels map[string]string) map[string]string {
	out := map[string]string{}
	for k, v := range labels {
		if strings.HasPrefix(k, TopologyLabelPrefix) {
			out[k] = v
		}
	}
	return out
}

func (r *Reconciler) connectivityType(labels map[string]string) string {
	if t := labels[LabelConnectivityType]; t != "" {
		return t
	}
	return r.cfg.ConnectivityType
}
