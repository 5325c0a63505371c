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

package common

const (
	// EnvCSIEndpoint is the CSI gRPC endpoint of the controller plugin
	EnvCSIEndpoint = "CSI_ENDPOINT"

	// EnvCSIAddonsEndpoint is the CSI-Addons gRPC endpoint of the controller plugin
	EnvCSIAddonsEndpoint = "CSI_ADDONS_ENDPOINT"

	// EnvConfigPath is the path to the plugin config file
	EnvConfigPath = "X_CSI_CONFIG_PATH"

	// EnvCSIVersion is the driver version reported at startup
	EnvCSIVersion = "CSI_VERSION"

	// EnvDebugEnableTracing allow to enable tracing in driver
	EnvDebugEnableTracing = "ENABLE_TRACING"

	// EnvConnectionLimit bounds the number of concurrently leased array handles per array
	EnvConnectionLimit = "CONNECTION_LIMIT"

	// EnvKubeConfigPath indicates kubernetes configuration path that has to be used by the host definer
	EnvKubeConfigPath = "KUBECONFIG"

	// EnvDynamicNodeLabeling makes the host definer label and manage every node running the driver
	EnvDynamicNodeLabeling = "DYNAMIC_NODE_LABELING"

	// EnvAllowDelete allows the host definer to undefine hosts
	EnvAllowDelete = "ALLOW_DELETE"

	// EnvPrefix is the host name prefix used when defining hosts
	EnvPrefix = "PREFIX"

	// EnvConnectivityType is the default host connectivity type
	EnvConnectivityType = "CONNECTIVITY_TYPE"

	// EnvProvisionerName is the CSI driver name looked up in CSINode objects
	EnvProvisionerName = "CSI_PROVISIONER_NAME"

	// EnvRetryBudget is the number of attempts made for a pending host definition
	EnvRetryBudget = "HOST_DEFINER_RETRY_BUDGET"

	// EnvRetryDelay is the first delay of the pending retry loop
	EnvRetryDelay = "HOST_DEFINER_RETRY_DELAY"

	// EnvRetryFactor multiplies the retry delay after each attempt
	EnvRetryFactor = "HOST_DEFINER_RETRY_FACTOR"

	// EnvSecondsToCheckPodPhase is the number of one second ticks the node pod is probed for
	EnvSecondsToCheckPodPhase = "SECONDS_TO_CHECK_POD_PHASE"

	// EnvNodePodSelector is the label selector of the driver node pods probed before undefining a node
	EnvNodePodSelector = "CSI_NODE_POD_SELECTOR"

	// EnvArrayInsecure skips TLS verification of array management endpoints
	EnvArrayInsecure = "X_CSI_ARRAY_INSECURE"

	// EnvThrottlingRateLimit sets a number of concurrent requests to APi
	EnvThrottlingRateLimit = "X_CSI_POWERSTORE_THROTTLING_RATE_LIMIT"

	// EnvMetricsAddress is the listen address of the Prometheus endpoint
	EnvMetricsAddress = "METRICS_ADDRESS"
)
