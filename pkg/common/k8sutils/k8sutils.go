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

// Package k8sutils builds Kubernetes clients and edits node labels.
package k8sutils

import (
	"context"
	"encoding/json"
	"fmt"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/client-go/dynamic"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
)

// ConfigBuilderInterface defines the methods for building a Kubernetes client config
type ConfigBuilderInterface interface {
	BuildConfigFromFlags(masterURL, kubeconfig string) (*rest.Config, error)
	InClusterConfig() (*rest.Config, error)
}

// ConfigBuilderImpl provides the implementation for ConfigBuilderInterface
type ConfigBuilderImpl struct{}

// ConfigBuilder is the instance used to build client configs
var ConfigBuilder ConfigBuilderInterface = new(ConfigBuilderImpl)

// BuildConfigFromFlags is a method for building kubernetes client config
func (svc *ConfigBuilderImpl) BuildConfigFromFlags(masterURL, kubeconfig string) (*rest.Config, error) {
	return clientcmd.BuildConfigFromFlags(masterURL, kubeconfig)
}

// InClusterConfig returns a config object which uses the service account kubernetes gives to pods
func (svc *ConfigBuilderImpl) InClusterConfig() (*rest.Config, error) {
	return rest.InClusterConfig()
}

// RestConfig returns the kubeconfig based config when a path is given, in-cluster config otherwise
func RestConfig(kubeconfig string) (*rest.Config, error) {
	if kubeconfig != "" {
		return ConfigBuilder.BuildConfigFromFlags("", kubeconfig)
	}
	return ConfigBuilder.InClusterConfig()
}

// Clients holds the typed and dynamic clients used by the host definer
type Clients struct {
	Kube    kubernetes.Interface
	Dynamic dynamic.Interface
}

// CreateClients creates the typed and dynamic clients
func CreateClients(kubeconfig string) (*Clients, error) {
	config, err := RestConfig(kubeconfig)
	if err != nil {
		return nil, err
	}
	kube, err := kubernetes.NewForConfig(config)
	if err != nil {
		return nil, err
	}
	dyn, err := dynamic.NewForConfig(config)
	if err != nil {
		return nil, err
	}
	return &Clients{Kube: kube, Dynamic: dyn}, nil
}

// GetNodeLabels retrieves the kubernetes node object and returns its labels
func GetNodeLabels(ctx context.Context, client kubernetes.Interface, nodeName string) (map[string]string, error) {
	node, err := client.CoreV1().Nodes().Get(ctx, nodeName, metav1.GetOptions{})
	if err != nil {
		return nil, err
	}
	return node.Labels, nil
}

// SetNodeLabel sets key=value on the node, value nil removes the label
func SetNodeLabel(ctx context.Context, client kubernetes.Interface, nodeName, key string, value *string) error {
	patch := map[string]interface{}{
		"metadata": map[string]interface{}{
			"labels": map[string]interface{}{key: value},
		},
	}
	data, err := json.Marshal(patch)
	if err != nil {
		return err
	}
	_, err = client.CoreV1().Nodes().Patch(ctx, nodeName, types.MergePatchType, data, metav1.PatchOptions{})
	if err != nil {
		return fmt.Errorf("failed to update node %s labels: %v", nodeName, err.Error())
	}
	return nil
}
