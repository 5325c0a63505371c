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

package hostdefinition

import (
	"context"
	"fmt"

	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/labels"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/watch"
	"k8s.io/client-go/dynamic"
	"k8s.io/client-go/util/retry"
)

// Store reads and writes HostDefinition resources.
type Store struct {
	client dynamic.Interface
}

// NewStore returns a store backed by client.
func NewStore(client dynamic.Interface) *Store {
	return &Store{client: client}
}

func (s *Store) resource() dynamic.NamespaceableResourceInterface {
	return s.client.Resource(GVR)
}

// FromUnstructured converts a watched or listed object.
func FromUnstructured(u *unstructured.Unstructured) (*HostDefinition, error) {
	hd := &HostDefinition{}
	if err := runtime.DefaultUnstructuredConverter.FromUnstructured(u.Object, hd); err != nil {
		return nil, fmt.Errorf("can't convert %s: %w", u.GetName(), err)
	}
	return hd, nil
}

func toUnstructured(hd *HostDefinition) (*unstructured.Unstructured, error) {
	obj, err := runtime.DefaultUnstructuredConverter.ToUnstructured(hd)
	if err != nil {
		return nil, fmt.Errorf("can't convert %s: %w", hd.Name, err)
	}
	return &unstructured.Unstructured{Object: obj}, nil
}

// Get returns the named definition. A missing definition is reported with an
// error that satisfies apierrors.IsNotFound.
func (s *Store) Get(ctx context.Context, name string) (*HostDefinition, error) {
	u, err := s.resource().Get(ctx, name, metav1.GetOptions{})
	if err != nil {
		return nil, err
	}
	return FromUnstructured(u)
}

// List returns the definitions matching selector and the list resource version.
func (s *Store) List(ctx context.Context, selector labels.Selector) ([]*HostDefinition, string, error) {
	opts := metav1.ListOptions{}
	if selector != nil {
		opts.LabelSelector = selector.String()
	}
	list, err := s.resource().List(ctx, opts)
	if err != nil {
		return nil, "", err
	}
	out := make([]*HostDefinition, 0, len(list.Items))
	for i := range list.Items {
		hd, err := FromUnstructured(&list.Items[i])
		if err != nil {
			return nil, "", err
		}
		out = append(out, hd)
	}
	return out, list.GetResourceVersion(), nil
}

// ListForNode returns every definition of nodeName.
func (s *Store) ListForNode(ctx context.Context, nodeName string) ([]*HostDefinition, error) {
	defs, _, err := s.List(ctx, labels.SelectorFromSet(labels.Set{LabelNode: NodeLabel(nodeName)}))
	return defs, err
}

// Watch streams definition changes from resourceVersion on.
func (s *Store) Watch(ctx context.Context, options metav1.ListOptions) (watch.Interface, error) {
	return s.resource().Watch(ctx, options)
}

// Apply creates or updates the definition for spec and sets its phase. A create
// racing another writer is retried as an update.
func (s *Store) Apply(ctx context.Context, spec Spec, phase Phase) (*HostDefinition, error) {
	desired := New(spec)
	var out *HostDefinition
	err := retry.OnError(retry.DefaultRetry, retriable, func() error {
		current, err := s.Get(ctx, desired.Name)
		if apierrors.IsNotFound(err) {
			desired.Status.Phase = phase
			u, err := toUnstructured(desired)
			if err != nil {
				return err
			}
			created, err := s.resource().Create(ctx, u, metav1.CreateOptions{})
			if err != nil {
				return err
			}
			out, err = FromUnstructured(created)
			return err
		}
		if err != nil {
			return err
		}
		current.Spec = spec
		current.Status.Phase = phase
		for k, v := range desired.Labels {
			if current.Labels == nil {
				current.Labels = map[string]string{}
			}
			current.Labels[k] = v
		}
		if !hasFinalizer(current) {
			current.Finalizers = append(current.Finalizers, Finalizer)
		}
		out, err = s.update(ctx, current)
		return err
	})
	return out, err
}

func retriable(err error) bool {
	return apierrors.IsConflict(err) || apierrors.IsAlreadyExists(err)
}

// SetPhase updates the phase of an existing definition.
func (s *Store) SetPhase(ctx context.Context, name string, phase Phase) (*HostDefinition, error) {
	var out *HostDefinition
	err := retry.RetryOnConflict(retry.DefaultRetry, func() error {
		current, err := s.Get(ctx, name)
		if err != nil {
			return err
		}
		current.Status.Phase = phase
		out, err = s.update(ctx, current)
		return err
	})
	return out, err
}

// Delete removes the finalizer and deletes the definition. A missing definition is not an error.
func (s *Store) Delete(ctx context.Context, name string) error {
	err := retry.RetryOnConflict(retry.DefaultRetry, func() error {
		current, err := s.Get(ctx, name)
		if err != nil {
			return err
		}
		if !hasFinalizer(current) {
			return nil
		}
		finalizers := current.Finalizers[:0]
		for _, f := range current.Finalizers {
			if f != Finalizer {
				finalizers = append(finalizers, f)
			}
		}
		current.Finalizers = finalizers
		_, err = s.update(ctx, current)
		return err
	})
	if err != nil && !apierrors.IsNotFound(err) {
		return err
	}
	err = s.resource().Delete(ctx, name, metav1.DeleteOptions{})
	if err != nil && !apierrors.IsNotFound(err) {
		return err
	}
	return nil
}

func (s *Store) update(ctx context.Context, hd *HostDefinition) (*HostDefinition, error) {
	u, err := toUnstructured(hd)
	if err != nil {
		return nil, err
	}
	updated, err := s.resource().Update(ctx, u, metav1.UpdateOptions{})
	if err != nil {
		return nil, err
	}
	return FromUnstructured(updated)
}

func hasFinalizer(hd *HostDefinition) bool {
	for _, f := range hd.Finalizers {
		if f == Finalizer {
			return true
		}
	}
	return false
}
