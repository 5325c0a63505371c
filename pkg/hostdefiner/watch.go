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
	"time"

	log "github.com/sirupsen/logrus"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/watch"
	watchtools "k8s.io/client-go/tools/watch"
)

const relistDelay = 5 * time.Second

// source is one watched resource kind. relisted, when set, sees every complete
// list before its items are replayed.
type source struct {
	kind     string
	list     func(ctx context.Context) ([]runtime.Object, string, error)
	relisted func(objs []runtime.Object)
	watch    func(ctx context.Context, opts metav1.ListOptions) (watch.Interface, error)
	handle   func(ctx context.Context, ev watch.Event)
}

// watcherFunc adapts a function to cache.Watcher.
type watcherFunc func(opts metav1.ListOptions) (watch.Interface, error)

func (f watcherFunc) Watch(opts metav1.ListOptions) (watch.Interface, error) {
	return f(opts)
}

func (r *Reconciler) sources() []source {
	return []source{
		{
			kind: "CSINode",
			list: func(ctx context.Context) ([]runtime.Object, string, error) {
				l, err := r.kube.StorageV1().CSINodes().List(ctx, metav1.ListOptions{})
				if err != nil {
					return nil, "", err
				}
				objs := make([]runtime.Object, 0, len(l.Items))
				for i := range l.Items {
					objs = append(objs, &l.Items[i])
				}
				return objs, l.ResourceVersion, nil
			},
			watch: func(ctx context.Context, opts metav1.ListOptions) (watch.Interface, error) {
				return r.kube.StorageV1().CSINodes().Watch(ctx, opts)
			},
			handle: r.HandleCSINode,
		},
		{
			kind: "HostDefinition",
			list: func(ctx context.Context) ([]runtime.Object, string, error) {
				defs, rv, err := r.store.List(ctx, nil)
				if err != nil {
					return nil, "", err
				}
				objs := make([]runtime.Object, 0, len(defs))
				for _, hd := range defs {
					u, err := runtime.DefaultUnstructuredConverter.ToUnstructured(hd)
					if err != nil {
						return nil, "", err
					}
					objs = append(objs, &unstructured.Unstructured{Object: u})
				}
				return objs, rv, nil
			},
			watch:  r.store.Watch,
			handle: r.HandleHostDefinition,
		},
		{
			kind: "Secret",
			list: func(ctx context.Context) ([]runtime.Object, string, error) {
				l, err := r.kube.CoreV1().Secrets(metav1.NamespaceAll).List(ctx, metav1.ListOptions{})
				if err != nil {
					return nil, "", err
				}
				// existing secrets are picked up through storage classes
				return nil, l.ResourceVersion, nil
			},
			watch: func(ctx context.Context, opts metav1.ListOptions) (watch.Interface, error) {
				return r.kube.CoreV1().Secrets(metav1.NamespaceAll).Watch(ctx, opts)
			},
			handle: r.HandleSecret,
		},
		{
			kind: "Node",
			list: func(ctx context.Context) ([]runtime.Object, string, error) {
				l, err := r.kube.CoreV1().Nodes().List(ctx, metav1.ListOptions{})
				if err != nil {
					return nil, "", err
				}
				objs := make([]runtime.Object, 0, len(l.Items))
				for i := range l.Items {
					objs = append(objs, &l.Items[i])
				}
				return objs, l.ResourceVersion, nil
			},
			watch: func(ctx context.Context, opts metav1.ListOptions) (watch.Interface, error) {
				return r.kube.CoreV1().Nodes().Watch(ctx, opts)
			},
			handle: r.HandleNode,
		},
		{
			kind: "StorageClass",
			list: func(ctx context.Context) ([]runtime.Object, string, error) {
				l, err := r.kube.StorageV1().StorageClasses().List(ctx, metav1.ListOptions{})
				if err != nil {
					return nil, "", err
				}
				objs := make([]runtime.Object, 0, len(l.Items))
				for i := range l.Items {
					objs = append(objs, &l.Items[i])
				}
				return objs, l.ResourceVersion, nil
			},
			watch: func(ctx context.Context, opts metav1.ListOptions) (watch.Interface, error) {
				return r.kube.StorageV1().StorageClasses().Watch(ctx, opts)
			},
			handle:   r.HandleStorageClass,
			relisted: r.resyncStorageClasses,
		},
	}
}

// watch lists the resource, replays the items as ADDED events and follows the
// change stream. The stream is re-listed whenever it ends or expires.
func (r *Reconciler) watch(ctx context.Context, s source) error {
	logger := log.WithField("kind", s.kind)
	for {
		if err := r.watchOnce(ctx, s); err != nil {
			logger.WithError(err).Warn("watch interrupted")
		}
		if ctx.Err() != nil {
			return nil
		}
		logger.Debug("re-listing")
		if err := r.sleep(ctx, relistDelay); err != nil {
			return nil
		}
	}
}

func (r *Reconciler) watchOnce(ctx context.Context, s source) error {
	objs, rv, err := s.list(ctx)
	if err != nil {
		return err
	}
	if s.relisted != nil {
		s.relisted(objs)
	}
	for _, obj := range objs {
		s.handle(ctx, watch.Event{Type: watch.Added, Object: obj})
	}

	var w watch.Interface
	if rv == "" || rv == "0" {
		w, err = s.watch(ctx, metav1.ListOptions{})
	} else {
		w, err = watchtools.NewRetryWatcher(rv, watcherFunc(func(opts metav1.ListOptions) (watch.Interface, error) {
			return s.watch(ctx, opts)
		}))
	}
	if err != nil {
		return err
	}
	defer w.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.ResultChan():
			if !ok {
				return nil
			}
			if ev.Type == watch.Error {
				return apierrors.FromObject(ev.Object)
			}
			if ev.Type == watch.Bookmark {
				continue
			}
			s.handle(ctx, ev)
		}
	}
}
