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

// Package tracer provides OpenTracing tracer implementation
package tracer

import (
	"io"

	"github.com/opentracing/opentracing-go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/uber/jaeger-client-go/config"
	jprom "github.com/uber/jaeger-lib/metrics/prometheus"
)

// DefaultServiceName is used when JAEGER_SERVICE_NAME is not set
const DefaultServiceName = "csi-block-driver"

// TracerConfigurator represents tracer configurator
type TracerConfigurator interface {
	FromEnv() (*config.Configuration, error)
}

// EnvConfigurator reads the Jaeger configuration from JAEGER_* environment variables
type EnvConfigurator struct{}

// FromEnv implements TracerConfigurator
func (EnvConfigurator) FromEnv() (*config.Configuration, error) {
	return config.FromEnv()
}

// NewTracer returns a new tracer object; tracer metrics are registered on reg
func NewTracer(configurator TracerConfigurator, reg prometheus.Registerer) (opentracing.Tracer, io.Closer, error) {
	cfg, err := configurator.FromEnv()
	if err != nil {
		return nil, nil, err
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = DefaultServiceName
	}

	opts := []jprom.Option{}
	if reg != nil {
		opts = append(opts, jprom.WithRegisterer(reg))
	}
	return cfg.NewTracer(
		config.Metrics(jprom.New(opts...)),
	)
}

// Setup creates a tracer and registers it as the opentracing global tracer
func Setup(configurator TracerConfigurator, reg prometheus.Registerer) (io.Closer, error) {
	t, closer, err := NewTracer(configurator, reg)
	if err != nil {
		return nil, err
	}
	opentracing.SetGlobalTracer(t)
	return closer, nil
}
