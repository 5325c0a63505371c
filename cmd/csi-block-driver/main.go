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

package main

import (
	"context"
	"errors"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/blockcsi/csi-block-driver/pkg/array"
	"github.com/blockcsi/csi-block-driver/pkg/array/powerstore"
	"github.com/blockcsi/csi-block-driver/pkg/common"
	"github.com/blockcsi/csi-block-driver/pkg/config"
	"github.com/blockcsi/csi-block-driver/pkg/controller"
	"github.com/blockcsi/csi-block-driver/pkg/gate"
	"github.com/blockcsi/csi-block-driver/pkg/identity"
	"github.com/blockcsi/csi-block-driver/pkg/interceptors"
	"github.com/blockcsi/csi-block-driver/pkg/metrics"
	"github.com/blockcsi/csi-block-driver/pkg/tracer"
	"github.com/csi-addons/spec/lib/go/fence"
	addons "github.com/csi-addons/spec/lib/go/identity"
	"github.com/csi-addons/spec/lib/go/replication"
	"github.com/csi-addons/spec/lib/go/volumegroup"
	"github.com/dell/gocsi"
	csiutils "github.com/dell/gocsi/utils/csi"
	grpc_middleware "github.com/grpc-ecosystem/go-grpc-middleware"
	grpc_opentracing "github.com/grpc-ecosystem/go-grpc-middleware/tracing/opentracing"
	"github.com/opentracing/opentracing-go"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
)

//go:generate go generate ../../core

const (
	flagCSIEndpoint     = "csi-endpoint"
	flagAddonsEndpoint  = "csi-addons-endpoint"
	flagConfig          = "config"
	flagMetricsAddress  = "metrics-address"
	flagConnectionLimit = "connection-limit"
)

type options struct {
	csiEndpoint     string
	addonsEndpoint  string
	configPath      string
	metricsAddress  string
	connectionLimit int
}

func main() {
	log.SetFormatter(&log.JSONFormatter{
		TimestampFormat: time.RFC3339Nano,
	})

	opts, err := parseOptions(os.Args[1:])
	if err != nil {
		log.Fatalf("couldn't parse options: %s", err.Error())
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, opts); err != nil {
		log.Errorf("controller plugin failed: %s", err.Error())
		stop()
		os.Exit(1)
	}
}

// parseOptions reads flags and their environment fallbacks; a flag given on the
// command line wins over the environment.
func parseOptions(args []string) (*options, error) {
	fs := pflag.NewFlagSet("csi-block-driver", pflag.ContinueOnError)
	fs.String(flagCSIEndpoint, "", "CSI endpoint, for example unix:///csi/csi.sock")
	fs.String(flagAddonsEndpoint, "", "CSI-Addons endpoint")
	fs.String(flagConfig, "", "path to the plugin config file")
	fs.String(flagMetricsAddress, "", "address of the metrics endpoint, disabled when empty")
	fs.Int(flagConnectionLimit, array.DefaultConnectionLimit, "live array connections per storage system")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	v := viper.New()
	if err := v.BindPFlags(fs); err != nil {
		return nil, err
	}
	envs := map[string]string{
		flagCSIEndpoint:     common.EnvCSIEndpoint,
		flagAddonsEndpoint:  common.EnvCSIAddonsEndpoint,
		flagConfig:          common.EnvConfigPath,
		flagMetricsAddress:  common.EnvMetricsAddress,
		flagConnectionLimit: common.EnvConnectionLimit,
	}
	for key, env := range envs {
		if err := v.BindEnv(key, env); err != nil {
			return nil, err
		}
	}

	opts := &options{
		csiEndpoint:     v.GetString(flagCSIEndpoint),
		addonsEndpoint:  v.GetString(flagAddonsEndpoint),
		configPath:      v.GetString(flagConfig),
		metricsAddress:  v.GetString(flagMetricsAddress),
		connectionLimit: v.GetInt(flagConnectionLimit),
	}
	if opts.csiEndpoint == "" {
		return nil, errors.New("csi endpoint is not specified")
	}
	if opts.addonsEndpoint == "" {
		return nil, errors.New("csi-addons endpoint is not specified")
	}
	if opts.connectionLimit <= 0 {
		opts.connectionLimit = array.DefaultConnectionLimit
	}
	return opts, nil
}

// listen removes a stale unix socket and binds endpoint.
func listen(endpoint string) (net.Listener, error) {
	common.RmSockFile(endpoint)
	proto, addr, err := csiutils.ParseProtoAddr(endpoint)
	if err != nil {
		return nil, err
	}
	return net.Listen(proto, addr)
}

func registerAddons(srv *grpc.Server, registry *array.Registry, cfg func() *config.Config) {
	addons.RegisterIdentityServer(srv, identity.NewAddonsService(cfg))
	volumegroup.RegisterControllerServer(srv, controller.NewVolumeGroupService(registry))
	replication.RegisterControllerServer(srv, controller.NewReplicationService(registry))
	fence.RegisterFenceControllerServer(srv, controller.NewFenceService(registry))
}

func run(ctx context.Context, opts *options) error {
	loader, err := config.Load(opts.configPath)
	if err != nil {
		return err
	}
	loader.Watch(nil)
	common.Name = loader.Config().Identity.Name
	log.WithField("csi_version", common.EnvString(ctx, common.EnvCSIVersion, "")).
		Infof("starting %s %s", common.Name, loader.Config().Identity.Version)

	m := metrics.New()
	interList := []grpc.UnaryServerInterceptor{
		interceptors.NewRewriteRequestIDInterceptor(),
		interceptors.NewLoggingInterceptor(),
		interceptors.NewMetricsInterceptor(m),
		interceptors.NewObjectLock(gate.NewRegistry(), m),
	}

	if common.EnvBool(ctx, common.EnvDebugEnableTracing, false) {
		log.Infof("Detected debug flag. Enabling tracing interceptor")
		closer, err := tracer.Setup(tracer.EnvConfigurator{}, m.Registry())
		if err != nil {
			return err
		}
		defer closer.Close()
		interList = append(interList, grpc_opentracing.UnaryServerInterceptor(
			grpc_opentracing.WithTracer(opentracing.GlobalTracer())))
	}

	registry := array.NewRegistry(opts.connectionLimit, powerstore.Variant())
	defer registry.Close()

	plugin := &gocsi.StoragePlugin{
		Controller:   controller.NewService(registry, loader.Config),
		Identity:     identity.NewIdentityService(loader.Config, common.Manifest),
		Interceptors: interList,
		EnvVars: []string{
			// Enable request validation.
			gocsi.EnvVarSpecReqValidation + "=true",
		},
	}
	addonsServer := grpc.NewServer(grpc.UnaryInterceptor(grpc_middleware.ChainUnaryServer(interList...)))
	registerAddons(addonsServer, registry, loader.Config)

	csiListener, err := listen(opts.csiEndpoint)
	if err != nil {
		return err
	}
	addonsListener, err := listen(opts.addonsEndpoint)
	if err != nil {
		csiListener.Close()
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return plugin.Serve(gctx, csiListener) })
	g.Go(func() error { return addonsServer.Serve(addonsListener) })
	if opts.metricsAddress != "" {
		g.Go(func() error { return m.Serve(gctx, opts.metricsAddress) })
	}
	g.Go(func() error {
		<-gctx.Done()
		log.Info("stopping controller plugin")
		plugin.Stop(context.Background())
		addonsServer.Stop()
		return nil
	})
	return g.Wait()
}
