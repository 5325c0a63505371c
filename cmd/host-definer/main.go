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
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/blockcsi/csi-block-driver/pkg/array"
	"github.com/blockcsi/csi-block-driver/pkg/array/powerstore"
	"github.com/blockcsi/csi-block-driver/pkg/common"
	"github.com/blockcsi/csi-block-driver/pkg/common/k8sutils"
	"github.com/blockcsi/csi-block-driver/pkg/config"
	"github.com/blockcsi/csi-block-driver/pkg/hostdefiner"
	"github.com/blockcsi/csi-block-driver/pkg/hostdefinition"
	"github.com/blockcsi/csi-block-driver/pkg/metrics"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"
)

const (
	flagKubeconfig      = "kubeconfig"
	flagMetricsAddress  = "metrics-address"
	flagConnectionLimit = "connection-limit"
	flagLogLevel        = "log-level"
)

type options struct {
	kubeconfig      string
	metricsAddress  string
	connectionLimit int
	logLevel        string
}

func main() {
	log.SetFormatter(&log.JSONFormatter{
		TimestampFormat: time.RFC3339Nano,
	})

	opts, err := parseOptions(os.Args[1:])
	if err != nil {
		log.Fatalf("couldn't parse options: %s", err.Error())
	}
	config.ApplyLogLevel(opts.logLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, opts); err != nil {
		log.Errorf("host definer failed: %s", err.Error())
		stop()
		os.Exit(1)
	}
}

func parseOptions(args []string) (*options, error) {
	fs := pflag.NewFlagSet("host-definer", pflag.ContinueOnError)
	fs.String(flagKubeconfig, "", "path to a kubeconfig, in-cluster config when empty")
	fs.String(flagMetricsAddress, "", "address of the metrics endpoint, disabled when empty")
	fs.Int(flagConnectionLimit, array.DefaultConnectionLimit, "live array connections per storage system")
	fs.String(flagLogLevel, "info", "log level")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	v := viper.New()
	if err := v.BindPFlags(fs); err != nil {
		return nil, err
	}
	for key, env := range map[string]string{
		flagKubeconfig:      common.EnvKubeConfigPath,
		flagMetricsAddress:  common.EnvMetricsAddress,
		flagConnectionLimit: common.EnvConnectionLimit,
	} {
		if err := v.BindEnv(key, env); err != nil {
			return nil, err
		}
	}

	opts := &options{
		kubeconfig:      v.GetString(flagKubeconfig),
		metricsAddress:  v.GetString(flagMetricsAddress),
		connectionLimit: v.GetInt(flagConnectionLimit),
		logLevel:        v.GetString(flagLogLevel),
	}
	if opts.connectionLimit <= 0 {
		opts.connectionLimit = array.DefaultConnectionLimit
	}
	return opts, nil
}

func run(ctx context.Context, opts *options) error {
	clients, err := k8sutils.CreateClients(opts.kubeconfig)
	if err != nil {
		return err
	}
	recorder, broadcaster, err := hostdefiner.NewEventRecorder(clients.Kube)
	if err != nil {
		return err
	}
	defer broadcaster.Shutdown()

	registry := array.NewRegistry(opts.connectionLimit, powerstore.Variant())
	defer registry.Close()

	m := metrics.New()
	cfg := hostdefiner.ConfigFromEnv(ctx)
	reconciler := hostdefiner.NewReconciler(cfg, clients.Kube, hostdefinition.NewStore(clients.Dynamic),
		hostdefiner.NewRegistryHostManager(registry), recorder, hostdefiner.WithMetrics(m))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return reconciler.Run(gctx) })
	if opts.metricsAddress != "" {
		g.Go(func() error { return m.Serve(gctx, opts.metricsAddress) })
	}
	err = g.Wait()
	if ctx.Err() != nil {
		log.Info("host definer stopped")
		return nil
	}
	return err
}
