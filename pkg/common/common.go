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

// Package common provides constants, log field helpers and environment lookups shared by the
// controller plugin and the host definer.
package common

import (
	"context"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/blockcsi/csi-block-driver/core"
	csictx "github.com/dell/gocsi/context"
	csiutils "github.com/dell/gocsi/utils/csi"
	log "github.com/sirupsen/logrus"
)

// Name contains default name of the driver, can be overridden by the config file
var Name = "block.csi.ibm.com"

// Manifest contains additional information about the driver
var Manifest = map[string]string{
	"url":    "https://github.com/blockcsi/csi-block-driver",
	"semver": core.SemVer,
	"commit": core.CommitSha32,
	"formed": core.CommitTime.Format(time.RFC1123),
}

type key int

const (
	// VerboseName longer description of the driver
	VerboseName = "CSI block driver controller"

	contextLogFieldsKey key = iota
)

// RmSockFile removes a unix socket left behind by a previous run of the plugin.
func RmSockFile(endpoint string) {
	proto, addr, err := csiutils.ParseProtoAddr(endpoint)
	if err != nil {
		log.Errorf("Error: failed to parse endpoint %s: %s", endpoint, err.Error())
		return
	}
	if proto != "unix" {
		return
	}
	if _, err := os.Stat(addr); err == nil {
		if err = os.RemoveAll(addr); err != nil {
			log.Errorf("Error: failed to remove socket file %s: %s", addr, err.Error())
			return
		}
		log.Infof("removed socket file %s", addr)
	} else if !os.IsNotExist(err) {
		log.Errorf("Error: socket file %s may or may not exist: %s", addr, err.Error())
	}
}

// SetLogFields returns modified context with fields inserted as values by using contextLogFieldsKey key
func SetLogFields(ctx context.Context, fields log.Fields) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, contextLogFieldsKey, fields)
}

// GetLogFields extracts log fields from context by using contextLogFieldsKey key
func GetLogFields(ctx context.Context) log.Fields {
	if ctx == nil {
		return log.Fields{}
	}
	fields, ok := ctx.Value(contextLogFieldsKey).(log.Fields)
	if !ok {
		fields = log.Fields{}
	}
	csiReqID, ok := ctx.Value(csictx.RequestIDKey).(string)
	if !ok {
		return fields
	}
	fields["RequestID"] = csiReqID
	return fields
}

// EnvString returns the value of the env var name or def when unset.
func EnvString(ctx context.Context, name, def string) string {
	if v, ok := csictx.LookupEnv(ctx, name); ok && v != "" {
		return v
	}
	return def
}

// EnvBool returns true when name is set to a true value, def when unset or unparsable.
func EnvBool(ctx context.Context, name string, def bool) bool {
	v, ok := csictx.LookupEnv(ctx, name)
	if !ok || v == "" {
		return def
	}
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		log.Warnf("can't parse %s=%q as bool, using %v", name, v, def)
		return def
	}
	return b
}

// EnvInt returns name parsed as a positive integer, def otherwise.
func EnvInt(ctx context.Context, name string, def int) int {
	v, ok := csictx.LookupEnv(ctx, name)
	if !ok || v == "" {
		return def
	}
	i, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || i <= 0 {
		log.Warnf("can't parse %s=%q as positive integer, using %d", name, v, def)
		return def
	}
	return i
}

// EnvDuration returns name parsed as a duration ("3s") or a number of seconds, def otherwise.
func EnvDuration(ctx context.Context, name string, def time.Duration) time.Duration {
	v, ok := csictx.LookupEnv(ctx, name)
	if !ok || v == "" {
		return def
	}
	v = strings.TrimSpace(v)
	if d, err := time.ParseDuration(v); err == nil && d > 0 {
		return d
	}
	if s, err := strconv.ParseFloat(v, 64); err == nil && s > 0 {
		return time.Duration(s * float64(time.Second))
	}
	log.Warnf("can't parse %s=%q as duration, using %s", name, v, def)
	return def
}
