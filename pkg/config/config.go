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

// Package config loads the plugin identity and controller settings file.
package config

import (
	"bytes"
	"fmt"
	"strings"
	"sync"

	"github.com/container-storage-interface/spec/lib/go/csi"
	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Capabilities lists plugin capabilities by their CSI enum names.
type Capabilities struct {
	Service         []string `mapstructure:"Service" yaml:"Service"`
	VolumeExpansion []string `mapstructure:"VolumeExpansion" yaml:"VolumeExpansion"`
}

// Identity is the plugin identity section.
type Identity struct {
	Name         string       `mapstructure:"name" yaml:"name"`
	Version      string       `mapstructure:"version" yaml:"version"`
	Capabilities Capabilities `mapstructure:"capabilities" yaml:"capabilities"`
}

// Controller holds the publish context key names.
type Controller struct {
	PublishContextLunParameter          string `mapstructure:"publish_context_lun_parameter" yaml:"publish_context_lun_parameter"`
	PublishContextConnectivityParameter string `mapstructure:"publish_context_connectivity_parameter" yaml:"publish_context_connectivity_parameter"`
	PublishContextSeparator             string `mapstructure:"publish_context_separator" yaml:"publish_context_separator"`
	PublishContextArrayIQN              string `mapstructure:"publish_context_array_iqn" yaml:"publish_context_array_iqn"`
	PublishContextFCInitiators          string `mapstructure:"publish_context_fc_initiators" yaml:"publish_context_fc_initiators"`
}

// Config is the whole plugin configuration.
type Config struct {
	Identity   Identity   `mapstructure:"identity" yaml:"identity"`
	Controller Controller `mapstructure:"controller" yaml:"controller"`
	LogLevel   string     `mapstructure:"log_level" yaml:"log_level"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Identity: Identity{
			Name:    "block.csi.ibm.com",
			Version: "1.0.0",
			Capabilities: Capabilities{
				Service:         []string{"CONTROLLER_SERVICE", "VOLUME_ACCESSIBILITY_CONSTRAINTS"},
				VolumeExpansion: []string{"ONLINE"},
			},
		},
		Controller: Controller{
			PublishContextLunParameter:          "PUBLISH_CONTEXT_LUN",
			PublishContextConnectivityParameter: "PUBLISH_CONTEXT_CONNECTIVITY",
			PublishContextSeparator:             ",",
			PublishContextArrayIQN:              "PUBLISH_CONTEXT_ARRAY_IQN",
			PublishContextFCInitiators:          "PUBLISH_CONTEXT_ARRAY_FC_INITIATORS",
		},
		LogLevel: "info",
	}
}

// Validate checks capability names against the CSI enums.
func (c *Config) Validate() error {
	if c.Identity.Name == "" {
		return fmt.Errorf("identity.name is required")
	}
	for _, s := range c.Identity.Capabilities.Service {
		if _, ok := csi.PluginCapability_Service_Type_value[s]; !ok {
			return fmt.Errorf("unknown service capability %q", s)
		}
	}
	for _, s := range c.Identity.Capabilities.VolumeExpansion {
		if _, ok := csi.PluginCapability_VolumeExpansion_Type_value[s]; !ok {
			return fmt.Errorf("unknown volume expansion capability %q", s)
		}
	}
	return nil
}

// Loader reads the config file and keeps the latest valid version.
type Loader struct {
	mu  sync.RWMutex
	v   *viper.Viper
	cfg *Config
}

// Load reads path over the built-in defaults. An empty path yields the defaults.
func Load(path string) (*Loader, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	defaults, err := yaml.Marshal(Default())
	if err != nil {
		return nil, err
	}
	if err := v.ReadConfig(bytes.NewReader(defaults)); err != nil {
		return nil, err
	}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.MergeInConfig(); err != nil {
			return nil, fmt.Errorf("unable to read config file %s: %w", path, err)
		}
	}

	l := &Loader{v: v}
	cfg, err := l.decode()
	if err != nil {
		return nil, err
	}
	l.cfg = cfg
	ApplyLogLevel(cfg.LogLevel)
	return l, nil
}

func (l *Loader) decode() (*Config, error) {
	cfg := &Config{}
	if err := l.v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Config returns the current configuration.
func (l *Loader) Config() *Config {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.cfg
}

// Watch reloads the file on change; an invalid file keeps the previous configuration.
func (l *Loader) Watch(onChange func(*Config)) {
	if l.v.ConfigFileUsed() == "" {
		return
	}
	l.v.OnConfigChange(func(e fsnotify.Event) {
		log.WithField("file", e.Name).Info("config file changed")
		l.mu.Lock()
		cfg, err := l.decode()
		if err != nil {
			l.mu.Unlock()
			log.WithError(err).Error("ignoring invalid config file")
			return
		}
		l.cfg = cfg
		l.mu.Unlock()
		ApplyLogLevel(cfg.LogLevel)
		if onChange != nil {
			onChange(cfg)
		}
	})
	l.v.WatchConfig()
}

// ApplyLogLevel sets the logrus level, falling back to info.
func ApplyLogLevel(level string) {
	l, err := logrus.ParseLevel(strings.ToLower(level))
	if err != nil {
		log.WithError(err).Errorf("log level %q not recognized, using info", level)
		l = logrus.InfoLevel
	}
	log.SetLevel(l)
}
