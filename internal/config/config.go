// Copyright 2025 The OpSentra Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config holds the Shipper and Aggregator configuration
// surfaces described in spec.md §6. Loading flags/env files is out of
// scope (spec.md §1); this package only defines the recognized options,
// their defaults, and validation, and unmarshals from any viper.Viper
// the caller hands it.
package config

import (
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/opsentra/opsentra/internal/opserr"
)

// ShipperConfig is the Shipper's configuration surface (spec.md §6).
type ShipperConfig struct {
	BrokerURL         string   `mapstructure:"broker-url" validate:"required,url"`
	LogPaths          []string `mapstructure:"log-paths"`
	ContainerEnabled  bool     `mapstructure:"container-enabled"`
	PodEnabled        bool     `mapstructure:"pod-enabled"`
	CIEnabled         bool     `mapstructure:"ci-enabled"`
	ContainerLogsDir  string   `mapstructure:"container-logs-dir"`
	PodLogsDir        string   `mapstructure:"pod-logs-dir"`
	CIRoots           []string `mapstructure:"ci-roots"`
	CustomPaths       []string `mapstructure:"custom-paths"`
	BatchSize         int      `mapstructure:"batch-size" validate:"gt=0"`
	BatchTimeoutMs    int      `mapstructure:"batch-timeout-ms" validate:"gt=0"`
	RetryWindowSecs   int      `mapstructure:"retry-window-secs" validate:"gte=5"`

	Logging struct {
		Level  string `validate:"oneof=trace debug info warn error fatal disabled"`
		Format string `validate:"oneof=json pretty"`
	}
}

// AggregatorConfig is the Aggregator's configuration surface (spec.md §6).
type AggregatorConfig struct {
	BrokerURL               string `mapstructure:"broker-url" validate:"required,url"`
	StoreURI                string `mapstructure:"store-uri" validate:"required"`
	ObjectStoreRegion       string `mapstructure:"object-store-region" validate:"required"`
	ObjectStoreAccessKey    string `mapstructure:"object-store-access-key"`
	ObjectStoreSecretKey    string `mapstructure:"object-store-secret-key"`
	BucketPrefix            string `mapstructure:"bucket-prefix" validate:"required"`
	ArchiveIntervalMinutes  int    `mapstructure:"archive-interval-minutes" validate:"gt=0"`
	ArchiveBatchLimit       int    `mapstructure:"archive-batch-limit" validate:"gt=0"`
	ArchiveWindowMinutes    int    `mapstructure:"archive-window-minutes" validate:"gt=0"`
	ListenAddress           string `mapstructure:"listen-address" validate:"required,hostname_port"`
	SubscriberBufferSize    int    `mapstructure:"subscriber-buffer-size" validate:"gt=0"`
	PublisherPrefetch       int    `mapstructure:"publisher-prefetch" validate:"gt=0"`

	Logging struct {
		Level  string `validate:"oneof=trace debug info warn error fatal disabled"`
		Format string `validate:"oneof=json pretty"`
	}
}

// DefaultShipperConfig returns the Shipper config with spec.md §6
// defaults applied (brokerUrl has no default and must be supplied).
func DefaultShipperConfig() *ShipperConfig {
	cfg := &ShipperConfig{}
	cfg.ContainerEnabled = true
	cfg.PodEnabled = true
	cfg.CIEnabled = false
	cfg.ContainerLogsDir = "/var/lib/docker/containers"
	cfg.PodLogsDir = "/var/log/pods"
	cfg.BatchSize = 10000
	cfg.BatchTimeoutMs = 1000
	cfg.RetryWindowSecs = 5
	cfg.Logging.Level = "info"
	cfg.Logging.Format = "json"
	return cfg
}

// DefaultAggregatorConfig returns the Aggregator config with spec.md §6
// defaults applied (brokerUrl, storeUri, objectStoreRegion, and
// bucketPrefix have no default and must be supplied).
func DefaultAggregatorConfig() *AggregatorConfig {
	cfg := &AggregatorConfig{}
	cfg.ArchiveIntervalMinutes = 10
	cfg.ArchiveBatchLimit = 10000
	cfg.ArchiveWindowMinutes = 10
	cfg.ListenAddress = ":8080"
	cfg.SubscriberBufferSize = 1000
	cfg.PublisherPrefetch = 10
	cfg.Logging.Level = "info"
	cfg.Logging.Format = "json"
	return cfg
}

// NewShipperConfig builds a ShipperConfig by unmarshaling v onto the
// defaults and validating the result.
func NewShipperConfig(v *viper.Viper) (*ShipperConfig, error) {
	cfg := DefaultShipperConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("%w: unmarshal shipper config: %w", opserr.ErrConfig, err)
	}
	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("%w: %w", opserr.ErrConfig, err)
	}
	return cfg, nil
}

// NewAggregatorConfig builds an AggregatorConfig by unmarshaling v onto
// the defaults and validating the result.
func NewAggregatorConfig(v *viper.Viper) (*AggregatorConfig, error) {
	cfg := DefaultAggregatorConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("%w: unmarshal aggregator config: %w", opserr.ErrConfig, err)
	}
	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("%w: %w", opserr.ErrConfig, err)
	}
	return cfg, nil
}
