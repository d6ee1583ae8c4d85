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

package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/go-playground/validator/v10"
	zlog "github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/opsentra/opsentra/internal/aggregator/supervisor"
	"github.com/opsentra/opsentra/internal/config"
	"github.com/opsentra/opsentra/internal/logging"
)

// CLI holds the flags this entry point recognizes. Loading flags and
// environment files beyond this is out of scope (spec.md §1); the
// wiring below just gets an AggregatorConfig into the supervisor's
// hands.
type CLI struct {
	Config string `validate:"omitempty,file"`
}

func main() {
	var cli CLI
	var params []string

	cmd := cobra.Command{
		Use:   "opsentra-aggregator",
		Short: "OpSentra log aggregator",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return validator.New().Struct(cli)
		},
		Run: func(cmd *cobra.Command, args []string) {
			quit := make(chan os.Signal, 1)
			signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
			defer close(quit)

			v := viper.New()
			v.BindPFlag("listen-address", cmd.Flags().Lookup("listen-address"))

			for _, param := range params {
				split := strings.SplitN(param, ":", 2)
				if len(split) == 2 {
					v.Set(split[0], split[1])
				}
			}
			if cli.Config != "" {
				v.SetConfigFile(cli.Config)
				if err := v.ReadInConfig(); err != nil {
					zlog.Fatal().Caller().Err(err).Send()
				}
			}

			cfg, err := config.NewAggregatorConfig(v)
			if err != nil {
				zlog.Fatal().Caller().Err(err).Send()
			}

			logging.Configure(logging.Options{
				Level:  cfg.Logging.Level,
				Format: cfg.Logging.Format,
			})

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			sup := supervisor.New(cfg, logging.Component("aggregator"))

			runErr := make(chan error, 1)
			go func() {
				runErr <- sup.Run(ctx)
			}()

			select {
			case <-quit:
				zlog.Info().Msg("aggregator: shutdown signal received")
				cancel()
				<-runErr
			case err := <-runErr:
				if err != nil {
					zlog.Fatal().Caller().Err(err).Send()
				}
			}
		},
	}

	flagset := cmd.Flags()
	flagset.SortFlags = false
	flagset.StringVarP(&cli.Config, "config", "c", "", "Path to configuration file")
	flagset.String("listen-address", ":8080", "HTTP listen address")
	flagset.StringArrayVarP(&params, "param", "p", []string{}, "Config params")

	if err := cmd.Execute(); err != nil {
		zlog.Fatal().Caller().Err(err).Send()
	}
}
