/*
 * Copyright 2026 DroidFleet Labs.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// fleetsync keeps a live, consistent client-side view of a managed Android
// device fleet, fed by the MDM backend's push channel and REST API.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/droidfleet/fleetsync/pkg/client"
	"github.com/droidfleet/fleetsync/pkg/config"
	"github.com/droidfleet/fleetsync/pkg/logger"
	"github.com/droidfleet/fleetsync/pkg/models"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fleetsync: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "/etc/fleetsync/fleetsync.json", "Path to the service configuration file")
	flag.Parse()

	ctx := context.Background()

	var cfg models.ServiceConfig

	loader := config.NewConfig(nil)
	if err := loader.LoadAndValidate(ctx, *configPath, &cfg); err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log, err := logger.New(&logger.Config{
		Level:      cfg.Logging.Level,
		Debug:      cfg.Logging.Debug,
		Output:     cfg.Logging.Output,
		TimeFormat: cfg.Logging.TimeFormat,
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	// Tokens come from the environment in deployments where the config
	// file is checked in.
	if token := os.Getenv("FLEETSYNC_AUTH_TOKEN"); token != "" {
		cfg.Transport.AuthToken = token
		cfg.API.AuthToken = token
	}

	svc, err := client.New(&cfg, log)
	if err != nil {
		return fmt.Errorf("build service: %w", err)
	}

	if err := svc.Start(ctx); err != nil {
		return fmt.Errorf("start service: %w", err)
	}

	log.Info().
		Str("transport_url", cfg.Transport.URL).
		Str("api_url", cfg.API.BaseURL).
		Msg("fleetsync started")

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, syscall.SIGINT, syscall.SIGTERM)
	<-interrupt

	log.Info().Msg("Shutting down")
	svc.Stop()

	return nil
}
