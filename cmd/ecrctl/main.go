// Copyright 2026 The Zaparoo Project Contributors.
// SPDX-License-Identifier: Apache-2.0
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
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	ecr "github.com/ZaparooProject/go-ecr"
	"github.com/ZaparooProject/go-ecr/internal/config"
	"github.com/ZaparooProject/go-ecr/internal/logging"
)

// Package-level flag variables
var (
	flagConfig         string
	flagPort           string
	flagDebug          bool
	flagSessionLog     bool
	flagJSON           bool
	flagConnectTimeout time.Duration
)

func init() {
	flag.StringVar(&flagConfig, "config", "", "Path to a YAML config file (default: ./ecr.yaml if present)")
	flag.StringVar(&flagPort, "port", "", "Serial port of the terminal (auto-detect if empty)")
	flag.BoolVar(&flagDebug, "debug", false, "Enable debug output")
	flag.BoolVar(&flagSessionLog, "session-log", false, "Write a debug session log to ecr_<time>.log")
	flag.BoolVar(&flagJSON, "json", false, "Print responses as JSON")
	flag.DurationVar(&flagConnectTimeout, "connect-timeout", 10*time.Second,
		"How long one-shot commands wait for the terminal cable")
}

func usage() {
	out := flag.CommandLine.Output()
	_, _ = fmt.Fprintf(out, "Usage: %s [flags] [command [args...]]\n\nCommands:\n", os.Args[0])
	for _, cmd := range commands {
		_, _ = fmt.Fprintf(out, "  %-28s %s\n", cmd.name+" "+cmd.usage, cmd.help)
	}
	_, _ = fmt.Fprintln(out, "\nWithout a command an interactive shell is started.\n\nFlags:")
	flag.PrintDefaults()
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return nil, err
	}
	if flagPort != "" {
		cfg.Serial.Port = flagPort
	}
	if flagDebug {
		cfg.Logging.Level = "debug"
	}
	return cfg, nil
}

func setupLogging(cfg *config.Config) (func(), error) {
	logger, closeLog, err := logging.New(cfg.Logging)
	if err != nil {
		return nil, err
	}
	ecr.SetLogger(logger)
	ecr.SetDebugEnabled(flagDebug)

	if flagSessionLog {
		path, err := ecr.InitSessionLog()
		if err != nil {
			_ = closeLog()
			return nil, err
		}
		_, _ = fmt.Fprintf(os.Stderr, "Session log: %s\n", path)
	}

	return func() {
		if flagSessionLog {
			_ = ecr.CloseSessionLog()
		}
		ecr.SetLogger(nil)
		_ = closeLog()
	}, nil
}

func run(ctx context.Context, cfg *config.Config, args []string) error {
	if len(args) > 0 && args[0] == "ports" {
		return listPorts(ctx, os.Stdout, cfg)
	}

	a := newApp(cfg, os.Stdout, flagJSON)
	defer func() {
		if err := a.Close(); err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "Failed to close controller: %v\n", err)
		}
	}()

	if err := a.start(ctx); err != nil {
		return err
	}

	if len(args) == 0 || args[0] == "shell" {
		return runShell(ctx, a)
	}

	if err := a.waitConnected(ctx, flagConnectTimeout); err != nil {
		return err
	}
	return a.execute(ctx, args)
}

func main() {
	flag.Usage = usage
	flag.Parse()
	os.Exit(mainWithExitCode(flag.Args()))
}

func mainWithExitCode(args []string) int {
	cfg, err := loadConfig()
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 2
	}

	cleanup, err := setupLogging(cfg)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 2
	}
	defer cleanup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	go func() {
		select {
		case <-sigChan:
			_, _ = fmt.Fprint(os.Stderr, "\nShutting down...\n")
			cancel()
		case <-ctx.Done():
		}
	}()

	if err := run(ctx, cfg, args); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, ecr.ErrUserCancelled) {
			return 130
		}
		_, _ = fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}
