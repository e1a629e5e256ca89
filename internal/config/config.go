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

// Package config loads go-ecr settings from an optional YAML file and
// ECR_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/ZaparooProject/go-ecr"
	"github.com/ZaparooProject/go-ecr/detection"
	"github.com/ZaparooProject/go-ecr/transport/uart"
)

// EnvPrefix is prepended to environment overrides, e.g. ECR_SERIAL_PORT.
const EnvPrefix = "ECR"

// ErrInvalidConfig is wrapped by every validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config represents the application configuration
type Config struct {
	Serial    SerialConfig    `mapstructure:"serial"`
	Protocol  ProtocolConfig  `mapstructure:"protocol"`
	Detection DetectionConfig `mapstructure:"detection"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// SerialConfig describes the terminal link. The line is always 8N1.
type SerialConfig struct {
	// Port pins the device path; empty enables detection.
	Port        string        `mapstructure:"port"`
	BaudRate    int           `mapstructure:"baud_rate"`
	ReadTimeout time.Duration `mapstructure:"read_timeout"`
	WriteQueue  int           `mapstructure:"write_queue"`
}

// ProtocolConfig holds the transaction timing.
type ProtocolConfig struct {
	AckTimeout         time.Duration `mapstructure:"ack_timeout"`
	ResponseTimeout    time.Duration `mapstructure:"response_timeout"`
	SimpleSendTimeout  time.Duration `mapstructure:"simple_send_timeout"`
	WriteAcceptTimeout time.Duration `mapstructure:"write_accept_timeout"`
	SettleDelay        time.Duration `mapstructure:"settle_delay"`
	MaxRetries         int           `mapstructure:"max_retries"`
	MaxInvalidFrames   int           `mapstructure:"max_invalid_frames"`
	ImplicitAck        bool          `mapstructure:"implicit_ack"`
}

// DetectionConfig controls the hot-plug watcher.
type DetectionConfig struct {
	Blocklist     []string      `mapstructure:"blocklist"`
	IgnorePaths   []string      `mapstructure:"ignore_paths"`
	PollInterval  time.Duration `mapstructure:"poll_interval"`
	IncludeNonUSB bool          `mapstructure:"include_non_usb"`
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	Output     string `mapstructure:"output"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
	Compress   bool   `mapstructure:"compress"`
}

// Load reads configuration. path names a YAML file; when empty, ecr.yaml is
// looked up in the working directory and /etc/ecr, and a missing file is
// not an error.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("ecr")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/ecr")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the configuration used when nothing is overridden.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	// Defaults always decode.
	_ = v.Unmarshal(&cfg)
	return &cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("serial.port", "")
	v.SetDefault("serial.baud_rate", uart.DefaultBaudRate)
	v.SetDefault("serial.read_timeout", uart.DefaultReadTimeout)
	v.SetDefault("serial.write_queue", uart.DefaultWriteQueue)

	v.SetDefault("protocol.ack_timeout", ecr.DefaultAckTimeout)
	v.SetDefault("protocol.response_timeout", ecr.DefaultTransactionResponseTimeout)
	v.SetDefault("protocol.simple_send_timeout", ecr.DefaultSimpleSendResponseTimeout)
	v.SetDefault("protocol.write_accept_timeout", ecr.DefaultWriteAcceptTimeout)
	v.SetDefault("protocol.settle_delay", ecr.DefaultDiscoverySettleDelay)
	v.SetDefault("protocol.max_retries", ecr.DefaultMaxRetries)
	v.SetDefault("protocol.max_invalid_frames", ecr.DefaultMaxInvalidFrames)
	v.SetDefault("protocol.implicit_ack", true)

	v.SetDefault("detection.blocklist", detection.DefaultBlocklist())
	v.SetDefault("detection.ignore_paths", []string{})
	v.SetDefault("detection.poll_interval", detection.DefaultPollInterval)
	v.SetDefault("detection.include_non_usb", false)

	v.SetDefault("logging.level", "warn")
	v.SetDefault("logging.format", "console")
	v.SetDefault("logging.output", "stderr")
	v.SetDefault("logging.max_size", 10)
	v.SetDefault("logging.max_backups", 3)
	v.SetDefault("logging.max_age", 28)
	v.SetDefault("logging.compress", false)
}

// Validate checks the values that the protocol stack cannot recover from.
func (c *Config) Validate() error {
	if c.Serial.BaudRate <= 0 {
		return fmt.Errorf("%w: serial.baud_rate must be positive", ErrInvalidConfig)
	}
	if err := c.TransactionPolicy().Validate(); err != nil {
		return fmt.Errorf("%w: protocol: %w", ErrInvalidConfig, err)
	}
	if c.Protocol.SimpleSendTimeout <= 0 {
		return fmt.Errorf("%w: protocol.simple_send_timeout must be positive", ErrInvalidConfig)
	}
	if c.Protocol.MaxInvalidFrames < 1 {
		return fmt.Errorf("%w: protocol.max_invalid_frames must be at least 1", ErrInvalidConfig)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("%w: unknown logging.level %q", ErrInvalidConfig, c.Logging.Level)
	}
	return nil
}

// TransactionPolicy returns the policy for SendDataAndAwaitTransaction.
func (c *Config) TransactionPolicy() ecr.RetryPolicy {
	return ecr.RetryPolicy{
		MaxRetries:         c.Protocol.MaxRetries,
		AckTimeout:         c.Protocol.AckTimeout,
		ResponseTimeout:    c.Protocol.ResponseTimeout,
		ImplicitAckOnFrame: c.Protocol.ImplicitAck,
	}
}

// SimpleSendPolicy returns the single-attempt policy for SendData.
func (c *Config) SimpleSendPolicy() ecr.RetryPolicy {
	return ecr.RetryPolicy{
		AckTimeout:         c.Protocol.AckTimeout,
		ResponseTimeout:    c.Protocol.SimpleSendTimeout,
		ImplicitAckOnFrame: c.Protocol.ImplicitAck,
	}
}

// ControllerOptions returns the controller options derived from c.
func (c *Config) ControllerOptions() []ecr.Option {
	return []ecr.Option{
		ecr.WithTransactionPolicy(c.TransactionPolicy()),
		ecr.WithSimpleSendPolicy(c.SimpleSendPolicy()),
		ecr.WithWriteTimeout(c.Protocol.WriteAcceptTimeout),
		ecr.WithSettleDelay(c.Protocol.SettleDelay),
		ecr.WithMaxInvalidFrames(c.Protocol.MaxInvalidFrames),
	}
}

// UART returns the serial transport configuration.
func (c *Config) UART() uart.Config {
	return uart.Config{
		BaudRate:    c.Serial.BaudRate,
		ReadTimeout: c.Serial.ReadTimeout,
		WriteQueue:  c.Serial.WriteQueue,
	}
}

// DetectionOptions returns the options for each watcher scan.
func (c *Config) DetectionOptions() detection.Options {
	opts := detection.DefaultOptions()
	opts.Blocklist = c.Detection.Blocklist
	opts.IgnorePaths = c.Detection.IgnorePaths
	if c.Detection.IncludeNonUSB {
		opts.MinConfidence = detection.Low
	}
	return opts
}

// WatcherOptions returns the watcher options derived from c.
func (c *Config) WatcherOptions() []detection.WatcherOption {
	opts := []detection.WatcherOption{
		detection.WithOptions(c.DetectionOptions()),
		detection.WithPollInterval(c.Detection.PollInterval),
	}
	if c.Serial.Port != "" {
		opts = append(opts, detection.WithFixedPort(c.Serial.Port))
	}
	return opts
}
