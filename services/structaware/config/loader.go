// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads the structaware configuration from YAML, a .env
// file and STRUCTAWARE_* environment variables, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/structaware/pkg/logging"
	"github.com/AleutianAI/structaware/services/structaware/attnmask"
	"github.com/AleutianAI/structaware/services/structaware/tokenizer"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "STRUCTAWARE_"

// Load reads path (optional) over DefaultConfig, applies the environment
// and validates the result. A .env file in the working directory is loaded
// first when present; variables already set are not overwritten.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read the config file %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse the config file %s: %w", path, err)
		}
	}
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// WriteDefault writes DefaultConfig to path, creating its directory.
func WriteDefault(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create the config directory %w", err)
	}
	data, err := yaml.Marshal(DefaultConfig())
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

func (c *Config) applyEnv() {
	c.Source.Dir = envOr("SOURCE_DIR", c.Source.Dir)
	if v := envOr("SPLITS", ""); v != "" {
		c.Source.Splits = strings.Split(v, ",")
	}
	c.Source.MaxSamples = envInt("MAX_SAMPLES", c.Source.MaxSamples)
	c.Source.Subsample = envBool("SUBSAMPLE", c.Source.Subsample)

	c.Output.Dir = envOr("OUTPUT_DIR", c.Output.Dir)
	c.Output.ChunkRows = envInt("CHUNK_ROWS", c.Output.ChunkRows)
	c.Output.Workers = envInt("WORKERS", c.Output.Workers)
	c.Output.Resume = envBool("RESUME", c.Output.Resume)
	c.Output.ManifestPath = envOr("MANIFEST_PATH", c.Output.ManifestPath)

	c.Features.Assembler = envOr("ASSEMBLER", c.Features.Assembler)
	c.Features.MaxLeaves = envInt("MAX_LEAVES", c.Features.MaxLeaves)

	c.Tokenizer.Encoding = envOr("TOKENIZER_ENCODING", c.Tokenizer.Encoding)

	c.Logging.Level = envOr("LOG_LEVEL", c.Logging.Level)
	c.Logging.Dir = envOr("LOG_DIR", c.Logging.Dir)

	c.Metrics.Addr = envOr("METRICS_ADDR", c.Metrics.Addr)
	c.Telemetry.TraceExporter = envOr("TRACE_EXPORTER", c.Telemetry.TraceExporter)
	c.Telemetry.OTLPEndpoint = envOr("OTLP_ENDPOINT", c.Telemetry.OTLPEndpoint)

	c.Publish.Target = envOr("PUBLISH_TARGET", c.Publish.Target)
	c.Publish.Bucket = envOr("PUBLISH_BUCKET", c.Publish.Bucket)
	c.Publish.GCSKeyPath = envOr("GCS_KEY_PATH", c.Publish.GCSKeyPath)
	c.Publish.S3Endpoint = envOr("S3_ENDPOINT", c.Publish.S3Endpoint)
	c.Publish.S3AccessKey = envOr("S3_ACCESS_KEY", c.Publish.S3AccessKey)
	c.Publish.S3SecretKey = envOr("S3_SECRET_KEY", c.Publish.S3SecretKey)
}

var configValidate *validator.Validate

func init() {
	configValidate = validator.New()
	_ = configValidate.RegisterValidation("assembler", func(fl validator.FieldLevel) bool {
		_, err := attnmask.Lookup(fl.Field().String())
		return err == nil
	})
	_ = configValidate.RegisterValidation("encoding", func(fl validator.FieldLevel) bool {
		return slices.Contains(tokenizer.Encodings(), fl.Field().String())
	})
	_ = configValidate.RegisterValidation("loglevel", func(fl validator.FieldLevel) bool {
		_, err := logging.ParseLevel(fl.Field().String())
		return err == nil
	})
}

// Validate checks values that would otherwise fail deep inside a run. All
// violations are reported together.
func (c *Config) Validate() error {
	err := configValidate.Struct(c)
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	errs := make([]error, 0, len(verrs))
	for _, fe := range verrs {
		errs = append(errs, fmt.Errorf("%s: failed %q (value %v)", fieldPath(fe), fe.ActualTag(), fe.Value()))
	}
	return errors.Join(errs...)
}

// fieldPath turns "Config.Output.ChunkRows" into "Output.ChunkRows".
func fieldPath(fe validator.FieldError) string {
	ns := fe.StructNamespace()
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return ns
}

// ManifestPath returns the badger directory of the run manifest.
func (c *Config) ManifestPath() string {
	if c.Output.ManifestPath != "" {
		return c.Output.ManifestPath
	}
	return filepath.Join(c.Output.Dir, ".manifest")
}

func envOr(key, fallback string) string {
	if v := os.Getenv(EnvPrefix + key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(EnvPrefix + key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(EnvPrefix + key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}
