// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"github.com/AleutianAI/structaware/services/structaware/attnmask"
	"github.com/AleutianAI/structaware/services/structaware/pathsim"
	"github.com/AleutianAI/structaware/services/structaware/pipeline"
	"github.com/AleutianAI/structaware/services/structaware/publish"
	"github.com/AleutianAI/structaware/services/structaware/reldist"
	"github.com/AleutianAI/structaware/services/structaware/source"
	"github.com/AleutianAI/structaware/services/structaware/telemetry"
	"github.com/AleutianAI/structaware/services/structaware/tokenizer"
)

type Config struct {
	// Source: where raw JSONL samples are read from
	Source SourceConfig `yaml:"source"`

	// Output: chunk directory and run control
	Output OutputConfig `yaml:"output"`

	// Features: structure derivation limits and mask variant
	Features FeatureConfig `yaml:"features"`

	Tokenizer TokenizerConfig `yaml:"tokenizer"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`

	// Telemetry: OpenTelemetry exporters for parser spans and meters
	Telemetry telemetry.Config `yaml:"telemetry"`
	Publish   PublishConfig   `yaml:"publish"`
}

type SourceConfig struct {
	Dir        string   `yaml:"dir" validate:"required"`                         // e.g. ./data/python/final/jsonl
	Splits     []string `yaml:"splits" validate:"required,min=1,dive,required"` // e.g. ["train", "valid", "test"]
	DocField   string   `yaml:"doc_field" validate:"required"`                   // e.g. func_documentation_string
	CodeField  string   `yaml:"code_field" validate:"required"`                  // e.g. func_code_string
	MaxSamples int      `yaml:"max_samples" validate:"gte=0"`                    // 0 reads everything

	// Subsample draws MaxSamples at random (seeded by Seed) instead of
	// taking the first MaxSamples.
	Subsample bool   `yaml:"subsample"`
	Seed      uint64 `yaml:"seed"`
}

type OutputConfig struct {
	Dir          string `yaml:"dir" validate:"required"`
	ChunkRows    int    `yaml:"chunk_rows" validate:"gt=0"`
	Workers      int    `yaml:"workers" validate:"gt=0"`
	Resume       bool   `yaml:"resume"`
	ManifestPath string `yaml:"manifest_path"` // empty: <dir>/.manifest
}

type FeatureConfig struct {
	// Language selects the parser frontend, e.g. "python".
	Language           string `yaml:"language" validate:"required"`
	Assembler          string `yaml:"assembler" validate:"assembler"`
	MaxLeaves          int    `yaml:"max_leaves" validate:"gt=0"`
	MaxRelDistance     int    `yaml:"max_rel_distance" validate:"gt=1"`
	DropEmptyDFG       bool   `yaml:"drop_empty_dfg"`
	SkipCharFilter     bool   `yaml:"skip_char_filter"`
	ReduceSimilarities bool   `yaml:"reduce_similarities"`
}

type TokenizerConfig struct {
	Encoding string `yaml:"encoding" validate:"encoding"`
	BOSID    *int   `yaml:"bos_id,omitempty"`
	EOSID    *int   `yaml:"eos_id,omitempty"`
}

type LoggingConfig struct {
	Level string `yaml:"level" validate:"loglevel"`
	Dir   string `yaml:"dir,omitempty"`
	JSON  bool   `yaml:"json"`
	Quiet bool   `yaml:"quiet"`
}

type MetricsConfig struct {
	// Addr serves /metrics when set, e.g. ":9102".
	Addr string `yaml:"addr,omitempty"`
}

type PublishConfig struct {
	// Target is "gcs", "s3" or "dir".
	Target string `yaml:"target" validate:"oneof=gcs s3 dir"`
	Bucket string `yaml:"bucket,omitempty"`
	Prefix string `yaml:"prefix,omitempty"`

	Concurrency    int     `yaml:"concurrency" validate:"gte=0"`
	FilesPerSecond float64 `yaml:"files_per_second" validate:"gte=0"`

	GCSKeyPath string `yaml:"gcs_key_path,omitempty"`

	S3Endpoint string `yaml:"s3_endpoint,omitempty"`
	S3Region   string `yaml:"s3_region,omitempty"`
	S3UseSSL   bool   `yaml:"s3_use_ssl"`
	// Credentials come from the environment only.
	S3AccessKey string `yaml:"-"`
	S3SecretKey string `yaml:"-"`

	Dir string `yaml:"dir,omitempty"`
}

func DefaultConfig() Config {
	return Config{
		Source: SourceConfig{
			Dir:       "./data/python/final/jsonl",
			Splits:    []string{"train", "valid", "test"},
			DocField:  source.DefaultDocField,
			CodeField: source.DefaultCodeField,
			Seed:      10,
		},
		Output: OutputConfig{
			Dir:       "./data/structaware",
			ChunkRows: pipeline.DefaultChunkRows,
			Workers:   1,
		},
		Features: FeatureConfig{
			Language:       "python",
			Assembler:      attnmask.CompletionName,
			MaxLeaves:      pathsim.DefaultMaxLeaves,
			MaxRelDistance: reldist.DefaultMaxDistance,
		},
		Tokenizer: TokenizerConfig{
			Encoding: tokenizer.DefaultEncoding,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Telemetry: telemetry.DefaultConfig(),
		Publish: PublishConfig{
			Target:      "gcs",
			Concurrency: publish.DefaultConcurrency,
		},
	}
}
