// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// ConfigFileName is the name of the resolved configuration dump, written in the checkpoints directory.
const ConfigFileName = "config.yaml"

// WriteYAML writes the resolved configuration to filePath, creating its directory if needed.
func (c *Config) WriteYAML(filePath string) error {
	if err := os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
		return errors.Wrapf(err, "creating directory for %q", filePath)
	}
	f, err := os.Create(filePath)
	if err != nil {
		return errors.Wrapf(err, "creating %q", filePath)
	}
	enc := yaml.NewEncoder(f)
	enc.SetIndent(2)
	if err = enc.Encode(c); err != nil {
		_ = f.Close()
		return errors.Wrapf(err, "encoding configuration to %q", filePath)
	}
	if err = enc.Close(); err != nil {
		_ = f.Close()
		return errors.Wrapf(err, "encoding configuration to %q", filePath)
	}
	return errors.Wrapf(f.Close(), "closing %q", filePath)
}

// ReadYAML reads a configuration previously written with WriteYAML.
func ReadYAML(filePath string) (*Config, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, errors.Wrapf(err, "reading %q", filePath)
	}
	c := &Config{}
	if err = yaml.Unmarshal(data, c); err != nil {
		return nil, errors.Wrapf(err, "parsing %q", filePath)
	}
	return c, nil
}
