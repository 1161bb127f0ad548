package utils

import (
	"bytes"
	"io"
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// LoadYAML reads a YAML file over a copy of defaults. Keys that are absent
// from the file keep their default value; unknown keys are rejected.
func LoadYAML[T any](filepath string, defaults T) (*T, error) {
	data, err := os.ReadFile(filepath)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read file")
	}

	config := defaults
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&config); err != nil && err != io.EOF {
		return nil, errors.Wrapf(err, "failed to unmarshal yaml %s", filepath)
	}

	return &config, nil
}
