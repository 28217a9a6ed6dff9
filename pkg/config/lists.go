// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package config

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// ParseInts parses a comma-separated list of integers. Spaces around values are ignored, and an empty string
// returns an empty list.
func ParseInts(s string) ([]int, error) {
	return parseList(s, strconv.Atoi)
}

// ParseFloats parses a comma-separated list of floats. Spaces around values are ignored, and an empty string
// returns an empty list.
func ParseFloats(s string) ([]float64, error) {
	return parseList(s, parseFloat)
}

func parseFloat(s string) (float64, error) {
	return strconv.ParseFloat(s, 64)
}

func parseList[T any](s string, parseFn func(string) (T, error)) ([]T, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	values := make([]T, 0, len(parts))
	for ii, part := range parts {
		v, err := parseFn(strings.TrimSpace(part))
		if err != nil {
			return nil, errors.Wrapf(err, "element #%d of %q", ii, s)
		}
		values = append(values, v)
	}
	return values, nil
}

// parseFixed parses a list that must have exactly len(into) elements.
func parseFixed[T any](s string, into []T, parseFn func(string) (T, error)) error {
	values, err := parseList(s, parseFn)
	if err != nil {
		return err
	}
	if len(values) != len(into) {
		return errors.Errorf("expected %d comma-separated values, got %d in %q", len(into), len(values), s)
	}
	copy(into, values)
	return nil
}
