// SPDX-License-Identifier: MIT

// Package phase holds the ordered table of user-facing loading phases and the
// elapsed-time walker that selects the current one.
package phase

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

var ErrEmptyTable = errors.New("phase table must not be empty")

// Definition is one named step of the perceived loading sequence. The nominal
// duration is descriptive only; selection is driven by elapsed-time fraction.
type Definition struct {
	Name            string
	Description     string
	NominalDuration time.Duration
}

// UnmarshalYAML decodes a definition with the duration in Go format ("2s").
func (d *Definition) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		Name            string `yaml:"name"`
		Description     string `yaml:"description"`
		NominalDuration string `yaml:"nominalDuration"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}
	if raw.Name == "" {
		return errors.New("phase name must not be empty")
	}
	d.Name = raw.Name
	d.Description = raw.Description
	if raw.NominalDuration != "" {
		dur, err := time.ParseDuration(raw.NominalDuration)
		if err != nil {
			return fmt.Errorf("phase %q: invalid nominalDuration: %w", raw.Name, err)
		}
		d.NominalDuration = dur
	}
	return nil
}

// Table is an immutable, non-empty, ordered phase sequence.
type Table struct {
	defs []Definition
}

// NewTable copies defs into a Table, rejecting empty input.
func NewTable(defs []Definition) (*Table, error) {
	if len(defs) == 0 {
		return nil, ErrEmptyTable
	}
	return &Table{defs: append([]Definition(nil), defs...)}, nil
}

// Default is the built-in loading sequence used when no table file is configured.
func Default() *Table {
	t, _ := NewTable([]Definition{
		{Name: "connect", Description: "Establishing secure connection", NominalDuration: 3 * time.Second},
		{Name: "authenticate", Description: "Verifying credentials", NominalDuration: 4 * time.Second},
		{Name: "fetch", Description: "Fetching account data", NominalDuration: 10 * time.Second},
		{Name: "process", Description: "Processing records", NominalDuration: 8 * time.Second},
		{Name: "finalize", Description: "Preparing your view", NominalDuration: 5 * time.Second},
	})
	return t
}

// LoadFile reads a YAML phase table:
//
//	phases:
//	  - name: connect
//	    description: Establishing connection
//	    nominalDuration: 3s
func LoadFile(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read phase table: %w", err)
	}
	var doc struct {
		Phases []Definition `yaml:"phases"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse phase table: %w", err)
	}
	t, err := NewTable(doc.Phases)
	if err != nil {
		return nil, fmt.Errorf("phase table %s: %w", path, err)
	}
	return t, nil
}

// Len returns the number of phases.
func (t *Table) Len() int { return len(t.defs) }

// At returns the phase at index i, clamped into range.
func (t *Table) At(i int) Definition {
	if i < 0 {
		i = 0
	}
	if i >= len(t.defs) {
		i = len(t.defs) - 1
	}
	return t.defs[i]
}

// IndexFor maps the elapsed-time fraction to a phase index:
// floor(elapsed/timeout * len), clamped to [0, len-1]. The mapping is
// idempotent; monotonicity across ticks is enforced by the caller keeping
// the running maximum.
func (t *Table) IndexFor(elapsed, timeout time.Duration) int {
	if elapsed <= 0 || timeout <= 0 {
		return 0
	}
	f := float64(elapsed) / float64(timeout)
	idx := int(f * float64(len(t.defs)))
	if idx < 0 {
		idx = 0
	}
	if idx >= len(t.defs) {
		idx = len(t.defs) - 1
	}
	return idx
}

// Timeout is the synthetic marker phase shown once the session times out. It
// is not part of the table and has no index.
func Timeout() Definition {
	return Definition{
		Name:        "timeout",
		Description: "Timeout detected",
	}
}
