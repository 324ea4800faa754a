// Package faults defines the error taxonomy shared by the loader,
// compiler, validator and backup manager. Fatal conditions are typed
// errors carrying file, key path and offending value; advisories are
// Warning values that never fail a run.
package faults

import (
	"fmt"
	"strings"
	"time"
)

// Warning kinds.
const (
	WarnStaleSource = "STALE_SOURCE"
	WarnQualityTier = "QUALITY_TIER"
	WarnDroppedRule = "DROPPED_RULE"
)

// Warning is a non-fatal finding accumulated by the validator.
type Warning struct {
	Kind string `json:"kind"`
	Msg  string `json:"msg"`
}

func (w Warning) String() string {
	return w.Kind + ": " + w.Msg
}

// ParseError reports a structurally malformed source document.
// Parsing aborts immediately; nothing is written.
type ParseError struct {
	File string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s: %v", e.File, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// SchemaError reports structurally valid but semantically invalid
// input: missing required field, malformed URL, out-of-range port,
// ambiguous routing.
type SchemaError struct {
	File  string
	Path  string // key path, e.g. providers[2].base_url
	Value any
	Msg   string
}

func (e *SchemaError) Error() string {
	s := "schema"
	if e.File != "" {
		s += " " + e.File
	}
	if e.Path != "" {
		s += ": " + e.Path
	}
	s += ": " + e.Msg
	if e.Value != nil {
		s += fmt.Sprintf(" (got %v)", e.Value)
	}
	return s
}

// ReferenceError reports a reference to a nonexistent entity. References
// to explicitly disabled providers are downgraded to a WarnDroppedRule
// warning instead, never a ReferenceError.
type ReferenceError struct {
	File string
	Path string
	Kind string // "provider", "model", "chain"
	Ref  string
}

func (e *ReferenceError) Error() string {
	s := "reference"
	if e.File != "" {
		s += " " + e.File
	}
	if e.Path != "" {
		s += ": " + e.Path
	}
	return fmt.Sprintf("%s: unknown %s %q", s, e.Kind, e.Ref)
}

// CycleError reports a cycle in the fallback graph. Path always holds
// the complete cycle with the entry node repeated at the end, so the
// message reads "A -> B -> C -> A".
type CycleError struct {
	Path []string
}

func (e *CycleError) Error() string {
	return "fallback cycle detected: " + strings.Join(e.Path, " -> ")
}

// ConstraintError reports a violated numeric or structural constraint:
// timeout ordering, weight sums, port conflicts, breaker thresholds.
type ConstraintError struct {
	File  string
	Path  string
	Value any
	Msg   string
}

func (e *ConstraintError) Error() string {
	s := "constraint"
	if e.File != "" {
		s += " " + e.File
	}
	if e.Path != "" {
		s += ": " + e.Path
	}
	s += ": " + e.Msg
	if e.Value != nil {
		s += fmt.Sprintf(" (got %v)", e.Value)
	}
	return s
}

// LockContentionError means another invocation holds the backup-store
// lock. The operation is safe to retry.
type LockContentionError struct {
	Dir  string
	Wait time.Duration
}

func (e *LockContentionError) Error() string {
	return fmt.Sprintf("backup store busy: could not lock %s within %s (retry later)", e.Dir, e.Wait)
}
