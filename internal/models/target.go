package models

import (
	"errors"
	"fmt"
	"strings"
)

// Comparison operators accepted by targets and metric artifacts.
const (
	OpGreaterEqual = ">="
	OpLessEqual    = "<="
	OpGreater      = ">"
	OpLess         = "<"
	OpEqual        = "=="
	OpNotEqual     = "!="
)

// ValidOperator reports whether op is a supported comparison operator.
func ValidOperator(op string) bool {
	switch op {
	case OpGreaterEqual, OpLessEqual, OpGreater, OpLess, OpEqual, OpNotEqual:
		return true
	}
	return false
}

// Target is a declared success criterion checked against the task's result.
type Target struct {
	Metric   string `json:"metric" yaml:"metric"`
	Operator string `json:"operator" yaml:"operator"`
	Value    any    `json:"value" yaml:"value"`
}

// Validate checks that the target is complete and uses a known operator.
func (t *Target) Validate() error {
	if strings.TrimSpace(t.Metric) == "" {
		return errors.New("metric is required")
	}
	if !ValidOperator(t.Operator) {
		return fmt.Errorf("unsupported operator %q (supported: >=, <=, >, <, ==, !=)", t.Operator)
	}
	if t.Value == nil {
		return errors.New("value is required")
	}
	switch t.Value.(type) {
	case bool:
		if t.Operator != OpEqual && t.Operator != OpNotEqual {
			return fmt.Errorf("operator %q cannot compare booleans", t.Operator)
		}
	case []any, map[string]any:
		return fmt.Errorf("value must be a scalar, got %T", t.Value)
	}
	return nil
}

// String renders the target as "metric op value".
func (t Target) String() string {
	return fmt.Sprintf("%s %s %v", t.Metric, t.Operator, t.Value)
}
