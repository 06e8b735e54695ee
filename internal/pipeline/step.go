// Package pipeline dispatches the engine's steps. The set of steps is
// closed: a StepKind is parsed once at the edge and every kind maps to
// exactly one handler registered at startup.
package pipeline

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/JonMunkholm/lakeingest/internal/core"
)

// StepKind identifies a step.
type StepKind int

const (
	StepIngest StepKind = iota + 1
	StepPromote
	StepReconcile
)

// ErrUnknownStep is returned by ParseStepKind for names outside the set.
var ErrUnknownStep = errors.New("unknown step")

var stepNames = map[StepKind]string{
	StepIngest:    "ingest",
	StepPromote:   "promote",
	StepReconcile: "reconcile",
}

// Kinds returns every step kind in declaration order.
func Kinds() []StepKind {
	return []StepKind{StepIngest, StepPromote, StepReconcile}
}

func (k StepKind) String() string {
	if name, ok := stepNames[k]; ok {
		return name
	}
	return fmt.Sprintf("StepKind(%d)", int(k))
}

// ParseStepKind maps a step name to its kind, case-insensitively. The
// error carries its own REQ002 user message.
func ParseStepKind(s string) (StepKind, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for k, name := range stepNames {
		if name == s {
			return k, nil
		}
	}
	return 0, &core.UserError{
		Technical: fmt.Errorf("%w: %q", ErrUnknownStep, s),
		User:      unknownStepMessage,
	}
}

var unknownStepMessage = core.UserMessage{
	Message: "Unknown step",
	Action:  "Use one of: ingest, promote, reconcile",
	Code:    "REQ002",
}

// MarshalText lets StepKind appear as its name in JSON.
func (k StepKind) MarshalText() ([]byte, error) {
	if _, ok := stepNames[k]; !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownStep, int(k))
	}
	return []byte(k.String()), nil
}

// Request carries the inputs any step may need. Each step reads only its
// own fields. A nil Promote defers to the configured default; an explicit
// false turns promotion off even when the default is on.
type Request struct {
	BatchID    string        `json:"batch_id"`
	SourceID   string        `json:"source_id,omitempty"`
	SourceType string        `json:"source_type,omitempty"`
	Dir        string        `json:"dir,omitempty"`
	Promote    *bool    `json:"promote,omitempty"`
	OlderThan  Duration `json:"older_than,omitempty"`
}

// Duration is a time.Duration that reads JSON as either a Go duration
// string ("6h", "90m") or integer nanoseconds, and writes the string form.
type Duration time.Duration

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch v := v.(type) {
	case nil:
		*d = 0
	case string:
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", v, err)
		}
		*d = Duration(parsed)
	case float64:
		if v != float64(int64(v)) {
			return fmt.Errorf("invalid duration %v: nanoseconds must be an integer", v)
		}
		*d = Duration(int64(v))
	default:
		return fmt.Errorf("invalid duration %s", b)
	}
	return nil
}

// Result is what a step hands back to the sequencer.
type Result struct {
	Kind       StepKind               `json:"step"`
	Batch      *core.BatchResult      `json:"batch,omitempty"`
	Promotions []core.PromotionResult `json:"promotions,omitempty"`
	Reconciled []core.ReconcileResult `json:"reconciled,omitempty"`
}
