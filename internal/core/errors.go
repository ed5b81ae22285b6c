package core

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/vampirenirmal/novelforge/internal/domain/novel"
)

// =============================================================================
// Core Error Types
// =============================================================================

// MissingPrerequisiteError means a stage's upstream artifact is absent or
// unparseable. Fatal to the invocation; recoverable by running the named
// prerequisite stages. Never auto-substituted.
type MissingPrerequisiteError struct {
	Stage   novel.StageKind
	Missing []novel.StageKind
}

func (e *MissingPrerequisiteError) Error() string {
	names := make([]string, len(e.Missing))
	for i, kind := range e.Missing {
		names[i] = string(kind)
	}
	return fmt.Sprintf("stage %s blocked: missing prerequisite stage(s) %s", e.Stage, strings.Join(names, ", "))
}

// PendingRevisionError blocks any forward generation past a chapter with a
// pending revision. Recoverable only via explicit apply or reject.
type PendingRevisionError struct {
	BlockedChapter int
	Requested      int
	StatusPath     string
	NextActions    []string
}

func (e *PendingRevisionError) Error() string {
	return fmt.Sprintf("chapter %d has a pending revision (%s); generation for chapter %d is blocked — next: %s",
		e.BlockedChapter, e.StatusPath, e.Requested, strings.Join(e.NextActions, " / "))
}

// SequentialGapError means chapter text was requested out of order. The
// missing predecessors must be backfilled, or sequential enforcement
// explicitly disabled.
type SequentialGapError struct {
	Chapter int
	Missing []int
}

func (e *SequentialGapError) Error() string {
	return fmt.Sprintf("chapter %d text blocked by missing predecessor chapter(s) %v", e.Chapter, e.Missing)
}

// SchemaError means a generated or loaded artifact failed schema validation.
// The invalid artifact is never persisted.
type SchemaError struct {
	Kind   string
	Key    string
	Field  string
	Reason string
	Cause  error
}

func (e *SchemaError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("schema validation failed for %s %q at %s: %s", e.Kind, e.Key, e.Field, e.Reason)
	}
	return fmt.Sprintf("schema validation failed for %s %q: %s", e.Kind, e.Key, e.Reason)
}

func (e *SchemaError) Unwrap() error {
	return e.Cause
}

// ReviewerUnavailableError distinguishes a reviewer failure from a passing
// review. A failed reviewer never silently disables the gate.
type ReviewerUnavailableError struct {
	Chapter int
	Cause   error
}

func (e *ReviewerUnavailableError) Error() string {
	return fmt.Sprintf("review capability unavailable for chapter %d: %v", e.Chapter, e.Cause)
}

func (e *ReviewerUnavailableError) Unwrap() error {
	return e.Cause
}

// GenerationError wraps a failed generation-capability call.
type GenerationError struct {
	Stage   novel.StageKind
	Attempt int
	Cause   error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("generation failed for stage %s (attempt %d): %v", e.Stage, e.Attempt, e.Cause)
}

func (e *GenerationError) Unwrap() error {
	return e.Cause
}

// =============================================================================
// Predefined Error Values
// =============================================================================

var (
	ErrNotFound     = errors.New("artifact not found")
	ErrRateLimited  = errors.New("rate limited")
	ErrTimeout      = errors.New("operation timed out")
	ErrNoAPIKey     = errors.New("API key not configured")
	ErrInvalidInput = errors.New("invalid input")
)

// =============================================================================
// Error Classification
// =============================================================================

// IsNotFound reports whether err indicates an absent artifact.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsBlocked reports whether err is one of the gating errors that halts
// forward progress (pending revision or sequential gap).
func IsBlocked(err error) bool {
	var pending *PendingRevisionError
	var gap *SequentialGapError
	return errors.As(err, &pending) || errors.As(err, &gap)
}

// IsSchemaError reports whether err is a schema validation failure.
func IsSchemaError(err error) bool {
	var schemaErr *SchemaError
	return errors.As(err, &schemaErr)
}

// IsRetryable reports whether a capability error is worth retrying at the
// boundary. Gating and schema errors are never retryable.
func IsRetryable(err error) bool {
	if err == nil || IsBlocked(err) || IsSchemaError(err) {
		return false
	}
	return errors.Is(err, ErrRateLimited) || errors.Is(err, ErrTimeout)
}

// =============================================================================
// Checkpoints
// =============================================================================

// Checkpoint is the durable resume record for one run. Resume re-derives
// completed sub-steps from artifact existence; the checkpoint carries the
// request shape and the last completed position.
type Checkpoint struct {
	RunID     string          `json:"run_id"`
	Project   string          `json:"project"`
	Premise   string          `json:"premise,omitempty"`
	Stage     novel.StageKind `json:"stage"`
	Chapter   int             `json:"chapter"`
	Chapters  []int           `json:"chapters,omitempty"`
	StopAt    novel.StageKind `json:"stop_at,omitempty"`
	UpdatedAt time.Time       `json:"updated_at"`
}
