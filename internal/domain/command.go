package domain

import "time"

// Outcome classifies how a command send ended.
type Outcome string

const (
	OutcomeOk      Outcome = "ok"
	OutcomeFailed  Outcome = "failed"
	OutcomeRetried Outcome = "retried"
)

// CommandResult is one entry of the capped, append-only send history.
// Keys are opaque identifiers (KEY_POWER, KEY_VOLUP, ...) passed through
// to the TV unmodified.
type CommandResult struct {
	Key       string    `json:"key"`
	Timestamp time.Time `json:"timestamp"`
	Outcome   Outcome   `json:"outcome"`
	Error     string    `json:"error,omitempty"`
}
