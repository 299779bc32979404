package apiclient

import (
	"errors"
	"fmt"
)

// errServiceDown marks a 502 response internally; the retry loop never
// lets it escape as a terminal error, so callers never observe it directly.
var errServiceDown = errors.New("apiclient: service down")

// FatalAuthError is returned when the control service rejects the agent's
// credentials (401) or configuration (403). Callers must stop the agent.
type FatalAuthError struct {
	StatusCode int
	Reason     string // "invalid-creds" or "invalid-config"
}

func (e *FatalAuthError) Error() string {
	return fmt.Sprintf("apiclient: fatal auth error (%d): %s", e.StatusCode, e.Reason)
}

// TransportExhaustedError is raised to the caller once a call's retry
// budget (§4.2) is spent without success. Callers of the sync/lifecycle
// endpoints are expected to swallow this and rely on the next tick.
type TransportExhaustedError struct {
	Path string
	Last error
}

func (e *TransportExhaustedError) Error() string {
	return fmt.Sprintf("apiclient: exhausted retries calling %s: %v", e.Path, e.Last)
}

func (e *TransportExhaustedError) Unwrap() error { return e.Last }
