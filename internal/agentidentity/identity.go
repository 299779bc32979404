// Package agentidentity generates the per-process agent name (spec.md §3):
// "agent-" followed by four lowercase-alphanumeric groups, using
// google/uuid as the source of randomness the way the corpus reaches for
// it elsewhere for opaque identifiers.
package agentidentity

import (
	"strings"

	"github.com/google/uuid"
)

// NewName returns a freshly generated agent name of the form
// "agent-xxxx-xxxx-xxxx-xxxx".
func NewName() string {
	raw := strings.ReplaceAll(uuid.NewString(), "-", "")
	groups := make([]string, 4)
	for i := range groups {
		groups[i] = raw[i*4 : i*4+4]
	}
	return "agent-" + strings.Join(groups, "-")
}
