// Package mode names the index backend strategy that serves searches.
package mode

import "fmt"

// Mode is the index backend strategy.
type Mode string

// Backend strategy constants.
const (
	// Managed is a search index that embeds query text itself and refreshes asynchronously.
	Managed Mode = "managed"
	// Direct is a vector index over caller-supplied embeddings, consistent with every completed write.
	Direct Mode = "direct"
)

// IsValid checks if the mode is one of the supported values.
func (m Mode) IsValid() bool {
	return m == Managed || m == Direct
}

// Parse converts a configuration string into a Mode.
func Parse(s string) (Mode, error) {
	m := Mode(s)
	if !m.IsValid() {
		return "", fmt.Errorf("unknown backend %q (want managed or direct)", s)
	}
	return m, nil
}
