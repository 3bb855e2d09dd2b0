// Package logredact hides sensitive byte values (keys, tokens, shared
// secrets) from log output unless explicitly enabled.
package logredact

import "fmt"

// Sensitive gates whether Value prints real bytes or a placeholder.
// False by default; set by the -log-sensitive CLI flag.
var Sensitive = false

const placeholder = "********"

// Value renders a sensitive byte slice for logging.
func Value(b []byte) string {
	if Sensitive {
		return fmt.Sprintf("%x", b)
	}
	return placeholder
}
