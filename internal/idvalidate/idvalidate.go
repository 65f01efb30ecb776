// Package idvalidate enforces the coordination runtime's identifier grammar.
package idvalidate

import "regexp"

// Pattern is the identifier grammar required by every id-bearing field
// (session, agent, swarm, pipeline, circuit-breaker, and file-claim ids).
var Pattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// Valid reports whether id conforms to the identifier grammar.
func Valid(id string) bool {
	return Pattern.MatchString(id)
}

// OrUnknown returns id if it is valid, otherwise "unknown". Used at every
// boundary where an externally-supplied id must never be string-formatted
// into a query or trusted as a lookup key.
func OrUnknown(id string) string {
	if Valid(id) {
		return id
	}
	return "unknown"
}
