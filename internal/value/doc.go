// Package value provides the dynamically typed values that flow through script
// graphs: node settings, data pin reads and script variables.
//
// This package imports nothing internal. Every other package that needs to
// carry user data uses value.Value, so it stays the foundational layer.
//
// Key design constraints:
//   - Value is sealed: only Null, Bool, Int, Float, String, List and Map implement it
//   - Map keys are ordered by UTF-16 code units (RFC 8785) whenever order matters
//   - MarshalCanonical is the only encoding used for hashing and snapshots
//   - Persisted values go through the tagged form so Int and Float survive a round trip
package value
