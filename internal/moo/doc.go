// Package moo implements the value model and literal codec shared by the
// conformance harness.
//
// Server responses arrive as literal text (`{1, 2}`, `#2 (Wizard)`,
// `"a\nb"`, `[1 -> "one"]`). Decode turns that text into a closed set of
// typed values; decoding is total, so malformed or unrecognized text
// degrades to a plain string instead of failing. Encode goes the other way
// for variable substitution, rendering captured values back into literals
// a server will accept.
//
// The package also strips telnet IAC negotiation from raw socket reads,
// since MOO servers negotiate terminal options at connect time.
package moo
