// Package client speaks the MOO line protocol: it dials servers, logs in,
// negotiates output sentinels, strips telnet negotiation from the stream,
// and classifies eval responses across server dialects into a uniform
// EvalResult.
package client
