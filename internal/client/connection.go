package client

import "sync"

// TestConnection is an auxiliary session owned by a multi-connection
// scenario. It speaks the same framed protocol as the primary session but
// carries none of the eval plumbing: steps send raw lines and read raw
// output.
type TestConnection struct {
	mu   sync.Mutex
	w    *wire
	user string
}

// User reports who this connection logged in as.
func (t *TestConnection) User() string {
	return t.user
}

// Send writes one raw line and returns the framed output it produced.
func (t *TestConnection) Send(text string) ([]string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.w == nil {
		return nil, errNotConnected
	}
	if err := t.w.sendLine(text); err != nil {
		return nil, err
	}
	return t.w.receiveLines()
}

// Close shuts the session down. Closing twice is fine.
func (t *TestConnection) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.w == nil {
		return nil
	}
	err := t.w.close()
	t.w = nil
	return err
}
