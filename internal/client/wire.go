package client

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/MongooseMoo/moo-conformance-tests/internal/moo"
)

// Output sentinels negotiated right after login. The server brackets every
// command's output between them, which is what lets us frame responses on a
// stream that otherwise interleaves notifications freely.
const (
	prefixSentinel = "-=!-^-!=-"
	suffixSentinel = "-=!-v-!=-"
)

const (
	// loginTimeout bounds the wait for the login banner.
	loginTimeout = 2 * time.Second
	// drainTimeout is the short follow-up window used to swallow whatever
	// the server prints after the connected marker.
	drainTimeout = 100 * time.Millisecond
)

var errNotConnected = errors.New("not connected; call Connect first")

// wire owns one TCP connection and the line framing above it. It keeps two
// buffers: raw bytes that may end mid telnet sequence, and telnet-stripped
// bytes not yet split into lines. Not safe for concurrent use; callers
// serialize access.
type wire struct {
	conn    net.Conn
	timeout time.Duration
	raw     []byte
	pending []byte
}

func dialWire(host string, port int, timeout time.Duration) (*wire, error) {
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", addr, err)
	}
	return &wire{conn: conn, timeout: timeout}, nil
}

func (w *wire) sendLine(text string) error {
	if w.conn == nil {
		return errNotConnected
	}
	if err := w.conn.SetWriteDeadline(time.Now().Add(w.timeout)); err != nil {
		return err
	}
	if _, err := w.conn.Write([]byte(text + "\n")); err != nil {
		return fmt.Errorf("sending line: %w", err)
	}
	return nil
}

// readLine returns the next line with trailing carriage returns removed.
// Telnet negotiation bytes are stripped before line splitting; a sequence
// cut off by the read boundary stays in the raw buffer until the next read
// completes it.
func (w *wire) readLine(d time.Duration) (string, error) {
	for {
		if i := bytes.IndexByte(w.pending, '\n'); i >= 0 {
			line := strings.TrimRight(string(w.pending[:i]), "\r")
			w.pending = w.pending[i+1:]
			return line, nil
		}
		if w.conn == nil {
			return "", errNotConnected
		}
		if err := w.conn.SetReadDeadline(time.Now().Add(d)); err != nil {
			return "", err
		}
		chunk := make([]byte, 4096)
		n, err := w.conn.Read(chunk)
		if n > 0 {
			w.raw = append(w.raw, chunk[:n]...)
			clean, rest := moo.StripTelnet(w.raw)
			w.raw = rest
			w.pending = append(w.pending, clean...)
		}
		if err != nil {
			if n > 0 && bytes.IndexByte(w.pending, '\n') >= 0 {
				continue
			}
			return "", err
		}
	}
}

// login authenticates as the named account and negotiates the output
// sentinels. Suite permissions use lowercase role names; the stock cores
// capitalize their account names.
func (w *wire) login(user string) error {
	account := user
	switch user {
	case "programmer":
		account = "Programmer"
	case "wizard":
		account = "Wizard"
	}
	if err := w.sendLine("connect " + account); err != nil {
		return fmt.Errorf("logging in as %s: %w", account, err)
	}
	w.drainLoginOutput()
	if err := w.sendLine("PREFIX " + prefixSentinel); err != nil {
		return err
	}
	return w.sendLine("SUFFIX " + suffixSentinel)
}

// drainLoginOutput consumes the banner, connect message, and room
// description so they cannot pollute the first framed response. Once a
// line mentions the connected marker the remaining output is drained on a
// short deadline. Never failing here is deliberate: cores disagree on
// their exact wording, and a quiet server just costs us the login window.
func (w *wire) drainLoginOutput() {
	deadline := loginTimeout
	for {
		line, err := w.readLine(deadline)
		if err != nil {
			return
		}
		if strings.Contains(line, "Connected") {
			deadline = drainTimeout
		}
	}
}

// receiveEval collects one sentinel-framed eval response. Lines seen before
// the prefix are notifications addressed to the player; they are returned
// separately. Toast emits the prefix twice for eval commands, so a repeated
// prefix is absorbed rather than treated as payload, and a suffix that
// arrives before any payload line is ignored. Read timeouts propagate: an
// eval that produced no framed answer within the deadline is a transport
// failure, not an empty result. A closed connection returns whatever was
// collected.
func (w *wire) receiveEval() (lines, notifications []string, err error) {
	found := false
	for {
		line, rerr := w.readLine(w.timeout)
		if rerr != nil {
			if errors.Is(rerr, io.EOF) {
				return lines, notifications, nil
			}
			return nil, notifications, rerr
		}
		switch {
		case line == prefixSentinel:
			found = true
		case line == suffixSentinel:
			if found && len(lines) > 0 {
				return lines, notifications, nil
			}
		case found:
			lines = append(lines, line)
		case line != "":
			notifications = append(notifications, line)
		}
	}
}

// receiveLines collects the framed output of a command. Unlike eval
// responses the suffix always terminates, and a timeout simply ends the
// collection: commands legitimately produce no output at all.
func (w *wire) receiveLines() ([]string, error) {
	var lines []string
	found := false
	for {
		line, err := w.readLine(w.timeout)
		if err != nil {
			if errors.Is(err, io.EOF) || isTimeout(err) {
				return lines, nil
			}
			return nil, err
		}
		switch {
		case line == prefixSentinel:
			found = true
		case line == suffixSentinel && found:
			return lines, nil
		case found:
			lines = append(lines, line)
		}
	}
}

func (w *wire) close() error {
	if w.conn == nil {
		return nil
	}
	err := w.conn.Close()
	w.conn = nil
	return err
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
