package client

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/MongooseMoo/moo-conformance-tests/pkg/logging"
)

// DefaultTimeout bounds every socket read and write unless the config
// overrides it.
const DefaultTimeout = 3 * time.Second

const defaultUser = "programmer"

// Config holds the connection settings for a server session.
type Config struct {
	Host    string
	Port    int
	Timeout time.Duration
}

// coreProperties are the object aliases tests substitute into code, seeded
// on the system object once per client. Creation order matters on cores
// where #5 only exists after earlier properties forced object allocation.
var coreProperties = []struct{ name, value string }{
	{"object", "#1"},
	{"anonymous", "#5"},
	{"anon", "#5"},
	{"sysobj", "#0"},
	{"nothing", "#-1"},
}

// Client is one authenticated eval session against a MOO server. It owns
// the primary connection; auxiliary sessions for multi-connection
// scenarios come from OpenConnection. Safe for concurrent use, though
// operations serialize on the single underlying connection.
type Client struct {
	// TracebackPhrases drives traceback classification. It starts as a
	// copy of DefaultTracebackPhrases; adjust it before connecting for
	// servers with different wording.
	TracebackPhrases []PhraseMapping

	cfg Config

	mu               sync.Mutex
	w                *wire
	user             string
	corePropsEnsured bool
}

// New builds a client for the given server. No connection is made until
// Connect.
func New(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Client{
		TracebackPhrases: append([]PhraseMapping(nil), DefaultTracebackPhrases...),
		cfg:              cfg,
	}
}

// Connect dials the server and logs in as user, replacing any existing
// connection. An empty user logs in as programmer. The first successful
// connect also seeds the core properties tests rely on.
func (c *Client) Connect(user string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if user == "" {
		user = defaultUser
	}
	if err := c.reconnectLocked(user); err != nil {
		return err
	}
	if !c.corePropsEnsured {
		if err := c.ensureCorePropertiesLocked(); err != nil {
			return err
		}
		c.corePropsEnsured = true
	}
	return nil
}

func (c *Client) reconnectLocked(user string) error {
	if c.w != nil {
		_ = c.w.close()
		c.w = nil
	}
	w, err := dialWire(c.cfg.Host, c.cfg.Port, c.cfg.Timeout)
	if err != nil {
		return err
	}
	if err := w.login(user); err != nil {
		_ = w.close()
		return err
	}
	c.w = w
	c.user = user
	logging.Debug("Client", "Connected to %s:%d as %s", c.cfg.Host, c.cfg.Port, user)
	return nil
}

// ensureCorePropertiesLocked adds each alias property to #0, swallowing
// the E_INVARG a re-run provokes on properties that already exist. Each
// round trip is read to completion so the responses cannot bleed into the
// first real eval.
func (c *Client) ensureCorePropertiesLocked() error {
	for _, p := range coreProperties {
		code := fmt.Sprintf(`; try add_property(#0, "%s", %s, {#0, "rc"}); except (ANY) return 0; endtry`, p.name, p.value)
		if err := c.w.sendLine(code); err != nil {
			return fmt.Errorf("seeding property %s: %w", p.name, err)
		}
		if _, _, err := c.w.receiveEval(); err != nil {
			return fmt.Errorf("seeding property %s: %w", p.name, err)
		}
	}
	return nil
}

// SwitchUser ensures the session is logged in as user, reconnecting only
// when the role actually changes. The seeded core properties survive a
// reconnect, so they are not re-ensured.
func (c *Client) SwitchUser(user string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if user == "" {
		user = defaultUser
	}
	if c.user == user {
		return nil
	}
	logging.Debug("Client", "Switching user %s -> %s", c.user, user)
	return c.reconnectLocked(user)
}

// SetTimeout changes the read/write deadline for subsequent operations.
// Tests with timeout_ms use this; non-positive values restore the default.
// New connections opened later inherit the change.
func (c *Client) SetTimeout(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if d <= 0 {
		d = DefaultTimeout
	}
	c.cfg.Timeout = d
	if c.w != nil {
		c.w.timeout = d
	}
}

// User reports who the session is currently logged in as.
func (c *Client) User() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.user
}

// Evaluate runs code through the server's eval command and classifies the
// response. Multi-line code is flattened to one line, so it must be
// semicolon-complete. The returned error covers transport problems only;
// MOO-level failures land in the result.
func (c *Client) Evaluate(code string) (EvalResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.w == nil {
		return EvalResult{}, errNotConnected
	}
	flat := flattenCode(code)
	logging.Debug("Client", "Eval: %s", flat)
	if err := c.w.sendLine("; " + flat); err != nil {
		return EvalResult{}, err
	}
	lines, notifications, err := c.w.receiveEval()
	if err != nil {
		return EvalResult{}, fmt.Errorf("awaiting eval response: %w", err)
	}
	if len(lines) == 0 {
		return EvalResult{Success: true, Notifications: notifications}, nil
	}
	result := Classify(strings.Join(lines, "\n"), c.TracebackPhrases)
	result.Notifications = notifications
	return result, nil
}

// SendCommand sends a raw command line and returns its framed output.
func (c *Client) SendCommand(command string) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.w == nil {
		return nil, errNotConnected
	}
	logging.Debug("Client", "Command: %s", command)
	if err := c.w.sendLine(command); err != nil {
		return nil, err
	}
	return c.w.receiveLines()
}

// OpenConnection dials an additional session for multi-connection
// scenarios. It logs in and negotiates sentinels but shares no state with
// the primary session; the caller owns Close.
func (c *Client) OpenConnection(user string) (*TestConnection, error) {
	if user == "" {
		user = defaultUser
	}
	w, err := dialWire(c.cfg.Host, c.cfg.Port, c.cfg.Timeout)
	if err != nil {
		return nil, err
	}
	if err := w.login(user); err != nil {
		_ = w.close()
		return nil, err
	}
	logging.Debug("Client", "Opened extra connection as %s", user)
	return &TestConnection{w: w, user: user}, nil
}

// Close shuts the primary connection down. Closing twice is fine.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.w == nil {
		return nil
	}
	err := c.w.close()
	c.w = nil
	c.user = ""
	return err
}

// flattenCode collapses a code block onto one line the way the eval
// command expects, dropping blank lines and surrounding whitespace.
func flattenCode(code string) string {
	var parts []string
	for _, line := range strings.Split(strings.TrimSpace(code), "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			parts = append(parts, line)
		}
	}
	return strings.Join(parts, " ")
}
