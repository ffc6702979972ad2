package client

import (
	"bufio"
	"errors"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MongooseMoo/moo-conformance-tests/internal/moo"
)

// closeMarker tells the fake server to drop the connection instead of
// writing a line.
const closeMarker = "\x00close"

// fakeServer is a minimal MOO endpoint: it greets logins, swallows
// sentinel negotiation, and answers everything else through handle. The
// returned lines go to the wire verbatim, so scripts include their own
// sentinels.
type fakeServer struct {
	ln     net.Listener
	handle func(line string) []string

	mu    sync.Mutex
	lines []string
	conns int
}

func newFakeServer(t *testing.T, handle func(line string) []string) *fakeServer {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	s := &fakeServer{ln: ln, handle: handle}
	t.Cleanup(func() { _ = ln.Close() })
	go s.acceptLoop()
	return s
}

func (s *fakeServer) acceptLoop() {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		s.mu.Lock()
		s.conns++
		s.mu.Unlock()
		go s.serve(conn)
	}
}

func (s *fakeServer) serve(conn net.Conn) {
	defer conn.Close()
	r := bufio.NewReader(conn)
	for {
		raw, err := r.ReadString('\n')
		if err != nil {
			return
		}
		line := strings.TrimRight(raw, "\r\n")
		s.mu.Lock()
		s.lines = append(s.lines, line)
		s.mu.Unlock()
		switch {
		case strings.HasPrefix(line, "connect "):
			_, _ = conn.Write([]byte("*** Connected ***\r\n"))
		case strings.HasPrefix(line, "PREFIX "), strings.HasPrefix(line, "SUFFIX "):
		default:
			for _, out := range s.handle(line) {
				if out == closeMarker {
					return
				}
				_, _ = conn.Write([]byte(out + "\r\n"))
			}
		}
	}
}

func (s *fakeServer) config() Config {
	addr := s.ln.Addr().(*net.TCPAddr)
	return Config{Host: "127.0.0.1", Port: addr.Port, Timeout: 500 * time.Millisecond}
}

func (s *fakeServer) received() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.lines...)
}

func (s *fakeServer) connCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conns
}

// framed wraps payload lines in the output sentinels.
func framed(lines ...string) []string {
	out := []string{prefixSentinel}
	out = append(out, lines...)
	return append(out, suffixSentinel)
}

// seedAware answers core property seeding with success and delegates the
// rest.
func seedAware(handle func(line string) []string) func(line string) []string {
	return func(line string) []string {
		if strings.Contains(line, "add_property") {
			return framed("{1, 0}")
		}
		return handle(line)
	}
}

func TestClientConnectAndEvaluate(t *testing.T) {
	srv := newFakeServer(t, seedAware(func(line string) []string {
		if line == "; return 6 * 7;" {
			return framed("{1, 42}")
		}
		return framed(`{0, "unexpected input"}`)
	}))
	c := New(srv.config())
	require.NoError(t, c.Connect("programmer"))
	defer c.Close()

	res, err := c.Evaluate("return 6 * 7;")
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, moo.Int(42), res.Value)
}

func TestClientLoginAccounts(t *testing.T) {
	tests := []struct {
		user string
		want string
	}{
		{"programmer", "connect Programmer"},
		{"wizard", "connect Wizard"},
		{"", "connect Programmer"},
		{"Munchkin", "connect Munchkin"},
	}
	for _, tt := range tests {
		t.Run("user "+tt.user, func(t *testing.T) {
			srv := newFakeServer(t, seedAware(func(string) []string { return framed("{1, 0}") }))
			c := New(srv.config())
			require.NoError(t, c.Connect(tt.user))
			defer c.Close()
			got := srv.received()
			require.NotEmpty(t, got)
			assert.Equal(t, tt.want, got[0])
		})
	}
}

func TestClientSeedsCorePropertiesOnce(t *testing.T) {
	srv := newFakeServer(t, seedAware(func(string) []string { return framed("{1, 0}") }))
	c := New(srv.config())
	require.NoError(t, c.Connect("programmer"))
	defer c.Close()

	seeds := func() []string {
		var out []string
		for _, l := range srv.received() {
			if strings.Contains(l, "add_property") {
				out = append(out, l)
			}
		}
		return out
	}

	first := seeds()
	require.Len(t, first, 5)
	assert.Contains(t, first[0], `"object", #1`)
	assert.Contains(t, first[1], `"anonymous", #5`)
	assert.Contains(t, first[2], `"anon", #5`)
	assert.Contains(t, first[3], `"sysobj", #0`)
	assert.Contains(t, first[4], `"nothing", #-1`)

	// Reconnecting as another role must not seed again.
	require.NoError(t, c.SwitchUser("wizard"))
	assert.Len(t, seeds(), 5)
}

func TestClientSwitchUser(t *testing.T) {
	srv := newFakeServer(t, seedAware(func(string) []string { return framed("{1, 0}") }))
	c := New(srv.config())
	require.NoError(t, c.Connect("programmer"))
	defer c.Close()
	require.Equal(t, 1, srv.connCount())
	assert.Equal(t, "programmer", c.User())

	// Same role: no reconnect.
	require.NoError(t, c.SwitchUser("programmer"))
	assert.Equal(t, 1, srv.connCount())

	// Different role: fresh connection and login.
	require.NoError(t, c.SwitchUser("wizard"))
	assert.Equal(t, 2, srv.connCount())
	assert.Equal(t, "wizard", c.User())
	assert.Contains(t, srv.received(), "connect Wizard")
}

func TestEvaluateFlattensCode(t *testing.T) {
	srv := newFakeServer(t, seedAware(func(string) []string { return framed("{1, 3}") }))
	c := New(srv.config())
	require.NoError(t, c.Connect("programmer"))
	defer c.Close()

	_, err := c.Evaluate("x = 1;\n\n  y = 2;  \nreturn x + y;")
	require.NoError(t, err)

	var evalLine string
	for _, l := range srv.received() {
		if strings.HasPrefix(l, "; x") {
			evalLine = l
		}
	}
	assert.Equal(t, "; x = 1; y = 2; return x + y;", evalLine)
}

func TestEvaluateCollectsNotifications(t *testing.T) {
	srv := newFakeServer(t, seedAware(func(line string) []string {
		return []string{"You sense a disturbance.", prefixSentinel, "{1, 5}", suffixSentinel}
	}))
	c := New(srv.config())
	require.NoError(t, c.Connect("programmer"))
	defer c.Close()

	res, err := c.Evaluate("return notify(player, \"hi\");")
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, moo.Int(5), res.Value)
	assert.Equal(t, []string{"You sense a disturbance."}, res.Notifications)
}

func TestEvaluateFramingQuirks(t *testing.T) {
	t.Run("double prefix", func(t *testing.T) {
		srv := newFakeServer(t, seedAware(func(string) []string {
			return []string{prefixSentinel, prefixSentinel, "{1, 9}", suffixSentinel}
		}))
		c := New(srv.config())
		require.NoError(t, c.Connect("programmer"))
		defer c.Close()
		res, err := c.Evaluate("return 9;")
		require.NoError(t, err)
		assert.Equal(t, moo.Int(9), res.Value)
	})

	t.Run("suffix before payload", func(t *testing.T) {
		srv := newFakeServer(t, seedAware(func(string) []string {
			return []string{prefixSentinel, suffixSentinel, "{1, 7}", suffixSentinel}
		}))
		c := New(srv.config())
		require.NoError(t, c.Connect("programmer"))
		defer c.Close()
		res, err := c.Evaluate("return 7;")
		require.NoError(t, err)
		assert.Equal(t, moo.Int(7), res.Value)
	})

	t.Run("telnet negotiation stripped", func(t *testing.T) {
		iac := string([]byte{0xFF, 0xFB, 0x01})
		srv := newFakeServer(t, seedAware(func(string) []string {
			return []string{prefixSentinel, iac + "{1, 42}", suffixSentinel}
		}))
		c := New(srv.config())
		require.NoError(t, c.Connect("programmer"))
		defer c.Close()
		res, err := c.Evaluate("return 42;")
		require.NoError(t, err)
		assert.Equal(t, moo.Int(42), res.Value)
	})
}

func TestEvaluateTimeoutIsAnError(t *testing.T) {
	srv := newFakeServer(t, seedAware(func(string) []string { return nil }))
	c := New(srv.config())
	require.NoError(t, c.Connect("programmer"))
	defer c.Close()

	_, err := c.Evaluate("return suspend(10);")
	assert.Error(t, err)
}

func TestEvaluateServerClosesMidResponse(t *testing.T) {
	srv := newFakeServer(t, seedAware(func(string) []string { return []string{closeMarker} }))
	c := New(srv.config())
	require.NoError(t, c.Connect("programmer"))
	defer c.Close()

	res, err := c.Evaluate("return shutdown();")
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Nil(t, res.Value)
}

func TestEvaluateRequiresConnect(t *testing.T) {
	c := New(Config{Host: "127.0.0.1", Port: 9999})
	_, err := c.Evaluate("return 1;")
	require.ErrorIs(t, err, errNotConnected)
}

func TestSendCommand(t *testing.T) {
	t.Run("framed output", func(t *testing.T) {
		srv := newFakeServer(t, seedAware(func(line string) []string {
			if line == "look" {
				return framed("A plain room.", "Nothing here.")
			}
			return framed()
		}))
		c := New(srv.config())
		require.NoError(t, c.Connect("programmer"))
		defer c.Close()
		out, err := c.SendCommand("look")
		require.NoError(t, err)
		assert.Equal(t, []string{"A plain room.", "Nothing here."}, out)
	})

	t.Run("missing suffix ends at timeout", func(t *testing.T) {
		srv := newFakeServer(t, seedAware(func(string) []string {
			return []string{prefixSentinel, "partial output"}
		}))
		c := New(srv.config())
		require.NoError(t, c.Connect("programmer"))
		defer c.Close()
		out, err := c.SendCommand("look")
		require.NoError(t, err)
		assert.Equal(t, []string{"partial output"}, out)
	})
}

func TestOpenConnection(t *testing.T) {
	srv := newFakeServer(t, seedAware(func(line string) []string {
		if line == "@emote waves" {
			return framed("You wave.")
		}
		return framed("{1, 1}")
	}))
	c := New(srv.config())
	require.NoError(t, c.Connect("programmer"))
	defer c.Close()

	tc, err := c.OpenConnection("wizard")
	require.NoError(t, err)
	assert.Equal(t, "wizard", tc.User())
	assert.Equal(t, 2, srv.connCount())
	assert.Contains(t, srv.received(), "connect Wizard")

	out, err := tc.Send("@emote waves")
	require.NoError(t, err)
	assert.Equal(t, []string{"You wave."}, out)

	require.NoError(t, tc.Close())
	require.NoError(t, tc.Close())
	_, err = tc.Send("@emote waves")
	assert.Error(t, err)

	// The primary session is unaffected.
	res, err := c.Evaluate("return 1;")
	require.NoError(t, err)
	assert.True(t, res.Success)
}

func TestClientCloseIsIdempotent(t *testing.T) {
	srv := newFakeServer(t, seedAware(func(string) []string { return framed("{1, 0}") }))
	c := New(srv.config())
	require.NoError(t, c.Connect("programmer"))
	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
	_, err := c.Evaluate("return 1;")
	assert.True(t, errors.Is(err, errNotConnected))
}

func TestFlattenCode(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"single line", "return 1;", "return 1;"},
		{"leading and trailing space", "  return 1;  ", "return 1;"},
		{"multi line", "a = 1;\nreturn a;", "a = 1; return a;"},
		{"blank lines dropped", "a = 1;\n\n\nreturn a;\n", "a = 1; return a;"},
		{"inner indentation", "if (1)\n    return 2;\nendif", "if (1) return 2; endif"},
		{"empty", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, flattenCode(tt.in))
		})
	}
}
