// Package server manages a MOO server subprocess for a test session. When
// no command template is configured, runs target an externally managed
// server instead.
package server

import (
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/MongooseMoo/moo-conformance-tests/pkg/logging"
)

const (
	startTimeout = 30 * time.Second
	pollInterval = 500 * time.Millisecond
	dialTimeout  = 1 * time.Second
	stopTimeout  = 5 * time.Second
)

// Config describes how to launch the server. Command is a template whose
// {port} and {db} placeholders are substituted at start.
type Config struct {
	Command string
	DBPath  string
	Host    string
	// Port to listen on; 0 picks a free one.
	Port int
}

// Manager owns one server subprocess. The database is copied into a fresh
// temp dir so runs never mutate the original; server output goes to
// server.log in the same dir. Safe for concurrent use.
type Manager struct {
	cfg Config

	mu        sync.Mutex
	cmd       *exec.Cmd
	waitCh    chan error
	port      int
	tempDir   string
	dbCopy    string
	logFile   *os.File
	logPath   string
	startedAt time.Time
}

// New validates the config. Managing a server only makes sense on the
// machine the harness runs on, so the host must be local.
func New(cfg Config) (*Manager, error) {
	if cfg.Command == "" {
		return nil, fmt.Errorf("server command template is required")
	}
	if cfg.DBPath == "" {
		return nil, fmt.Errorf("server database path is required")
	}
	host := cfg.Host
	if host == "" {
		host = "localhost"
		cfg.Host = host
	}
	if host != "localhost" && host != "127.0.0.1" && host != "::1" {
		return nil, fmt.Errorf("managed server host must be local, got %q", host)
	}
	if _, err := os.Stat(cfg.DBPath); err != nil {
		return nil, fmt.Errorf("server database: %w", err)
	}
	return &Manager{cfg: cfg}, nil
}

// Start copies the database into a temp dir, launches the server, and
// waits for it to accept connections.
func (m *Manager) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cmd != nil {
		return fmt.Errorf("server already running on port %d", m.port)
	}

	port := m.cfg.Port
	if port == 0 {
		p, err := freePort()
		if err != nil {
			return fmt.Errorf("picking port: %w", err)
		}
		port = p
	}

	tempDir, err := os.MkdirTemp("", "mooconf-server-*")
	if err != nil {
		return err
	}
	dbCopy := filepath.Join(tempDir, filepath.Base(m.cfg.DBPath))
	if err := copyFile(m.cfg.DBPath, dbCopy); err != nil {
		os.RemoveAll(tempDir)
		return fmt.Errorf("copying database: %w", err)
	}

	m.port = port
	m.tempDir = tempDir
	m.dbCopy = dbCopy
	if err := m.launchLocked(); err != nil {
		m.cleanupLocked()
		return err
	}
	return nil
}

// Restart stops the process but keeps the working directory, reconciles
// checkpoint output back into the primary database path, and relaunches on
// the same port. Servers that checkpoint to <db>.new get that file renamed
// over <db> so the restarted server loads the latest state.
func (m *Manager) Restart() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.tempDir == "" {
		return fmt.Errorf("server was never started")
	}

	m.stopProcessLocked()

	checkpoint := m.dbCopy + ".new"
	if _, err := os.Stat(checkpoint); err == nil {
		logging.Debug("Server", "Adopting checkpoint %s", checkpoint)
		if err := os.Rename(checkpoint, m.dbCopy); err != nil {
			return fmt.Errorf("adopting checkpoint: %w", err)
		}
	}

	if err := m.launchLocked(); err != nil {
		m.cleanupLocked()
		return err
	}
	return nil
}

// Stop terminates the server and removes its temp dir. Stopping twice is
// fine.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopProcessLocked()
	m.cleanupLocked()
}

// Port returns the port the server listens on, 0 before Start.
func (m *Manager) Port() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.port
}

// LogPath returns the server log location, empty before Start.
func (m *Manager) LogPath() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.logPath
}

// Running reports whether the subprocess is alive.
func (m *Manager) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cmd != nil
}

// StartedAt returns when the current process was launched.
func (m *Manager) StartedAt() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.startedAt
}

func (m *Manager) launchLocked() error {
	args := buildCommand(m.cfg.Command, m.port, m.dbCopy)
	if len(args) == 0 {
		return fmt.Errorf("server command template is empty after substitution")
	}

	m.logPath = filepath.Join(m.tempDir, "server.log")
	logFile, err := os.OpenFile(m.logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}

	cmd := exec.Command(args[0], args[1:]...)
	cmd.Dir = m.tempDir
	cmd.Stdout = logFile
	cmd.Stderr = logFile

	logging.Info("Server", "Starting: %s (port %d)", strings.Join(args, " "), m.port)
	if err := cmd.Start(); err != nil {
		logFile.Close()
		return fmt.Errorf("starting server: %w", err)
	}

	waitCh := make(chan error, 1)
	go func() { waitCh <- cmd.Wait() }()

	m.cmd = cmd
	m.waitCh = waitCh
	m.logFile = logFile
	m.startedAt = time.Now()

	if err := m.waitForPortLocked(); err != nil {
		m.stopProcessLocked()
		return err
	}
	logging.Info("Server", "Accepting connections on port %d", m.port)
	return nil
}

// waitForPortLocked polls until the server accepts a TCP connection,
// failing fast when the process exits first.
func (m *Manager) waitForPortLocked() error {
	addr := net.JoinHostPort(m.cfg.Host, fmt.Sprint(m.port))
	deadline := time.Now().Add(startTimeout)

	for time.Now().Before(deadline) {
		select {
		case err := <-m.waitCh:
			m.cmd = nil
			m.waitCh = nil
			return fmt.Errorf("server exited before accepting connections: %v (log: %s)",
				exitStatus(err), m.logPath)
		default:
		}

		conn, err := net.DialTimeout("tcp", addr, dialTimeout)
		if err == nil {
			conn.Close()
			return nil
		}
		time.Sleep(pollInterval)
	}
	return fmt.Errorf("server did not accept connections on port %d within %v (log: %s)",
		m.port, startTimeout, m.logPath)
}

// stopProcessLocked terminates the subprocess, escalating to SIGKILL when
// it ignores SIGTERM, and closes the log file. The temp dir survives.
func (m *Manager) stopProcessLocked() {
	if m.cmd != nil {
		_ = m.cmd.Process.Signal(syscall.SIGTERM)
		select {
		case <-m.waitCh:
		case <-time.After(stopTimeout):
			logging.Warn("Server", "Process %d ignored SIGTERM, killing", m.cmd.Process.Pid)
			_ = m.cmd.Process.Kill()
			<-m.waitCh
		}
		m.cmd = nil
		m.waitCh = nil
	}
	if m.logFile != nil {
		m.logFile.Close()
		m.logFile = nil
	}
}

func (m *Manager) cleanupLocked() {
	if m.tempDir != "" {
		os.RemoveAll(m.tempDir)
		m.tempDir = ""
	}
	m.dbCopy = ""
	m.logPath = ""
	m.port = 0
}

// buildCommand splits the template on whitespace and substitutes the
// placeholders per token. Paths with spaces need the db inside its own
// token anyway, so field splitting matches how people write the templates.
func buildCommand(template string, port int, db string) []string {
	fields := strings.Fields(template)
	out := make([]string, len(fields))
	for i, f := range fields {
		f = strings.ReplaceAll(f, "{port}", fmt.Sprint(port))
		f = strings.ReplaceAll(f, "{db}", db)
		out[i] = f
	}
	return out
}

func freePort() (int, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port, nil
}

func copyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	info, err := os.Stat(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, data, info.Mode().Perm())
}

func exitStatus(err error) string {
	if err == nil {
		return "exit status 0"
	}
	return err.Error()
}
