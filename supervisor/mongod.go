// Package supervisor owns the lifecycle of the local document database process
package supervisor

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	log "github.com/sirupsen/logrus"
)

// Log id mongod prints once it accepts connections
const waitingForConnections = 23016

const (
	defaultReadyTimeout = 60 * time.Second
	stopGracePeriod     = 10 * time.Second
)

// ErrExited is returned when mongod exits before it became ready
var ErrExited = errors.New("mongod exited before accepting connections")

// Options configure the database process
type Options struct {
	Binary   string
	DataDir  string
	Port     int
	Disabled bool

	// ReadyTimeout bounds how long Start waits for the database. Zero means 60s.
	ReadyTimeout time.Duration
}

// LogEntry is one line of mongod's structured log
type LogEntry struct {
	T struct {
		Date string `json:"$date"`
	} `json:"t"`
	S    string                 `json:"s"`
	C    string                 `json:"c"`
	ID   int                    `json:"id"`
	Ctx  string                 `json:"ctx"`
	Msg  string                 `json:"msg"`
	Attr map[string]interface{} `json:"attr,omitempty"`
}

// ParseLog decodes a structured mongod log line
func ParseLog(line string) (*LogEntry, error) {
	var entry LogEntry
	if err := json.Unmarshal([]byte(line), &entry); err != nil {
		return nil, err
	}
	return &entry, nil
}

// Mongod is a handle to a supervised mongod process
type Mongod struct {
	opts Options

	mu      sync.Mutex
	cmd     *exec.Cmd
	done    chan struct{}
	ready   chan struct{}
	once    sync.Once
	exitErr error
	stopped bool
}

func New(opts Options) *Mongod {
	if opts.Binary == "" {
		opts.Binary = "mongod"
	}
	if opts.ReadyTimeout == 0 {
		opts.ReadyTimeout = defaultReadyTimeout
	}
	return &Mongod{opts: opts}
}

// Start launches mongod and blocks until it accepts connections, the process
// exits, or ctx is done
func (m *Mongod) Start(ctx context.Context) error {
	if m.opts.Disabled {
		log.Info("MongoDB will not be started")
		return nil
	}

	m.mu.Lock()
	if m.cmd != nil {
		m.mu.Unlock()
		return errors.New("mongod already started")
	}

	log.WithFields(log.Fields{
		"binary": m.opts.Binary,
		"dbpath": m.opts.DataDir,
		"port":   m.opts.Port,
	}).Info("Starting MongoDB")

	cmd := exec.Command(m.opts.Binary, "--dbpath", m.opts.DataDir, "--port", strconv.Itoa(m.opts.Port))
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		m.mu.Unlock()
		return fmt.Errorf("failed to open mongod stdout: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		m.mu.Unlock()
		return fmt.Errorf("failed to open mongod stderr: %w", err)
	}
	if err := cmd.Start(); err != nil {
		m.mu.Unlock()
		return fmt.Errorf("failed to start mongod: %w", err)
	}

	m.cmd = cmd
	m.done = make(chan struct{})
	m.ready = make(chan struct{})
	m.mu.Unlock()

	var pipes sync.WaitGroup
	pipes.Add(2)
	go func() {
		defer pipes.Done()
		m.forward(stdout, "stdout")
	}()
	go func() {
		defer pipes.Done()
		m.forward(stderr, "stderr")
	}()

	go func() {
		pipes.Wait()
		err := cmd.Wait()
		m.mu.Lock()
		m.exitErr = err
		m.mu.Unlock()
		log.WithFields(log.Fields{
			"error": err,
		}).Warn("MongoDB exited")
		close(m.done)
	}()

	if err := m.waitReady(ctx); err != nil {
		m.Stop()
		return err
	}

	log.Info("Started MongoDB")
	return nil
}

// forward logs every line of r and watches for the readiness log entry
func (m *Mongod) forward(r io.Reader, stream string) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}

		entry, err := ParseLog(line)
		if err != nil {
			log.WithField("stream", stream).Info("MongoDB: ", line)
			continue
		}

		fields := log.Fields{"stream": stream, "component": entry.C, "id": entry.ID}
		switch entry.S {
		case "F", "E":
			log.WithFields(fields).Error("MongoDB: ", entry.Msg)
		case "W":
			log.WithFields(fields).Warn("MongoDB: ", entry.Msg)
		default:
			log.WithFields(fields).Debug("MongoDB: ", entry.Msg)
		}

		if entry.ID == waitingForConnections {
			m.once.Do(func() { close(m.ready) })
		}
	}
}

// waitReady polls with exponential backoff until mongod reports it is waiting
// for connections or its port accepts a TCP connection
func (m *Mongod) waitReady(ctx context.Context) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 50 * time.Millisecond
	b.MaxInterval = 2 * time.Second
	b.MaxElapsedTime = m.opts.ReadyTimeout

	probe := func() error {
		select {
		case <-m.ready:
			return nil
		case <-m.done:
			return backoff.Permanent(ErrExited)
		default:
		}
		return m.Healthy(ctx)
	}

	if err := backoff.Retry(probe, backoff.WithContext(b, ctx)); err != nil {
		return fmt.Errorf("mongod not ready: %w", err)
	}
	return nil
}

// Healthy dials the database port
func (m *Mongod) Healthy(ctx context.Context) error {
	dialer := net.Dialer{Timeout: time.Second}
	conn, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(m.opts.Port)))
	if err != nil {
		return err
	}
	return conn.Close()
}

// Done is closed when the process exits. It is nil when the supervisor is disabled
// or not started, so a select on it blocks forever.
func (m *Mongod) Done() <-chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.done
}

// Err returns the exit error of the process once Done is closed
func (m *Mongod) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.exitErr
}

// Stop interrupts mongod and kills it if it does not exit within the grace
// period. Safe to call more than once.
func (m *Mongod) Stop() error {
	m.mu.Lock()
	if m.cmd == nil || m.stopped {
		m.mu.Unlock()
		return nil
	}
	m.stopped = true
	cmd, done := m.cmd, m.done
	m.mu.Unlock()

	select {
	case <-done:
		return nil
	default:
	}

	log.Info("Stopping MongoDB")
	if err := cmd.Process.Signal(os.Interrupt); err != nil {
		log.Warnf("Failed to interrupt mongod, killing it: %v", err)
		_ = cmd.Process.Kill()
	}

	select {
	case <-done:
	case <-time.After(stopGracePeriod):
		log.Warn("MongoDB did not stop in time, killing it")
		_ = cmd.Process.Kill()
		<-done
	}
	return nil
}
