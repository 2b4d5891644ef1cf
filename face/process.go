package face

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"sync/atomic"

	log "github.com/sirupsen/logrus"
)

const readBufferSize = 64 * 1024

// ErrDetectorStopped is returned when writing to a stopped detector
var ErrDetectorStopped = errors.New("detector stopped")

// ErrScriptNotFound is returned by Spawn when the detection script is missing.
// The script is not part of this repository and must be installed separately.
var ErrScriptNotFound = errors.New("detection script not found")

// PythonSpawner runs the detection script with a python interpreter. Frames
// are written to its stdin as "<length>\n" followed by the frame bytes. Every
// chunk on stdout is a result, every chunk on stderr a failure.
type PythonSpawner struct {
	Python string
	Script string
}

func (p PythonSpawner) Spawn(sink Sink) (Detector, error) {
	python := p.Python
	if python == "" {
		python = "python3"
	}
	if _, err := os.Stat(p.Script); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrScriptNotFound, p.Script)
	}

	cmd := exec.Command(python, "-u", p.Script)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open detector stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open detector stdout: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open detector stderr: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start detector: %w", err)
	}

	log.WithFields(log.Fields{
		"pid":    cmd.Process.Pid,
		"script": p.Script,
	}).Debug("Started detector")

	d := &process{
		cmd:   cmd,
		stdin: stdin,
		done:  make(chan struct{}),
	}

	var pipes sync.WaitGroup
	pipes.Add(2)
	go func() {
		defer pipes.Done()
		pump(stdout, sink.Result)
	}()
	go func() {
		defer pipes.Done()
		pump(stderr, func(data []byte) { sink.Failure(string(data)) })
	}()

	go func() {
		pipes.Wait()
		err := cmd.Wait()
		if !d.stopped.Load() {
			message := "detector exited"
			if err != nil {
				message = fmt.Sprintf("detector exited: %v", err)
			}
			sink.Failure(message)
		}
		close(d.done)
	}()

	return d, nil
}

// pump hands every chunk read from r to emit until r is closed
func pump(r io.Reader, emit func([]byte)) {
	buf := make([]byte, readBufferSize)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			emit(chunk)
		}
		if err != nil {
			return
		}
	}
}

type process struct {
	cmd   *exec.Cmd
	stdin io.WriteCloser
	done  chan struct{}

	writeMu sync.Mutex
	stopped atomic.Bool
}

func (p *process) Write(frame []byte) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	if p.stopped.Load() {
		return ErrDetectorStopped
	}
	if _, err := io.WriteString(p.stdin, strconv.Itoa(len(frame))+"\n"); err != nil {
		return err
	}
	_, err := p.stdin.Write(frame)
	return err
}

// Stop kills the process and waits for its output to drain
func (p *process) Stop() error {
	if !p.stopped.CompareAndSwap(false, true) {
		return nil
	}

	if err := p.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		log.WithField("pid", p.cmd.Process.Pid).Warnf("Failed to kill detector: %v", err)
	}
	_ = p.stdin.Close()
	<-p.done
	return nil
}
