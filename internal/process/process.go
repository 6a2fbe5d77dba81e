package process

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/smazurov/feednode/internal/logging"
)

// OutputHandler receives output lines from the subprocess.
type OutputHandler interface {
	HandleLine(source, line string)
}

// LogParser parses a log line and returns the log level and message.
type LogParser func(line string) (level, msg string)

// StateChangeCallback is called on every state transition.
type StateChangeCallback func(id string, oldState, newState State, err error)

// Process runs one subprocess whose stdin is fed by the caller.
type Process struct {
	id              string
	command         string
	logger          logging.Logger
	processLogger   logging.Logger // logger for process output (nil = use logger)
	logParser       LogParser      // nil = every line logged at info
	outputHandler   OutputHandler
	onStateChange   StateChangeCallback
	gracefulTimeout time.Duration // SIGINT to SIGKILL
	killTimeout     time.Duration // SIGKILL to giving up

	mu        sync.Mutex
	cmd       *exec.Cmd
	stdin     io.WriteCloser
	state     State
	startedAt time.Time
	lastError error
	done      chan struct{}
	exitCode  int
	outputWG  sync.WaitGroup
}

// NewProcess creates an idle process.
func NewProcess(id, command string, logger logging.Logger) *Process {
	return &Process{
		id:              id,
		command:         command,
		logger:          logger,
		state:           StateIdle,
		gracefulTimeout: 5 * time.Second,
		killTimeout:     5 * time.Second,
	}
}

// Command returns the command line.
func (p *Process) Command() string { return p.command }

// SetLogParser sets the logger and parser used for process output.
func (p *Process) SetLogParser(logger logging.Logger, parser LogParser) {
	p.processLogger = logger
	p.logParser = parser
}

// SetOutputHandler forwards every output line to h.
func (p *Process) SetOutputHandler(h OutputHandler) {
	p.outputHandler = h
}

// OnStateChange registers a state callback.
func (p *Process) OnStateChange(cb StateChangeCallback) {
	p.onStateChange = cb
}

// SetTimeouts overrides the graceful and kill timeouts.
func (p *Process) SetTimeouts(graceful, kill time.Duration) {
	p.gracefulTimeout = graceful
	p.killTimeout = kill
}

// Start launches the subprocess and returns a writer for its stdin.
func (p *Process) Start() (io.WriteCloser, error) {
	p.mu.Lock()
	if p.state != StateIdle {
		p.mu.Unlock()
		return nil, fmt.Errorf("process %s already started", p.id)
	}
	p.mu.Unlock()
	p.setState(StateStarting, nil)

	args, err := parseCommand(p.command)
	if err == nil && len(args) == 0 {
		err = errors.New("empty command")
	}
	if err != nil {
		p.setState(StateError, err)
		return nil, err
	}

	cmd := exec.Command(args[0], args[1:]...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		p.setState(StateError, err)
		return nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		p.setState(StateError, err)
		return nil, err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		p.setState(StateError, err)
		return nil, err
	}

	if err := cmd.Start(); err != nil {
		p.logger.Error("Failed to start process", "error", err, "command", p.command)
		p.setState(StateError, err)
		return nil, err
	}

	p.mu.Lock()
	p.cmd = cmd
	p.stdin = stdin
	p.startedAt = time.Now()
	p.done = make(chan struct{})
	p.mu.Unlock()

	p.logger.Info("Process started", "id", p.id, "pid", cmd.Process.Pid, "command", p.command)
	p.setState(StateRunning, nil)

	p.outputWG.Add(2)
	go p.streamOutput(stdout, "stdout")
	go p.streamOutput(stderr, "stderr")

	go func() {
		// Wait closes the pipes, so drain output first.
		p.outputWG.Wait()
		err := cmd.Wait()
		code := exitCodeFromError(err)

		p.mu.Lock()
		p.exitCode = code
		p.mu.Unlock()

		if code != 0 {
			exitErr := fmt.Errorf("process exited with code %d", code)
			p.setState(StateError, exitErr)
		} else {
			p.setState(StateIdle, nil)
		}
		p.logger.Info("Process exited", "id", p.id, "exit_code", code)
		close(p.done)
	}()

	return stdin, nil
}

// Wait blocks until the process exits and returns its exit code. If ctx
// ends first the process is stopped.
func (p *Process) Wait(ctx context.Context) int {
	p.mu.Lock()
	done := p.done
	p.mu.Unlock()
	if done == nil {
		return 0
	}

	select {
	case <-done:
		return p.ExitCode()
	case <-ctx.Done():
		p.logger.Info("Context cancelled, shutting down process", "id", p.id)
		return p.Stop()
	}
}

// Stop closes stdin, sends SIGINT and waits up to the graceful timeout
// before killing the process. It returns the exit code, 137 when killed.
func (p *Process) Stop() int {
	p.mu.Lock()
	cmd, done, stdin := p.cmd, p.done, p.stdin
	p.mu.Unlock()
	if cmd == nil || done == nil {
		return 0
	}

	select {
	case <-done:
		return p.ExitCode()
	default:
	}

	p.setState(StateStopping, nil)
	_ = stdin.Close()
	p.sendStopSignal(cmd)
	return p.waitForExit(cmd, done)
}

// ExitCode returns the exit code of a finished process.
func (p *Process) ExitCode() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exitCode
}

// Done is closed when the process has exited. It is nil before Start.
func (p *Process) Done() <-chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.done
}

// Info returns a snapshot of the process.
func (p *Process) Info() Info {
	p.mu.Lock()
	defer p.mu.Unlock()
	info := Info{
		ID:        p.id,
		State:     p.state,
		StartedAt: p.startedAt,
		LastError: p.lastError,
	}
	if p.cmd != nil && p.cmd.Process != nil {
		info.PID = p.cmd.Process.Pid
	}
	return info
}

func (p *Process) setState(state State, err error) {
	p.mu.Lock()
	old := p.state
	p.state = state
	if err != nil {
		p.lastError = err
	}
	p.mu.Unlock()

	if old != state && p.onStateChange != nil {
		p.onStateChange(p.id, old, state, err)
	}
}

// exitCodeFromError returns 0 for nil, the exit code for an ExitError, or
// 1 otherwise.
func exitCodeFromError(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return 1
}

// sendStopSignal sends SIGINT to the subprocess without waiting.
func (p *Process) sendStopSignal(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	p.logger.Info("Sending SIGINT to process", "pid", cmd.Process.Pid)
	if err := cmd.Process.Signal(syscall.SIGINT); err != nil && !errors.Is(err, os.ErrProcessDone) {
		p.logger.Warn("Failed to send SIGINT", "error", err)
	}
}

// waitForExit waits for the process to exit, force-killing it after the
// graceful timeout.
func (p *Process) waitForExit(cmd *exec.Cmd, done <-chan struct{}) int {
	select {
	case <-done:
		return p.ExitCode()
	case <-time.After(p.gracefulTimeout):
		p.logger.Warn("Graceful shutdown timeout, forcing kill", "timeout", p.gracefulTimeout)
		// Kill the whole group so children holding the output pipes exit too.
		if err := syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL); err != nil {
			if err := cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
				p.logger.Error("Failed to kill process", "error", err)
			}
		}
		select {
		case <-done:
		case <-time.After(p.killTimeout):
			p.logger.Error("Process did not exit after kill signal")
		}
		return 137
	}
}

// streamOutput logs every line of reader through the process logger, using
// the log parser to pick the level.
func (p *Process) streamOutput(reader io.Reader, source string) {
	defer p.outputWG.Done()

	scanner := bufio.NewScanner(reader)
	logger := p.processLogger
	if logger == nil {
		logger = p.logger
	}

	for scanner.Scan() {
		line := scanner.Text()

		if p.outputHandler != nil {
			p.outputHandler.HandleLine(source, line)
		}

		level, msg := "info", line
		if p.logParser != nil {
			level, msg = p.logParser(line)
		}

		switch level {
		case "panic", "fatal", "error":
			logger.Error(msg)
		case "warning":
			logger.Warn(msg)
		case "verbose", "debug", "trace":
			logger.Debug(msg)
		default:
			logger.Info(msg)
		}
	}

	if err := scanner.Err(); err != nil && !errors.Is(err, os.ErrClosed) {
		p.logger.Warn("Error reading output", "source", source, "error", err)
	}
}

// parseCommand splits a command line into arguments, honouring single and
// double quotes and backslash escapes.
func parseCommand(command string) ([]string, error) {
	var args []string
	var current strings.Builder
	inQuote := false
	quoteChar := rune(0)

	runes := []rune(strings.TrimSpace(command))
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		switch {
		case r == '"' || r == '\'':
			switch {
			case !inQuote:
				inQuote = true
				quoteChar = r
			case r == quoteChar:
				inQuote = false
				quoteChar = 0
			default:
				current.WriteRune(r)
			}
		case r == ' ' && !inQuote:
			if current.Len() > 0 {
				args = append(args, current.String())
				current.Reset()
			}
		case r == '\\' && i+1 < len(runes):
			i++
			current.WriteRune(runes[i])
		default:
			current.WriteRune(r)
		}
	}

	if current.Len() > 0 {
		args = append(args, current.String())
	}
	if inQuote {
		return nil, fmt.Errorf("unclosed quote in command")
	}
	return args, nil
}
