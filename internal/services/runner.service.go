package services

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"vidmill/internal/events"
	"vidmill/internal/progress"

	logger "github.com/Bparsons0904/goLogger"
)

// percentEmitDelta is the minimum change between published percent events.
const percentEmitDelta = 0.1

// drainGrace bounds how long Run waits for output after the tool exits.
// Helpers the tool spawned inherit the pipe and can outlive it, holding
// the stream open; past the grace the reader is closed out from under them.
const drainGrace = 2 * time.Second

// Runner owns the lifecycle of external tool processes: spawn, merge stdout
// and stderr into one line stream, forward lines as progress events, inspect
// the exit code. Cancelling the context kills the child process.
type Runner struct {
	log logger.Logger
}

func NewRunner() *Runner {
	return &Runner{
		log: logger.New("runner"),
	}
}

// Run executes the command and streams its merged output to sink, one log
// event per line. When an extractor is given, lines that yield a percent
// also publish percent events. A non-zero exit returns a ToolError.
func (r *Runner) Run(
	ctx context.Context,
	sink events.Sink,
	extractor progress.Extractor,
	command string,
	args ...string,
) error {
	log := r.log.Function("Run")

	cmd := exec.CommandContext(ctx, command, args...)

	pipeReader, pipeWriter, err := os.Pipe()
	if err != nil {
		return log.Err("failed to create output pipe", err, "command", command)
	}
	cmd.Stdout = pipeWriter
	cmd.Stderr = pipeWriter

	log.Info("Spawning external tool", "command", command, "args", strings.Join(args, " "))

	if err := cmd.Start(); err != nil {
		_ = pipeWriter.Close()
		_ = pipeReader.Close()
		return log.Err("failed to start command", err, "command", command)
	}

	// The child holds its own copy of the write end; closing ours lets the
	// scanner see EOF when the child exits.
	_ = pipeWriter.Close()

	scanner := bufio.NewScanner(pipeReader)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	scanner.Split(scanToolLines)

	var scanErr error
	scanDone := make(chan struct{})
	go func() {
		defer close(scanDone)

		lastPercent := math.Inf(-1)
		for scanner.Scan() {
			line := strings.TrimRight(scanner.Text(), " ")
			if line == "" {
				continue
			}

			sink.Push(events.LogEvent(line))

			if extractor == nil {
				continue
			}
			percent, ok := extractor.Extract(line)
			if !ok {
				continue
			}
			if math.Abs(percent-lastPercent) >= percentEmitDelta || (percent == 100 && lastPercent != 100) {
				sink.Push(events.PercentEvent(percent))
				lastPercent = percent
			}
		}
		scanErr = scanner.Err()
	}()

	waitErr := cmd.Wait()

	select {
	case <-scanDone:
	case <-time.After(drainGrace):
		_ = pipeReader.Close()
		<-scanDone
	}
	_ = pipeReader.Close()

	if ctx.Err() != nil {
		log.Warn("Command cancelled", "command", command)
		return ctx.Err()
	}
	if waitErr != nil {
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			toolErr := &ToolError{Command: filepath.Base(command), ExitCode: exitErr.ExitCode()}
			return log.Err("external tool failed", toolErr, "command", command, "exitCode", exitErr.ExitCode())
		}
		return log.Err("command wait failed", waitErr, "command", command)
	}
	if scanErr != nil && !errors.Is(scanErr, os.ErrClosed) {
		return log.Err("failed reading tool output", scanErr, "command", command)
	}

	return nil
}

// Capture executes the command and returns its stdout, for tools invoked for
// their structured output rather than their side effects.
func (r *Runner) Capture(ctx context.Context, command string, args ...string) (string, error) {
	log := r.log.Function("Capture")

	cmd := exec.CommandContext(ctx, command, args...)
	output, err := cmd.Output()
	if ctx.Err() != nil {
		return "", ctx.Err()
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			toolErr := &ToolError{Command: filepath.Base(command), ExitCode: exitErr.ExitCode()}
			return "", log.Err("external tool failed", toolErr,
				"command", command,
				"stderr", strings.TrimSpace(string(exitErr.Stderr)))
		}
		return "", log.Err("failed to run command", err, "command", command)
	}

	return string(output), nil
}

// scanToolLines splits on LF or bare CR so in-place progress repaints from
// media tools arrive as individual lines.
func scanToolLines(data []byte, atEOF bool) (int, []byte, error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		return i + 1, data[:i], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}
