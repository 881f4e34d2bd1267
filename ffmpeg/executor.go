package ffmpeg

import (
	"bufio"
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
)

// timePattern matches the time= field ffmpeg prints on stderr while it
// processes.
var timePattern = regexp.MustCompile(`time=(\d{2}):(\d{2}):(\d{2}\.\d{2})`)

// tailLines is how many trailing stderr lines an ExecError keeps for
// diagnosis.
const tailLines = 15

// ExecError reports an ffmpeg run that exited non-zero, with the tail of
// its stderr.
type ExecError struct {
	ExitCode int
	Tail     []string
}

func (e *ExecError) Error() string {
	return fmt.Sprintf("ffmpeg exited with code %d: %s", e.ExitCode, strings.Join(e.Tail, "\n"))
}

// RunOptions control one Executor.Run call.
type RunOptions struct {
	// TotalDuration in seconds lets progress be reported as a fraction.
	// Zero disables progress callbacks.
	TotalDuration float64

	// OnStart fires after the process starts. done is closed once it
	// has fully exited, so the process can be handed to a cancellation
	// registry.
	OnStart func(cmd *exec.Cmd, done <-chan struct{})

	// OnProgress receives a monotonic fraction in [0,1].
	OnProgress func(fraction float64)
}

// Executor runs ffmpeg commands and streams progress out of stderr.
type Executor struct {
	Bin string
	Log *logrus.Entry
}

func NewExecutor(bin string, log *logrus.Entry) *Executor {
	if bin == "" {
		bin = "ffmpeg"
	}
	return &Executor{Bin: bin, Log: log}
}

// Run executes ffmpeg with args, blocking until it exits. Cancellation
// comes from ctx or from whatever the OnStart hook attaches the process
// to.
func (e *Executor) Run(ctx context.Context, args []string, opts RunOptions) error {
	cmd := exec.CommandContext(ctx, e.Bin, args...)

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return err
	}

	if err := cmd.Start(); err != nil {
		return err
	}

	done := make(chan struct{})
	if opts.OnStart != nil {
		opts.OnStart(cmd, done)
	}

	e.Log.WithField("args", strings.Join(args, " ")).Debug("ffmpeg started")

	var tail []string
	lastFraction := 0.0

	scanner := bufio.NewScanner(stderr)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		tail = append(tail, line)
		if len(tail) > tailLines {
			tail = tail[1:]
		}

		if opts.OnProgress == nil || opts.TotalDuration <= 0 {
			continue
		}
		current, ok := parseProgressTime(line)
		if !ok {
			continue
		}
		fraction := current / opts.TotalDuration
		if fraction > 1 {
			fraction = 1
		}
		if fraction > lastFraction {
			lastFraction = fraction
			opts.OnProgress(fraction)
		}
	}

	err = cmd.Wait()
	close(done)

	if err != nil {
		exitCode := -1
		if ee, ok := err.(*exec.ExitError); ok {
			exitCode = ee.ExitCode()
		}
		e.Log.WithError(err).WithField("tail", strings.Join(tail, "\n")).Warn("ffmpeg failed")
		return &ExecError{ExitCode: exitCode, Tail: tail}
	}
	return nil
}

// parseProgressTime extracts the current position in seconds from one
// stderr line.
func parseProgressTime(line string) (float64, bool) {
	m := timePattern.FindStringSubmatch(line)
	if m == nil {
		return 0, false
	}
	hours, _ := strconv.ParseFloat(m[1], 64)
	minutes, _ := strconv.ParseFloat(m[2], 64)
	seconds, _ := strconv.ParseFloat(m[3], 64)
	return hours*3600 + minutes*60 + seconds, true
}
