// Package capture holds the collaborators that produce a raw image and the
// readings tagged onto it. The camera itself is an external command.
package capture

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"edgecam/internal/metadata"
)

// ErrCaptureFailed wraps every failure of the capture step.
var ErrCaptureFailed = errors.New("capture failed")

// Capturer produces one image file and returns its path. The caller owns
// the file and removes it once the payload has been queued.
type Capturer interface {
	Capture(ctx context.Context) (string, error)
}

// EnvironmentReader returns the current sensor readings. Any field may be
// absent.
type EnvironmentReader interface {
	ReadEnvironment(ctx context.Context) (metadata.Environment, error)
}

// PositionReader returns the device position, or nil when unknown.
type PositionReader interface {
	ReadPosition(ctx context.Context) (*metadata.Position, error)
}

// ExecCapturer runs an external still-capture command such as rpicam-still.
type ExecCapturer struct {
	Command    string
	Args       []string
	OutputFlag string
	ScratchDir string
	Timeout    time.Duration
}

// DefaultArgs are the rpicam-still flags: no preview window and
// continuous autofocus.
var DefaultArgs = []string{"-n", "--autofocus-mode", "continuous"}

// NewExecCapturer returns a capturer writing into scratchDir.
func NewExecCapturer(command string, args []string, scratchDir string) *ExecCapturer {
	return &ExecCapturer{
		Command:    command,
		Args:       args,
		OutputFlag: "-o",
		ScratchDir: scratchDir,
		Timeout:    60 * time.Second,
	}
}

// Capture runs the command with "<OutputFlag> <path>" appended to its
// arguments and returns path once the command succeeded and left a
// non-empty file there.
func (c *ExecCapturer) Capture(ctx context.Context) (string, error) {
	if err := os.MkdirAll(c.ScratchDir, 0755); err != nil {
		return "", fmt.Errorf("%w: scratch directory: %v", ErrCaptureFailed, err)
	}
	out, err := os.CreateTemp(c.ScratchDir, "capture-*.jpg")
	if err != nil {
		return "", fmt.Errorf("%w: scratch file: %v", ErrCaptureFailed, err)
	}
	path := out.Name()
	out.Close()

	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, c.Command, c.args(path)...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		os.Remove(path)
		msg := strings.TrimSpace(stderr.String())
		if msg != "" {
			return "", fmt.Errorf("%w: %s: %v: %s", ErrCaptureFailed, filepath.Base(c.Command), err, msg)
		}
		return "", fmt.Errorf("%w: %s: %v", ErrCaptureFailed, filepath.Base(c.Command), err)
	}

	info, err := os.Stat(path)
	if err != nil || info.Size() == 0 {
		os.Remove(path)
		return "", fmt.Errorf("%w: %s produced no image", ErrCaptureFailed, filepath.Base(c.Command))
	}
	return path, nil
}

func (c *ExecCapturer) args(path string) []string {
	flag := c.OutputFlag
	if flag == "" {
		flag = "-o"
	}
	args := make([]string, 0, len(c.Args)+2)
	args = append(args, c.Args...)
	return append(args, flag, path)
}

// NoEnvironment reports no readings. It is used when the device has no
// sensors attached.
type NoEnvironment struct{}

func (NoEnvironment) ReadEnvironment(context.Context) (metadata.Environment, error) {
	return metadata.Environment{}, nil
}

// CommandEnvironment runs a sensor helper that prints one JSON object
// such as {"temperature":21.5,"pressure":1013.2,"humidity":40}. Missing
// or null keys stay absent.
type CommandEnvironment struct {
	Command string
	Args    []string
	Timeout time.Duration
}

func (e CommandEnvironment) ReadEnvironment(ctx context.Context) (metadata.Environment, error) {
	if e.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.Timeout)
		defer cancel()
	}

	out, err := exec.CommandContext(ctx, e.Command, e.Args...).Output()
	if err != nil {
		return metadata.Environment{}, fmt.Errorf("run %s: %w", filepath.Base(e.Command), err)
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(bytes.TrimSpace(out), &fields); err != nil {
		return metadata.Environment{}, fmt.Errorf("parse %s output: %w", filepath.Base(e.Command), err)
	}
	return metadata.Environment{
		Temperature: reading(fields["temperature"]),
		Pressure:    reading(fields["pressure"]),
		Humidity:    reading(fields["humidity"]),
	}, nil
}

// reading decodes one sensor value. Anything that is not a JSON number
// leaves that reading absent without affecting the others.
func reading(raw json.RawMessage) *float64 {
	if len(raw) == 0 {
		return nil
	}
	var v *float64
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil
	}
	return v
}

// StaticPosition is a fixed installation position.
type StaticPosition struct {
	Position *metadata.Position
}

func (p StaticPosition) ReadPosition(context.Context) (*metadata.Position, error) {
	if p.Position == nil {
		return nil, nil
	}
	pos := *p.Position
	return &pos, nil
}
