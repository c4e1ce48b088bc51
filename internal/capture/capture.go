// Package capture reads single frames from the camera device and
// enforces the exclusive-device discipline: whoever talks to the camera
// holds a non-blocking flock for the duration.
package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

var (
	// ErrCameraUnavailable means the device is missing or the grabber
	// could not produce a frame.
	ErrCameraUnavailable = errors.New("camera unavailable")
	// ErrCameraBusy means another session currently holds the device lock.
	ErrCameraBusy = errors.New("camera busy")
)

// Source produces a single frame per call. A frame is ephemeral: it lives
// only for the duration of one decision attempt and is never persisted.
type Source interface {
	Grab(ctx context.Context) ([]byte, error)
}

// Grabber captures one JPEG frame by running an external grabber command
// (ffmpeg by default). The camera driver stays outside this process; the
// command is the configurable seam. The template is split on whitespace
// without shell quoting, so individual arguments must not contain spaces.
type Grabber struct {
	device  string
	command string // template; {device} is substituted
}

// NewGrabber creates a frame source for the given device.
func NewGrabber(device, command string) *Grabber {
	return &Grabber{device: device, command: command}
}

// Grab runs the grabber command under ctx and returns the captured frame.
// A cancelled or expired context kills the grabber process, so an attempt
// timeout can never leave a capture running.
func (g *Grabber) Grab(ctx context.Context) ([]byte, error) {
	if _, err := os.Stat(g.device); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCameraUnavailable, g.device, err)
	}

	cmdline := strings.ReplaceAll(g.command, "{device}", g.device)
	parts := strings.Fields(cmdline)
	if len(parts) == 0 {
		return nil, fmt.Errorf("%w: empty capture command", ErrCameraUnavailable)
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, parts[0], parts[1:]...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrCameraUnavailable, strings.TrimSpace(stderr.String()), err)
	}

	frame := stdout.Bytes()
	if len(frame) == 0 {
		return nil, fmt.Errorf("%w: grabber produced no frame", ErrCameraUnavailable)
	}
	return frame, nil
}
