// Package mediatool provides the shared contract for wrapping an external
// command-line media tool (ffmpeg) behind a context-aware, timeout-bounded
// call: build args, run, capture stderr for error messages, distinguish
// "binary not found" from "binary failed" from "timed out".
//
// internal/engine/ffmpeg is the only package that uses this directly; it
// lives one level up so any future adapter needing the same exec-with-
// timeout-and-stderr-capture shape (e.g. a different media tool) can reuse
// it without depending on the ffmpeg package itself.
package mediatool

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"
)

// ErrBinaryNotFound is returned when the configured binary is not on PATH.
var ErrBinaryNotFound = errors.New("mediatool: binary not found")

// ErrTimeout is returned when the command exceeds its timeout.
var ErrTimeout = errors.New("mediatool: command timed out")

// Run executes binPath with args, bounded by timeout, and returns a wrapped
// error distinguishing not-found, timeout, and generic failure (with
// captured stderr) cases.
func Run(ctx context.Context, binPath string, timeout time.Duration, args ...string) error {
	runCtx := ctx
	var cancel context.CancelFunc
	if timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, binPath, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if runCtx.Err() == context.DeadlineExceeded {
			return ErrTimeout
		}
		var execErr *exec.Error
		if errors.As(err, &execErr) && errors.Is(execErr.Err, exec.ErrNotFound) {
			return ErrBinaryNotFound
		}
		return fmt.Errorf("mediatool: %s failed: %w, stderr: %s", binPath, err, stderr.String())
	}
	return nil
}

// CheckAvailable runs binPath with a single "probe" argument (e.g.
// "-version") to confirm it exists and is executable, with a short timeout.
func CheckAvailable(ctx context.Context, binPath, probeArg string, timeout time.Duration) error {
	return Run(ctx, binPath, timeout, probeArg)
}
