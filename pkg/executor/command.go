// Package executor invokes the external scan and remediation tools.
//
// Both tools are plain binaries run with exec.CommandContext. The caller's
// context carries the per-host deadline; a killed or failing process is
// reported as a PerHostExecution error for that host only.
package executor

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"slices"
	"strings"

	sgerrors "github.com/exploopio/streamguard/pkg/errors"
	"github.com/exploopio/streamguard/pkg/logger"
)

// maxStderr bounds the stderr text kept for error messages.
const maxStderr = 4096

// command runs one binary with a fixed set of accepted exit codes.
type command struct {
	binary      string
	okExitCodes []int
	log         logger.Logger
}

// run executes the command. When onLine is non-nil every stdout line is
// passed to it as it arrives; otherwise stdout is discarded.
func (c *command) run(ctx context.Context, op string, args []string, env map[string]string, onLine func(string)) error {
	c.log.Debug("running: %s %s", c.binary, strings.Join(args, " "))

	cmd := exec.CommandContext(ctx, c.binary, args...)
	cmd.Env = os.Environ()
	for k, v := range env {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
	}

	var stderr bytes.Buffer
	cmd.Stderr = &limitedWriter{buf: &stderr, max: maxStderr}

	var stdout io.ReadCloser
	if onLine != nil {
		pipe, err := cmd.StdoutPipe()
		if err != nil {
			return sgerrors.E(sgerrors.KindPerHostExecution, op, err)
		}
		stdout = pipe
	}

	if err := cmd.Start(); err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return sgerrors.E(sgerrors.KindPerHostExecution, op, fmt.Sprintf("%s not found", c.binary), err)
		}
		return sgerrors.E(sgerrors.KindPerHostExecution, op, "start "+c.binary, err)
	}

	if stdout != nil {
		scanner := bufio.NewScanner(stdout)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			onLine(scanner.Text())
		}
		// Drain whatever the scanner refused so the process can exit.
		io.Copy(io.Discard, stdout)
	}

	err := cmd.Wait()
	if ctxErr := ctx.Err(); ctxErr != nil {
		return sgerrors.E(sgerrors.KindPerHostExecution, op, fmt.Sprintf("%s aborted", c.binary), ctxErr)
	}

	exitCode := 0
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		exitCode = exitErr.ExitCode()
	} else if err != nil {
		return sgerrors.E(sgerrors.KindPerHostExecution, op, err)
	}

	if !slices.Contains(c.okExitCodes, exitCode) {
		msg := fmt.Sprintf("%s failed (exit %d)", c.binary, exitCode)
		if text := strings.TrimSpace(stderr.String()); text != "" {
			msg += ": " + text
		}
		return sgerrors.E(sgerrors.KindPerHostExecution, op, msg)
	}
	return nil
}

// limitedWriter keeps the first max bytes and discards the rest.
type limitedWriter struct {
	buf *bytes.Buffer
	max int
}

func (w *limitedWriter) Write(p []byte) (int, error) {
	if room := w.max - w.buf.Len(); room > 0 {
		if len(p) > room {
			w.buf.Write(p[:room])
		} else {
			w.buf.Write(p)
		}
	}
	return len(p), nil
}
