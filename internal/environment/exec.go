package environment

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"

	"git.home.luguber.info/inful/polybuild/internal/logfields"
)

// execute runs argv in dir with the given environment and captures output.
// A non-zero exit is reported through RunResult, not as an error; errors are
// reserved for failures to run the process at all (missing tool, bad dir,
// cancellation).
func execute(ctx context.Context, dir string, env []string, args []string) (*RunResult, error) {
	if len(args) == 0 {
		return nil, errors.New("empty command")
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Dir = dir
	cmd.Env = env
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	slog.Debug("Running command", logfields.Command(strings.Join(args, " ")), logfields.Path(dir))
	err := cmd.Run()
	result := &RunResult{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}

	var exitErr *exec.ExitError
	switch {
	case err == nil:
		result.ExitCode = 0
	case errors.As(err, &exitErr):
		result.ExitCode = exitErr.ExitCode()
	default:
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("command %s: %w", args[0], ctxErr)
		}
		return nil, fmt.Errorf("run command %s: %w", args[0], err)
	}
	return result, nil
}

// environMap returns the parent process environment as a map.
func environMap() map[string]string {
	env := make(map[string]string)
	for _, kv := range os.Environ() {
		if i := strings.IndexByte(kv, '='); i > 0 {
			env[kv[:i]] = kv[i+1:]
		}
	}
	return env
}

// flattenEnv converts an environment map back to KEY=VALUE form.
func flattenEnv(env map[string]string) []string {
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	return out
}
