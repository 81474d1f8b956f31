// Package organize hands completed downloads to an external library
// importer, for example beets or a custom move script.
package organize

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/crateseek/crateseek/internal/constants"
	"github.com/crateseek/crateseek/internal/logger"
)

// Runner invokes the configured organize command for one completed
// download. An empty command disables the hook.
type Runner struct {
	command string
	args    []string
	timeout time.Duration
	log     *logger.Logger
}

func NewRunner(command string, args []string, timeout time.Duration, log *logger.Logger) *Runner {
	if timeout <= 0 {
		timeout = constants.DefaultOrganizeTimeout
	}
	return &Runner{
		command: command,
		args:    args,
		timeout: timeout,
		log:     log.WithComponent("organize"),
	}
}

func (r *Runner) Enabled() bool {
	return r.command != ""
}

// Run substitutes {path} into the argument list and executes the
// command, killing it at the timeout. When no argument carries the
// placeholder the path is appended.
func (r *Runner) Run(ctx context.Context, path string) error {
	if !r.Enabled() {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	args := make([]string, 0, len(r.args)+1)
	replaced := false
	for _, a := range r.args {
		if strings.Contains(a, "{path}") {
			replaced = true
		}
		args = append(args, strings.ReplaceAll(a, "{path}", path))
	}
	if !replaced {
		args = append(args, path)
	}

	r.log.Debug("running organize command", "command", r.command, "path", path)
	out, err := exec.CommandContext(ctx, r.command, args...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("organize command failed: %w: %s", err, truncate(string(out), 512))
	}
	r.log.Debug("organize command finished", "path", path, "output_bytes", len(out))
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
