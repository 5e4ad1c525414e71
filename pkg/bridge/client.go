// Package bridge runs the adb command-line tool and hands its standard output
// back as text. It never parses what adb prints.
package bridge

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// DefaultPath is used when no adb path is configured; it is resolved on PATH.
const DefaultPath = "adb"

// ErrExecution matches every ExecutionError via errors.Is
var ErrExecution = errors.New("adb execution failed")

// ExecutionError reports that the tool could not be started or was killed
// before it finished (timeout or cancellation).
type ExecutionError struct {
	Path string
	Args []string
	Err  error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("failed to run %s %s: %v", e.Path, strings.Join(e.Args, " "), e.Err)
}

func (e *ExecutionError) Unwrap() []error {
	return []error{ErrExecution, e.Err}
}

// Options controls how the tool is launched
type Options struct {
	Path      string        // adb binary, name or absolute path
	Timeout   time.Duration // per call, 0 waits forever
	RateLimit float64       // calls per second, 0 disables limiting
	Burst     int
}

// DefaultOptions returns options with no timeout and no rate limit
func DefaultOptions() Options {
	return Options{
		Path:  DefaultPath,
		Burst: 1,
	}
}

// Client runs adb commands. It is safe for concurrent use.
type Client struct {
	mu      sync.RWMutex
	opts    Options
	limiter *rate.Limiter
	logger  zerolog.Logger
}

// New creates a client with the given options
func New(opts Options, logger zerolog.Logger) *Client {
	c := &Client{
		logger: logger.With().Str("module", "bridge").Logger(),
	}
	c.SetOptions(opts)
	return c
}

// SetOptions replaces the launch options. Calls already running keep the old ones.
func (c *Client) SetOptions(opts Options) {
	if opts.Path == "" {
		opts.Path = DefaultPath
	}
	if opts.Burst < 1 {
		opts.Burst = 1
	}

	var limiter *rate.Limiter
	if opts.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), opts.Burst)
	}

	c.mu.Lock()
	c.opts = opts
	c.limiter = limiter
	c.mu.Unlock()
}

// Options returns the current launch options
func (c *Client) Options() Options {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.opts
}

// Run launches adb with args, waits for it and returns its stdout.
// A non-zero exit status is not an error: adb reports most failures as text.
// Invalid UTF-8 in the output is replaced with U+FFFD.
func (c *Client) Run(ctx context.Context, args ...string) (string, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	c.mu.RLock()
	opts := c.opts
	limiter := c.limiter
	c.mu.RUnlock()

	if limiter != nil {
		if err := limiter.Wait(ctx); err != nil {
			return "", &ExecutionError{Path: opts.Path, Args: args, Err: err}
		}
	}

	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	cmd := newCommand(ctx, opts.Path, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	elapsed := time.Since(start)

	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			c.logger.Warn().Strs("args", args).Dur("elapsed", elapsed).Err(ctxErr).Msg("adb call interrupted")
			return "", &ExecutionError{Path: opts.Path, Args: args, Err: ctxErr}
		}
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			c.logger.Error().Str("path", opts.Path).Strs("args", args).Err(err).Msg("Failed to start adb")
			return "", &ExecutionError{Path: opts.Path, Args: args, Err: err}
		}
		c.logger.Debug().
			Strs("args", args).
			Int("exit_code", exitErr.ExitCode()).
			Str("stderr", strings.TrimSpace(stderr.String())).
			Msg("adb exited with non-zero status")
	}

	c.logger.Debug().
		Strs("args", args).
		Dur("elapsed", elapsed).
		Int("stdout_bytes", stdout.Len()).
		Msg("adb call finished")

	return strings.ToValidUTF8(stdout.String(), "\uFFFD"), nil
}

// proxyVars must not leak into adb: a proxied adb server cannot reach local devices
var proxyVars = []string{"HTTP_PROXY", "HTTPS_PROXY", "ALL_PROXY", "NO_PROXY", "http_proxy", "https_proxy", "all_proxy", "no_proxy"}

func newCommand(ctx context.Context, path string, args ...string) *exec.Cmd {
	cmd := exec.CommandContext(ctx, path, args...)
	// adb shell can leave a forked server holding the pipes after a kill
	cmd.WaitDelay = 2 * time.Second

	env := os.Environ()
	newEnv := make([]string, 0, len(env))
	for _, e := range env {
		isProxy := false
		for _, v := range proxyVars {
			if strings.HasPrefix(e, v+"=") {
				isProxy = true
				break
			}
		}
		if !isProxy {
			newEnv = append(newEnv, e)
		}
	}
	cmd.Env = newEnv
	return cmd
}
