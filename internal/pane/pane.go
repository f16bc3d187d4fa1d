// Package pane implements the Pane I/O Adapter (C1): a thin, rate-limited
// wrapper over the terminal multiplexer CLI. It is the only component
// that shells out to tmux; everything above it talks in named targets.
package pane

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os/exec"
	"strings"
	"sync"
	"time"
)

// Kind distinguishes the three failure modes callers must be able to
// tell apart (§4.1); retries on any of them are the caller's decision.
type Kind int

const (
	KindNotFound Kind = iota
	KindTimeout
	KindIOError
)

// Error wraps a pane operation failure with its Kind.
type Error struct {
	Kind   Kind
	Target string
	Op     string
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("pane %s %s: %v", e.Op, e.Target, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Session describes one multiplexer session as reported by listSessions.
type Session struct {
	Name    string
	Windows int
	Attached bool
}

// Adapter is a thread-safe, rate-limited tmux CLI wrapper. Grounded in
// the teacher's internal/wezterm.Ops: a package-level singleton guarding
// a minimum inter-operation interval to avoid overwhelming the
// multiplexer under rapid-fire sends, generalized from WezTerm's CLI to
// tmux's.
type Adapter struct {
	mu             sync.Mutex
	lastOp         time.Time
	minOpInterval  time.Duration
	commandTimeout time.Duration
	binary         string
}

var (
	instance     *Adapter
	instanceOnce sync.Once
)

// Get returns the process-wide Adapter singleton, explicitly constructed
// once at first use (per §5's "singletons are explicitly constructed at
// bootstrap" policy, the bootstrap container calls Get() exactly once).
func Get() *Adapter {
	instanceOnce.Do(func() {
		instance = &Adapter{
			minOpInterval:  200 * time.Millisecond,
			commandTimeout: 5 * time.Second,
			binary:         "tmux",
		}
	})
	return instance
}

func (a *Adapter) waitForInterval() {
	elapsed := time.Since(a.lastOp)
	if elapsed < a.minOpInterval {
		time.Sleep(a.minOpInterval - elapsed)
	}
	a.lastOp = time.Now()
}

func (a *Adapter) run(ctx context.Context, op, target string, args ...string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, a.commandTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, a.binary, args...)
	output, err := cmd.CombinedOutput()

	if ctx.Err() == context.DeadlineExceeded {
		return output, &Error{Kind: KindTimeout, Target: target, Op: op, Err: fmt.Errorf("timed out after %v", a.commandTimeout)}
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && looksLikeNotFound(string(output)) {
			return output, &Error{Kind: KindNotFound, Target: target, Op: op, Err: err}
		}
		return output, &Error{Kind: KindIOError, Target: target, Op: op, Err: fmt.Errorf("%w (output: %s)", err, strings.TrimSpace(string(output)))}
	}
	return output, nil
}

func looksLikeNotFound(output string) bool {
	lower := strings.ToLower(output)
	return strings.Contains(lower, "can't find") ||
		strings.Contains(lower, "no such") ||
		strings.Contains(lower, "session not found") ||
		strings.Contains(lower, "pane not found")
}

// ListSessions returns every active tmux session.
func (a *Adapter) ListSessions(ctx context.Context) ([]Session, error) {
	output, err := a.run(ctx, "list-sessions", "", "list-sessions", "-F", "#{session_name}:#{session_windows}:#{session_attached}")
	if err != nil {
		var pe *Error
		if errors.As(err, &pe) && pe.Kind == KindIOError && strings.Contains(strings.ToLower(string(output)), "no server running") {
			return nil, nil
		}
		return nil, err
	}

	var sessions []Session
	for _, line := range strings.Split(strings.TrimSpace(string(output)), "\n") {
		if line == "" {
			continue
		}
		parts := strings.SplitN(line, ":", 3)
		if len(parts) != 3 {
			continue
		}
		var windows int
		fmt.Sscanf(parts[1], "%d", &windows)
		sessions = append(sessions, Session{
			Name:     parts[0],
			Windows:  windows,
			Attached: parts[2] == "1",
		})
	}
	return sessions, nil
}

// PaneExists checks whether the named target resolves to a live pane.
func (a *Adapter) PaneExists(ctx context.Context, target string) (bool, error) {
	_, err := a.run(ctx, "list-panes", target, "list-panes", "-t", target)
	if err == nil {
		return true, nil
	}
	var pe *Error
	if errors.As(err, &pe) && pe.Kind == KindNotFound {
		return false, nil
	}
	return false, err
}

// Capture reads the last n lines currently displayed in target.
func (a *Adapter) Capture(ctx context.Context, target string, lines int) (string, error) {
	if lines <= 0 {
		lines = 100
	}
	output, err := a.run(ctx, "capture-pane", target, "capture-pane", "-t", target, "-p", "-S", fmt.Sprintf("-%d", lines))
	if err != nil {
		return "", err
	}
	return string(output), nil
}

// Send dispatches an ordered list of key tokens to target. Each token is
// sent as its own tmux send-keys invocation: the host multiplexer's
// convention (mirrored from the teacher's one-send-per-token rule for
// WezTerm) is that literal text and special keys like Escape/Enter must
// not be batched into one call or they can be dropped or misinterpreted.
func (a *Adapter) Send(ctx context.Context, target string, keys []string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	for _, key := range keys {
		a.waitForInterval()

		args := []string{"send-keys", "-t", target}
		if special, ok := specialKey(key); ok {
			args = append(args, special)
		} else {
			args = append(args, key)
		}

		if _, err := a.run(ctx, "send-keys", target, args...); err != nil {
			return err
		}
	}
	return nil
}

// specialKey maps a token name to its tmux key-name form.
func specialKey(token string) (string, bool) {
	switch token {
	case "Escape":
		return "Escape", true
	case "Enter":
		return "Enter", true
	case "Ctrl+C":
		return "C-c", true
	default:
		return "", false
	}
}

// SendLiteral is a convenience for the common "type this, press enter"
// sequence used by the dispatcher and cleanup protocols.
func (a *Adapter) SendLiteral(ctx context.Context, target, text string, pressEnter bool) error {
	keys := []string{text}
	if pressEnter {
		keys = append(keys, "Enter")
	}
	return a.Send(ctx, target, keys)
}

// NewSession creates a detached tmux session with the given name.
func (a *Adapter) NewSession(ctx context.Context, name string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.waitForInterval()

	_, err := a.run(ctx, "new-session", name, "new-session", "-d", "-s", name)
	if err != nil {
		log.Printf("[PANE] failed to create session %s: %v", name, err)
	}
	return err
}

// KillServer tears down the entire tmux server (used by session reset).
func (a *Adapter) KillServer(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	_, err := a.run(ctx, "kill-server", "", "kill-server")
	if err != nil {
		var pe *Error
		if errors.As(err, &pe) && pe.Kind == KindIOError && strings.Contains(strings.ToLower(err.Error()), "no server running") {
			return nil
		}
	}
	return err
}
