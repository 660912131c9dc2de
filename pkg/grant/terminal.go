package grant

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/peterh/liner"
)

// Prompter reads one line of input after showing a prompt.
type Prompter interface {
	Prompt(prompt string) (string, error)
}

// Console is a line editor on the process terminal. Only one prompt is shown
// at a time.
type Console struct {
	mu    sync.Mutex
	state *liner.State
}

// NewConsole takes over the terminal. Close must be called to restore it.
func NewConsole() *Console {
	state := liner.NewLiner()
	state.SetCtrlCAborts(true)
	return &Console{state: state}
}

// Prompt shows prompt and returns the entered line. Non-empty lines are kept
// in the history.
func (c *Console) Prompt(prompt string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	line, err := c.state.Prompt(prompt)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(line) != "" {
		c.state.AppendHistory(line)
	}
	return line, nil
}

// Close restores the terminal.
func (c *Console) Close() error {
	return c.state.Close()
}

// Terminal asks a human to approve each grant request.
type Terminal struct {
	channel  string
	prompter Prompter
	mu       sync.Mutex
}

// NewTerminal returns a granter prompting on p for requests received by
// channel.
func NewTerminal(channel string, p Prompter) *Terminal {
	return &Terminal{channel: channel, prompter: p}
}

type answer struct {
	line string
	err  error
}

// RequestGrant implements agent.Granter. Aborting the prompt (Ctrl-C) counts
// as a refusal; a closed terminal is an error.
func (t *Terminal) RequestGrant(ctx context.Context, sender, action string) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	prompt := fmt.Sprintf("[%s] allow %s to invoke %q? [y/N] ", t.channel, sender, action)
	done := make(chan answer, 1)
	go func() {
		line, err := t.prompter.Prompt(prompt)
		done <- answer{line: line, err: err}
	}()

	select {
	case <-ctx.Done():
		return false, ctx.Err()
	case a := <-done:
		if errors.Is(a.err, liner.ErrPromptAborted) {
			return false, nil
		}
		if a.err != nil {
			return false, fmt.Errorf("grant prompt: %w", a.err)
		}
		switch strings.ToLower(strings.TrimSpace(a.line)) {
		case "y", "yes":
			return true, nil
		default:
			return false, nil
		}
	}
}
