package agents

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/peterh/liner"

	"github.com/aixgo-dev/agency/agent"
	"github.com/aixgo-dev/agency/pkg/config"
)

func init() {
	Register(config.KindOperator, func(cfg config.ChannelConfig, deps Deps) (agent.Behavior, error) {
		if deps.Input == nil {
			return nil, errors.New("operator channel requires a terminal")
		}
		return NewOperator(deps.Input, deps.Output, cfg.Setting("peer", agent.Broadcast)), nil
	})
}

// LineReader reads one line of input after showing a prompt.
type LineReader interface {
	Prompt(prompt string) (string, error)
}

// Operator lets a human take part in a space from a terminal. Every inbound
// envelope is printed, and any action is accepted.
//
// Input lines are either commands:
//
//	@<to> <action> [json args]   send an envelope
//	/discover                    ask every channel to announce itself
//	/peers                       list the channels that announced themselves
//	/quit                        leave
//
// or plain text, which is said to the default peer.
type Operator struct {
	in   LineReader
	peer string

	mu  sync.Mutex
	out io.Writer
}

// NewOperator creates an operator reading from in and printing to out
// (os.Stdout when nil). Plain text goes to peer.
func NewOperator(in LineReader, out io.Writer, peer string) *Operator {
	if out == nil {
		out = os.Stdout
	}
	if peer == "" {
		peer = agent.Broadcast
	}
	return &Operator{in: in, out: out, peer: peer}
}

// Actions implements agent.Behavior. Operators declare nothing and accept
// everything.
func (o *Operator) Actions() []agent.Action { return nil }

// HandleUnknown implements agent.Catchall.
func (o *Operator) HandleUnknown(context.Context, *agent.Request) (any, error) {
	return nil, nil
}

// Observe implements agent.Observer.
func (o *Operator) Observe(env *agent.Envelope) {
	o.printf("%s\n", Format(env))
}

func (o *Operator) printf(format string, args ...any) {
	o.mu.Lock()
	defer o.mu.Unlock()
	fmt.Fprintf(o.out, format, args...)
}

// Format renders an inbound envelope for a human.
func Format(env *agent.Envelope) string {
	if content, ok := env.Args["content"].(string); ok && env.Action == "say" {
		return fmt.Sprintf("%s: %s", env.From, content)
	}
	switch env.Action {
	case agent.ActionReturn:
		return fmt.Sprintf("%s returned %s", env.From, compact(env.Args["value"]))
	case agent.ActionError:
		return fmt.Sprintf("%s error [%v]: %v", env.From, env.Args["code"], env.Args["error"])
	case agent.ActionAnnounce:
		return fmt.Sprintf("%s is here: %s", env.From, compact(env.Args["actions"]))
	}
	if len(env.Args) == 0 {
		return fmt.Sprintf("%s -> %s", env.From, env.Action)
	}
	return fmt.Sprintf("%s -> %s %s", env.From, env.Action, compact(env.Args))
}

func compact(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(data)
}

type line struct {
	text string
	err  error
}

// Drive implements Driver: it reads lines until the input ends, /quit is
// entered or ctx is done.
func (o *Operator) Drive(ctx context.Context, ch *agent.Channel) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	lines := make(chan line)
	go func() {
		for {
			text, err := o.in.Prompt(ch.ID() + "> ")
			select {
			case lines <- line{text: text, err: err}:
			case <-ctx.Done():
				return
			}
			if err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case l := <-lines:
			if l.err != nil {
				if errors.Is(l.err, io.EOF) || errors.Is(l.err, liner.ErrPromptAborted) {
					return nil
				}
				return fmt.Errorf("operator input: %w", l.err)
			}
			quit, err := o.handle(ctx, ch, l.text)
			if err != nil {
				o.printf("! %v\n", err)
			}
			if quit {
				return nil
			}
		}
	}
}

func (o *Operator) handle(ctx context.Context, ch *agent.Channel, text string) (quit bool, err error) {
	text = strings.TrimSpace(text)
	switch {
	case text == "":
		return false, nil
	case text == "/quit":
		return true, nil
	case text == "/discover":
		return false, ch.Discover(ctx)
	case text == "/peers":
		o.printPeers(ch)
		return false, nil
	case strings.HasPrefix(text, "/"):
		return false, fmt.Errorf("unknown command %s", text)
	}

	env, err := ParseLine(text, o.peer)
	if err != nil {
		return false, err
	}
	return false, ch.Send(ctx, env)
}

func (o *Operator) printPeers(ch *agent.Channel) {
	peers := ch.Peers()
	if len(peers) == 0 {
		o.printf("no peers yet, try /discover\n")
		return
	}
	ids := make([]string, 0, len(peers))
	for id := range peers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		names := make([]string, 0, len(peers[id]))
		for _, info := range peers[id] {
			names = append(names, info.Name)
		}
		o.printf("%s: %s\n", id, strings.Join(names, ", "))
	}
}

// ParseLine turns an input line into an envelope. "@<to> <action> [json]"
// addresses an action explicitly; anything else is said to peer.
func ParseLine(text, peer string) (*agent.Envelope, error) {
	if !strings.HasPrefix(text, "@") {
		return agent.NewEnvelope(peer, "say", map[string]any{"content": text}), nil
	}

	to, rest, _ := strings.Cut(text[1:], " ")
	action, rawArgs, _ := strings.Cut(strings.TrimSpace(rest), " ")
	if to == "" || action == "" {
		return nil, errors.New("usage: @<to> <action> [json args]")
	}

	var args map[string]any
	if rawArgs = strings.TrimSpace(rawArgs); rawArgs != "" {
		if err := json.Unmarshal([]byte(rawArgs), &args); err != nil {
			return nil, fmt.Errorf("args must be a JSON object: %w", err)
		}
	}
	return agent.NewEnvelope(to, action, args), nil
}
