package agent_test

import (
	"context"
	"fmt"

	"github.com/aixgo-dev/agency/agent"
	"github.com/aixgo-dev/agency/pkg/space"
)

func Example() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := space.NewLocalSpace()
	greeter, _ := agent.New("Greeter", s, agent.Actions{{
		Name: "greet",
		Help: "Say hello to someone.",
		Handler: func(_ context.Context, req *agent.Request) (any, error) {
			name, err := req.StringArg("name")
			if err != nil {
				return nil, err
			}
			return "Hello, " + name + "!", nil
		},
	}})

	answers := make(chan string, 1)
	caller, _ := agent.New("Caller", s, agent.Actions{{
		Name: agent.ActionReturn,
		Handler: func(_ context.Context, req *agent.Request) (any, error) {
			answers <- req.Envelope.Args["value"].(string)
			return nil, nil
		},
	}})

	for _, ch := range []*agent.Channel{greeter, caller} {
		_ = ch.Join(ctx)
		go func(ch *agent.Channel) { _ = ch.Run(ctx) }(ch)
	}

	_ = caller.Send(ctx, agent.NewEnvelope("Greeter", "greet", map[string]any{"name": "Ada"}))
	fmt.Println(<-answers)
	// Output: Hello, Ada!
}
