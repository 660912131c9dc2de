// Package agent provides the messaging core for building cooperating agents.
//
// Agents exchange structured action messages (Envelopes) through a Space,
// regardless of which transport carries the bytes. Each agent runs as a
// Channel: an actor with a mailbox, an immutable registry of callable
// actions and an append-only message log.
//
// # Declaring Actions
//
// A concrete agent declares its capability set by implementing Behavior:
//
//	type Greeter struct{}
//
//	func (g *Greeter) Actions() []agent.Action {
//	    return []agent.Action{{
//	        Name:    "greet",
//	        Help:    "Say hello to the sender.",
//	        Policy:  agent.Permitted,
//	        Handler: g.greet,
//	    }}
//	}
//
//	func (g *Greeter) greet(ctx context.Context, req *agent.Request) (any, error) {
//	    return nil, req.Reply(ctx, "say", map[string]any{"content": "hello " + req.Sender()})
//	}
//
// # Running a Channel
//
//	ch, err := agent.New("Greeter", sp, &Greeter{}, agent.WithGranter(granter))
//	if err != nil {
//	    return err
//	}
//	if err := ch.Join(ctx); err != nil {
//	    return err
//	}
//	go ch.Run(ctx)
//
// # Access Control
//
// Every action carries an AccessPolicy. Permitted actions are always invoked,
// Denied actions are always answered with an error envelope, and Conditional
// actions consult the channel's Granter the first time a sender invokes them.
// Approvals are cached for the lifetime of the channel; refusals are not.
//
// # Errors
//
// Rejections and handler failures never stop a channel. They are answered
// with an "error" envelope whose "code" argument is one of the Code*
// constants.
package agent
