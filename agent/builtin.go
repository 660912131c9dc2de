package agent

import (
	"context"
	"encoding/json"
)

// Reserved action names handled by every channel unless overridden.
const (
	// ActionDiscover asks a channel to announce itself. It is normally
	// broadcast to every live channel.
	ActionDiscover = "discover"

	// ActionAnnounce answers a discovery request with the responder's id and
	// supported actions.
	ActionAnnounce = "announce"

	// ActionReturn carries a handler's return value back to the requester.
	ActionReturn = "return"

	// ActionError carries a rejection or failure back to the requester.
	ActionError = "error"
)

func (c *Channel) builtins() []Action {
	return []Action{
		{
			Name:    ActionDiscover,
			Help:    "Announce this channel's id and actions to the requester.",
			Policy:  Permitted,
			Handler: c.handleDiscover,
		},
		{
			Name:    ActionAnnounce,
			Help:    "Record a peer's announced actions.",
			Policy:  Permitted,
			Handler: c.handleAnnounce,
		},
		{
			Name:    ActionReturn,
			Help:    "Receive the return value of a previously sent action.",
			Policy:  Permitted,
			Handler: c.handleReturn,
		},
		{
			Name:    ActionError,
			Help:    "Receive an error caused by a previously sent action.",
			Policy:  Permitted,
			Handler: c.handleError,
		},
	}
}

func (c *Channel) handleDiscover(ctx context.Context, req *Request) (any, error) {
	return nil, req.Reply(ctx, ActionAnnounce, map[string]any{
		"id":      c.id,
		"actions": c.actions.Infos(),
	})
}

func (c *Channel) handleAnnounce(_ context.Context, req *Request) (any, error) {
	id := req.OptionalString("id", req.Sender())

	// Actions arrive as []ActionInfo in process and as decoded JSON from a
	// broker; normalize through JSON.
	var infos []ActionInfo
	if raw, ok := req.Envelope.Args["actions"]; ok && raw != nil {
		data, err := json.Marshal(raw)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(data, &infos); err != nil {
			return nil, err
		}
	}

	c.peersMu.Lock()
	c.peers[id] = infos
	c.peersMu.Unlock()
	c.logger.Debug("peer announced", "peer", id, "actions", len(infos))
	return nil, nil
}

func (c *Channel) handleReturn(_ context.Context, req *Request) (any, error) {
	c.logger.Debug("return value received",
		"from", req.Sender(),
		"original_message_id", req.OptionalString("original_message_id", ""),
	)
	return nil, nil
}

func (c *Channel) handleError(_ context.Context, req *Request) (any, error) {
	c.logger.Warn("error reply received",
		"from", req.Sender(),
		"code", req.OptionalString("code", ""),
		"error", req.OptionalString("error", ""),
		"original_action", req.OptionalString("original_action", ""),
	)
	return nil, nil
}
