package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/aixgo-dev/agency/internal/observability"
	metrics "github.com/aixgo-dev/agency/pkg/observability"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Dispatch outcomes, used as metric labels.
const (
	outcomeInvoked = "invoked"
	outcomeUnknown = "unknown_action"
	outcomeDenied  = "denied"
	outcomeFailed  = "failed"
)

func (c *Channel) dispatch(ctx context.Context, env *Envelope) {
	ctx, span := observability.StartSpanWithOtel(ctx, "channel.dispatch",
		trace.WithAttributes(
			attribute.String("channel.id", c.id),
			attribute.String("envelope.id", env.Meta.ID),
			attribute.String("envelope.action", env.Action),
			attribute.String("envelope.from", env.From),
		),
	)
	defer span.End()

	start := time.Now()
	c.log.Append(env)
	if c.observer != nil {
		c.observer.Observe(env)
	}

	outcome, err := c.process(ctx, env)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.reject(ctx, env, err)
	}
	span.SetAttributes(attribute.String("dispatch.outcome", outcome))
	metrics.RecordDispatch(c.id, c.metricAction(env.Action), outcome, time.Since(start))
}

// metricAction bounds the action label to the channel's own table so peers
// cannot grow the metric with arbitrary action names.
func (c *Channel) metricAction(name string) string {
	if _, ok := c.actions.Lookup(name); ok {
		return name
	}
	return metrics.UnknownAction
}

func (c *Channel) process(ctx context.Context, env *Envelope) (string, error) {
	action, ok := c.actions.Lookup(env.Action)
	if !ok && c.catchall != nil {
		action, ok = Action{Name: env.Action, Policy: Permitted, Handler: c.catchall}, true
	}
	if !ok {
		return outcomeUnknown, &DispatchError{
			Code:       CodeUnknownAction,
			EnvelopeID: env.Meta.ID,
			Action:     env.Action,
			Err:        fmt.Errorf("%w: %s", ErrUnknownAction, env.Action),
		}
	}

	if err := c.authorize(ctx, env, action); err != nil {
		return outcomeDenied, err
	}

	result, err := c.invoke(ctx, env, action)
	if err != nil {
		return outcomeFailed, err
	}
	if result != nil && env.From != "" && env.Action != ActionReturn && env.Action != ActionError {
		reply := env.Reply(ActionReturn, map[string]any{
			"original_message_id": env.Meta.ID,
			"value":               result,
		})
		if err := c.Send(ctx, reply); err != nil {
			c.logger.Warn("could not return result", "to", env.From, "action", env.Action, "error", err)
		}
	}
	return outcomeInvoked, nil
}

func (c *Channel) authorize(ctx context.Context, env *Envelope, action Action) error {
	deny := func(reason string) error {
		return &DispatchError{
			Code:       CodePermissionDenied,
			EnvelopeID: env.Meta.ID,
			Action:     env.Action,
			Err:        fmt.Errorf("%w: %s", ErrPermissionDenied, reason),
		}
	}

	switch action.Policy {
	case Permitted:
		return nil
	case Denied:
		return deny(fmt.Sprintf("%s is not permitted", action.Name))
	case Conditional:
		ok, err := c.gate.allow(ctx, env.From, action.Name)
		if err != nil {
			c.logger.Warn("grant request failed", "sender", env.From, "action", action.Name, "error", err)
		}
		if !ok {
			return deny(fmt.Sprintf("%s was not granted to %s", action.Name, env.From))
		}
		return nil
	default:
		return deny(fmt.Sprintf("%s has unknown policy %s", action.Name, action.Policy))
	}
}

// invoke runs the handler. Errors and panics are converted to handler
// failures so that one bad action never stops the dispatch loop.
func (c *Channel) invoke(ctx context.Context, env *Envelope, action Action) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("handler panicked", "action", action.Name, "panic", r)
			result = nil
			err = &DispatchError{
				Code:       CodeHandlerFailure,
				EnvelopeID: env.Meta.ID,
				Action:     env.Action,
				Err:        fmt.Errorf("%w: panic: %v", ErrHandlerFailure, r),
			}
		}
	}()

	result, err = action.Handler(ctx, &Request{Envelope: env, ch: c})
	if err != nil {
		return nil, &DispatchError{
			Code:       CodeHandlerFailure,
			EnvelopeID: env.Meta.ID,
			Action:     env.Action,
			Err:        fmt.Errorf("%w: %w", ErrHandlerFailure, err),
		}
	}
	return result, nil
}

// reject answers env with an error envelope. Error envelopes themselves are
// never answered, and a sender that cannot be reached is only logged.
func (c *Channel) reject(ctx context.Context, env *Envelope, err error) {
	c.logger.Warn("envelope rejected",
		"id", env.Meta.ID,
		"from", env.From,
		"action", env.Action,
		"code", ErrorCode(err),
		"error", err,
	)
	if env.Action == ActionError || env.From == "" {
		return
	}
	reply := env.Reply(ActionError, errorArgs(env, err))
	if serr := c.Send(ctx, reply); serr != nil {
		c.logger.Warn("could not deliver error reply", "to", env.From, "error", serr)
	}
}

func errorArgs(env *Envelope, err error) map[string]any {
	return map[string]any{
		"code":                ErrorCode(err),
		"error":               err.Error(),
		"original_message_id": env.Meta.ID,
		"original_action":     env.Action,
	}
}
