package rpc

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/airlock-project/airlock/internal/client"
	"github.com/airlock-project/airlock/internal/protocol"
)

// Verdict is the outcome of an authorization check.
type Verdict int

const (
	// Accept applies and relays the call.
	Accept Verdict = iota
	// Reject drops the call.
	Reject
	// Disconnect drops the call and removes the sender.
	Disconnect
)

func (v Verdict) String() string {
	switch v {
	case Accept:
		return "accept"
	case Reject:
		return "reject"
	case Disconnect:
		return "disconnect"
	default:
		return fmt.Sprintf("Verdict(%d)", int(v))
	}
}

// Decision is a verdict plus what to tell the sender and the lobby.
type Decision struct {
	Verdict Verdict
	Reason  protocol.DisconnectReason
	// Message is the localized disconnect text.
	Message string
	// Notice, when set, is announced to the lobby through the host.
	Notice string
	// Cause is the server-side explanation, never sent to the client.
	Cause string
}

// Accepted is the zero-cost accept decision.
var Accepted = Decision{Verdict: Accept}

// Rejected drops a call for the given cause.
func Rejected(cause string) Decision {
	return Decision{Verdict: Reject, Cause: cause}
}

// Disconnected removes the sender with a localized message.
func Disconnected(reason protocol.DisconnectReason, message, cause string) Decision {
	return Decision{Verdict: Disconnect, Reason: reason, Message: message, Cause: cause}
}

// Entity is the object a call targets.
type Entity interface {
	NetID() uint32
	OwnerID() int32
}

// Reporter is the cheat-reporting sink. Report returns true when the
// sender should be torn down.
type Reporter interface {
	Report(ctx context.Context, sender *client.Client, call Call, reason string) bool
}

// Rule is a custom check that runs before the ownership check. matched is
// false when the rule has no opinion.
type Rule interface {
	Name() string
	Check(ctx context.Context, sender *client.Client, target Entity, call Call) (d Decision, matched bool)
}

// Gate authorizes calls.
type Gate struct {
	reporter Reporter
	rules    []Rule
	logger   zerolog.Logger
}

// NewGate creates a gate. Rules run in order; the first match decides.
func NewGate(reporter Reporter, logger zerolog.Logger, rules ...Rule) *Gate {
	return &Gate{reporter: reporter, rules: rules, logger: logger}
}

// Authorize decides whether sender may perform call on target. target is
// nil for calls that do not address an object.
func (g *Gate) Authorize(ctx context.Context, sender *client.Client, target Entity, call Call) Decision {
	for _, rule := range g.rules {
		if d, ok := rule.Check(ctx, sender, target, call); ok {
			if d.Verdict != Accept {
				g.logger.Warn().
					Int32("client_id", sender.ID).
					Str("call", call.String()).
					Str("rule", rule.Name()).
					Str("verdict", d.Verdict.String()).
					Msg(d.Cause)
			}
			return d
		}
	}

	switch AuthorityOf(call) {
	case Anyone:
		return Accepted
	case OwnerOnly:
		if target == nil || target.OwnerID() != sender.ID {
			return g.Escalate(ctx, sender, call, "Failed ownership check")
		}
		return Accepted
	case HostOnly:
		if !sender.IsHost() {
			return g.Escalate(ctx, sender, call, "Failed host check")
		}
		return Accepted
	default:
		// Mod loaders register their own call ids. They may address their
		// own objects; anything else is dropped without a report.
		if sender.IsMod() {
			if target != nil && target.OwnerID() == sender.ID {
				return Accepted
			}
			return Rejected("Unknown mod call on foreign object")
		}
		return g.Escalate(ctx, sender, call, "Unknown call")
	}
}

// Escalate files a cheat report for a rejected call and turns the rejection
// into a disconnect once the reporter says so.
func (g *Gate) Escalate(ctx context.Context, sender *client.Client, call Call, cause string) Decision {
	g.logger.Debug().
		Int32("client_id", sender.ID).
		Str("call", call.String()).
		Msg(cause)

	if g.reporter != nil && g.reporter.Report(ctx, sender, call, cause) {
		return Disconnected(protocol.ReasonHacking, sender.Message(client.MsgCheating), cause)
	}
	return Rejected(cause)
}

// Validator is implemented by objects that check call arguments themselves.
type Validator interface {
	ValidateCall(ctx context.Context, sender *client.Client, call Call, r *protocol.MessageReader) (Decision, error)
}
