package ratelimit

import "support-chat-agent/internal/config"

// Retry hints surfaced to throttled clients.
const (
	msgGeneral      = "Too many requests, please try again later."
	msgDaily        = "Daily message limit reached, please try again tomorrow."
	msgChat         = "Too many messages, please try again in a few minutes."
	msgConversation = "Too many messages in this conversation, please slow down."
)

// Gate layers the four admission-control limiters in their fixed evaluation
// order: general, daily per origin, short-window per origin, short-window
// per conversation. All applicable layers must pass.
type Gate struct {
	general      *Limiter
	daily        *Limiter
	chat         *Limiter
	conversation *Limiter

	refundGeneralOnSuccess bool
}

// Request describes one inbound request for admission purposes.
type Request struct {
	// Origin identifies the caller, typically the source IP.
	Origin string
	// ConversationKey is the client-supplied session identity, if any. When
	// empty the conversation layer falls back to Origin, so spawning fresh
	// conversations cannot bypass it.
	ConversationKey string
	// Chat marks requests under the chat surface (send and history fetch).
	Chat bool
	// Send marks chat-sending requests; the conversation layer is skipped
	// for read-only history fetches.
	Send bool
}

func NewGate(cfg config.RateLimits) *Gate {
	return &Gate{
		general:                NewLimiter(cfg.General(), msgGeneral),
		daily:                  NewLimiter(cfg.Daily(), msgDaily),
		chat:                   NewLimiter(cfg.Chat(), msgChat),
		conversation:           NewLimiter(cfg.Conversation(), msgConversation),
		refundGeneralOnSuccess: cfg.GeneralSkipSuccessful,
	}
}

// Admit evaluates every applicable layer in order and returns the first
// rejection, if any. Layers passed before a rejection keep their charge.
func (g *Gate) Admit(r Request) Decision {
	if d := g.general.Allow(r.Origin); !d.Allowed {
		return d
	}
	if !r.Chat {
		return Decision{Allowed: true}
	}
	if d := g.daily.Allow(r.Origin); !d.Allowed {
		return d
	}
	if d := g.chat.Allow(r.Origin); !d.Allowed {
		return d
	}
	if !r.Send {
		return Decision{Allowed: true}
	}
	key := r.ConversationKey
	if key == "" {
		key = r.Origin
	}
	return g.conversation.Allow(key)
}

// Completed reports the request outcome back to the gate. When configured to
// skip successful requests, the general layer's charge is returned for
// responses below 400.
func (g *Gate) Completed(r Request, status int) {
	if g.refundGeneralOnSuccess && status < 400 {
		g.general.Refund(r.Origin)
	}
}
