package session

import (
	"context"
	"math/rand/v2"
)

// Responder produces the bot reply to a user message.
type Responder interface {
	Respond(ctx context.Context, userMessage string) string
}

// CannedReplies are the stock answers of CannedResponder.
var CannedReplies = []string{
	"That's interesting! Tell me more.",
	"I understand. How can I help you with that?",
	"Thanks for sharing that information.",
	"I'm here to help. What would you like to know?",
	"That's a great question. Let me think about that.",
}

// CannedResponder answers with a uniformly random canned reply.
type CannedResponder struct{}

// Respond picks one of CannedReplies and ignores the user message.
func (CannedResponder) Respond(context.Context, string) string {
	return CannedReplies[rand.IntN(len(CannedReplies))]
}

// ResponderFunc adapts a function to Responder.
type ResponderFunc func(ctx context.Context, userMessage string) string

// Respond calls f.
func (f ResponderFunc) Respond(ctx context.Context, userMessage string) string {
	return f(ctx, userMessage)
}
