package llm

import "context"

// Interface produces a reply for a user turn, carrying the conversation
// history across calls. Reset clears the history, e.g. when a conversation
// times out.
type Interface interface {
	Chat(ctx context.Context, userText string) (string, error)
	Reset()
}
