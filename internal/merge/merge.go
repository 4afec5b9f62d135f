// Package merge combines conversation contexts arriving from multiple
// upstream edges into one coherent context.
package merge

import (
	"github.com/nodecanvas-ai/canvas-engine/internal/model"
)

// Fold combines an accumulated context with one newly arrived context and
// returns the new accumulator. Neither input is mutated; callers may hold
// references to either across interleaved arrivals.
//
// An empty accumulator adopts the incoming context verbatim. Otherwise the
// result's messages are the accumulator's followed by the incoming ones, in
// arrival order. The first non-empty thread id wins: once the accumulator
// carries one, a different incoming id is ignored. That tie-break is defined
// behavior, not an error, since a node may receive thread-bound text from one
// upstream and threadless image context from another.
func Fold(acc, incoming model.ConversationContext) model.ConversationContext {
	if acc.Empty() {
		return incoming
	}

	out := model.ConversationContext{
		Messages: concat(acc.Messages, incoming.Messages),
		ThreadID: acc.ThreadID,
	}
	if out.ThreadID == "" {
		out.ThreadID = incoming.ThreadID
	}
	return out
}

// FoldAll left-folds a sequence of contexts in order.
func FoldAll(contexts ...model.ConversationContext) model.ConversationContext {
	var acc model.ConversationContext
	for _, c := range contexts {
		acc = Fold(acc, c)
	}
	return acc
}

func concat(a, b []model.Message) []model.Message {
	if len(a) == 0 && len(b) == 0 {
		return nil
	}
	out := make([]model.Message, 0, len(a)+len(b))
	out = append(out, a...)
	out = append(out, b...)
	return out
}
