package merge

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nodecanvas-ai/canvas-engine/internal/model"
)

func userMsg(text string) model.Message {
	return model.Message{Role: model.RoleUser, Content: model.TextContent(text)}
}

func texts(msgs []model.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.Content.PlainText()
	}
	return out
}

// TestFold_EmptyAccumulatorAdoptsIncoming verifies the first arrival is
// adopted verbatim.
func TestFold_EmptyAccumulatorAdoptsIncoming(t *testing.T) {
	incoming := model.ConversationContext{
		Messages: []model.Message{userMsg("a")},
		ThreadID: "t1",
	}

	got := Fold(model.ConversationContext{}, incoming)
	assert.Equal(t, incoming, got)
}

// TestFold_ConcatenatesInArrivalOrder verifies left-associative concatenation
// is never reordered: A then B then C yields A ++ B ++ C.
func TestFold_ConcatenatesInArrivalOrder(t *testing.T) {
	a := model.ConversationContext{Messages: []model.Message{userMsg("a1"), userMsg("a2")}}
	b := model.ConversationContext{Messages: []model.Message{userMsg("b1")}}
	c := model.ConversationContext{Messages: []model.Message{userMsg("c1")}}

	ab := Fold(a, b)
	assert.Equal(t, []string{"a1", "a2", "b1"}, texts(ab.Messages))

	abc := Fold(ab, c)
	assert.Equal(t, []string{"a1", "a2", "b1", "c1"}, texts(abc.Messages))
}

// TestFold_ThreadIDFirstWriterWins verifies an adopted thread id is kept when
// a later context carries a different one.
func TestFold_ThreadIDFirstWriterWins(t *testing.T) {
	first := model.ConversationContext{Messages: []model.Message{userMsg("a")}, ThreadID: "t1"}
	second := model.ConversationContext{Messages: []model.Message{userMsg("b")}, ThreadID: "t2"}

	got := Fold(first, second)
	assert.Equal(t, "t1", got.ThreadID)
}

// TestFold_AdoptsThreadIDFromSecondArrival covers fan-in where the first
// upstream has no thread: {[a], nil} then {[b], "t9"} adopts t9.
func TestFold_AdoptsThreadIDFromSecondArrival(t *testing.T) {
	first := model.ConversationContext{Messages: []model.Message{userMsg("a")}}
	second := model.ConversationContext{Messages: []model.Message{userMsg("b")}, ThreadID: "t9"}

	got := Fold(first, second)
	assert.Equal(t, []string{"a", "b"}, texts(got.Messages))
	assert.Equal(t, "t9", got.ThreadID)
}

// TestFold_EmptyMessagesStillAdoptsThreadID verifies a message-less context
// with a thread id still triggers adoption.
func TestFold_EmptyMessagesStillAdoptsThreadID(t *testing.T) {
	acc := model.ConversationContext{Messages: []model.Message{userMsg("a")}}
	incoming := model.ConversationContext{ThreadID: "t3"}

	got := Fold(acc, incoming)
	assert.Equal(t, []string{"a"}, texts(got.Messages))
	assert.Equal(t, "t3", got.ThreadID)
}

// TestFold_DoesNotMutateInputs verifies value semantics: both inputs keep
// their original messages and thread ids after a fold.
func TestFold_DoesNotMutateInputs(t *testing.T) {
	acc := model.ConversationContext{
		Messages: append(make([]model.Message, 0, 8), userMsg("a")),
		ThreadID: "t1",
	}
	incoming := model.ConversationContext{Messages: []model.Message{userMsg("b")}, ThreadID: "t2"}

	got := Fold(acc, incoming)
	require.Equal(t, []string{"a", "b"}, texts(got.Messages))

	// Mutating the result must not show through to either input.
	got.Messages[0] = userMsg("x")
	assert.Equal(t, []string{"a"}, texts(acc.Messages))
	assert.Equal(t, []string{"b"}, texts(incoming.Messages))
	assert.Equal(t, "t1", acc.ThreadID)
	assert.Equal(t, "t2", incoming.ThreadID)
}

func TestFoldAll(t *testing.T) {
	got := FoldAll(
		model.ConversationContext{Messages: []model.Message{userMsg("a")}},
		model.ConversationContext{Messages: []model.Message{userMsg("b")}, ThreadID: "t1"},
		model.ConversationContext{Messages: []model.Message{userMsg("c")}, ThreadID: "t2"},
	)
	assert.Equal(t, []string{"a", "b", "c"}, texts(got.Messages))
	assert.Equal(t, "t1", got.ThreadID)
}
