package chat

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nearchat/client/model"
)

var t0 = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

func msgAt(id string, at time.Time) model.Message {
	return model.Message{ID: id, CreatedAt: at, Text: id}
}

func TestOptimisticSendConfirmedByServer(t *testing.T) {
	w := NewWindow(0)
	local := t0.Add(-3 * time.Second)
	w.AddPending(model.Message{ID: "abc123", Text: "hello", CreatedAt: local})

	require.Equal(t, 1, w.Len())
	pending, ok := w.Get("abc123")
	require.True(t, ok)
	assert.True(t, pending.Pending)
	assert.Equal(t, "hello", pending.Text)

	replaced := w.ApplyMessage(model.Message{ID: "srv1", TempID: "abc123", Text: "hello", CreatedAt: t0})
	assert.True(t, replaced)

	msgs := w.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "srv1", msgs[0].ID)
	assert.False(t, msgs[0].Pending)
	assert.Equal(t, "hello", msgs[0].Text)
	assert.True(t, msgs[0].CreatedAt.Equal(local), "local timestamp must survive confirmation")
}

func TestConfirmationIsIdempotent(t *testing.T) {
	w := NewWindow(0)
	w.AddPending(model.Message{ID: "abc123", Text: "hello", CreatedAt: t0})
	confirm := model.Message{ID: "srv1", TempID: "abc123", Text: "hello", CreatedAt: t0.Add(time.Second)}

	w.ApplyMessage(confirm)
	w.ApplyMessage(confirm)
	w.ApplyMessage(confirm)

	msgs := w.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "srv1", msgs[0].ID)
	assert.Equal(t, "abc123", msgs[0].TempID)
	assert.True(t, msgs[0].CreatedAt.Equal(t0))
}

func TestApplyMessageWithoutMatchAppends(t *testing.T) {
	w := NewWindow(0)
	w.ApplyMessage(msgAt("a", t0))
	w.ApplyMessage(model.Message{ID: "b", TempID: "unknown", CreatedAt: t0})
	assert.Equal(t, 2, w.Len())

	// an existing id is replaced rather than duplicated
	assert.True(t, w.ApplyMessage(model.Message{ID: "a", Text: "edited", CreatedAt: t0}))
	assert.Equal(t, 2, w.Len())
	got, _ := w.Get("a")
	assert.Equal(t, "edited", got.Text)
}

func TestReactionFramesLastPayloadWins(t *testing.T) {
	w := NewWindow(0)
	w.ApplyMessage(msgAt("m1", t0))

	const n = 7
	var last model.Reactions
	for i := 0; i < n; i++ {
		last = model.Reactions{"1f44d": make([]model.Reaction, i+1)}
		for j := range last["1f44d"] {
			last["1f44d"][j] = model.Reaction{User: model.Sender{ID: fmt.Sprintf("u%d", j)}, Emoji: "1f44d"}
		}
		require.True(t, w.ApplyReaction("m1", last))
	}

	got, _ := w.Get("m1")
	assert.Equal(t, n, got.Update)
	assert.Equal(t, last, got.Reactions)

	assert.False(t, w.ApplyReaction("missing", last))
}

func TestReactionSurvivesReconfirmation(t *testing.T) {
	w := NewWindow(0)
	w.AddPending(model.Message{ID: "tmp", CreatedAt: t0})
	w.ApplyMessage(model.Message{ID: "srv", TempID: "tmp", CreatedAt: t0})
	w.ApplyReaction("srv", model.Reactions{"x": {{Emoji: "x"}}})
	w.ApplyMessage(model.Message{ID: "srv", TempID: "tmp", CreatedAt: t0})

	got, _ := w.Get("srv")
	assert.Equal(t, 1, got.Update)
}

func TestWindowCapacity(t *testing.T) {
	w := NewWindow(0)
	for i := 0; i < DefaultCapacity; i++ {
		w.ApplyMessage(msgAt(fmt.Sprintf("m%d", i), t0.Add(time.Duration(i)*time.Second)))
	}
	require.Equal(t, 50, w.Len())

	w.ApplyMessage(msgAt("m50", t0.Add(time.Hour)))
	assert.Equal(t, 50, w.Len())
	_, ok := w.Get("m0")
	assert.False(t, ok, "oldest by insertion must be evicted")
	oldest, _ := w.Oldest()
	assert.Equal(t, "m1", oldest.ID)

	for i := 0; i < 30; i++ {
		before := w.Len()
		w.AddPending(msgAt(fmt.Sprintf("p%d", i), t0))
		assert.Equal(t, before, w.Len())
	}
}

func TestSortedNewestFirstAndStable(t *testing.T) {
	w := NewWindow(0)
	w.ApplyMessage(msgAt("old", t0))
	w.ApplyMessage(msgAt("tie1", t0.Add(time.Minute)))
	w.ApplyMessage(msgAt("new", t0.Add(time.Hour)))
	w.ApplyMessage(msgAt("tie2", t0.Add(time.Minute)))

	ids := func() []string {
		var out []string
		for _, m := range w.Sorted() {
			out = append(out, m.ID)
		}
		return out
	}
	want := []string{"new", "tie2", "tie1", "old"}
	assert.Equal(t, want, ids())
	assert.Equal(t, want, ids(), "repeated sorts must agree")
}

func TestReplaceLoadsPageNewestFirst(t *testing.T) {
	w := NewWindow(3)
	w.ApplyMessage(msgAt("stale", t0))
	w.Replace([]model.Message{msgAt("c", t0.Add(3)), msgAt("b", t0.Add(2)), msgAt("a", t0.Add(1)), msgAt("z", t0)})

	msgs := w.Messages()
	require.Len(t, msgs, 3)
	assert.Equal(t, "a", msgs[0].ID)
	assert.Equal(t, "c", msgs[2].ID)
	_, ok := w.Get("stale")
	assert.False(t, ok)
}

func TestPrependSkipsDuplicates(t *testing.T) {
	w := NewWindow(0)
	w.ApplyMessage(msgAt("m3", t0.Add(3*time.Second)))
	w.ApplyMessage(msgAt("m4", t0.Add(4*time.Second)))

	// m3 arrived over the socket while the page was in flight
	n := w.Prepend([]model.Message{
		msgAt("m3", t0.Add(3*time.Second)),
		msgAt("m2", t0.Add(2*time.Second)),
		msgAt("m1", t0.Add(time.Second)),
	})
	assert.Equal(t, 2, n)

	var ids []string
	for _, m := range w.Messages() {
		ids = append(ids, m.ID)
	}
	assert.Equal(t, []string{"m1", "m2", "m3", "m4"}, ids)
}

func TestPrependRespectsCapacity(t *testing.T) {
	w := NewWindow(3)
	w.ApplyMessage(msgAt("m9", t0.Add(9*time.Second)))
	w.ApplyMessage(msgAt("m8", t0.Add(8*time.Second)))

	n := w.Prepend([]model.Message{msgAt("m7", t0.Add(7)), msgAt("m6", t0.Add(6))})
	assert.Equal(t, 1, n)
	assert.Equal(t, 3, w.Len())
	oldest, _ := w.Oldest()
	assert.Equal(t, "m7", oldest.ID)

	assert.Zero(t, w.Prepend([]model.Message{msgAt("m5", t0)}))
}

func TestSubscribeNotifiesUntilCancelled(t *testing.T) {
	w := NewWindow(0)
	calls := 0
	cancel := w.Subscribe(func() {
		calls++
		// reading from a subscriber must not deadlock
		_ = w.Len()
	})

	w.AddPending(msgAt("a", t0))
	w.ApplyMessage(msgAt("b", t0))
	w.ApplyReaction("b", model.Reactions{})
	assert.Equal(t, 3, calls)

	cancel()
	w.ApplyMessage(msgAt("c", t0))
	assert.Equal(t, 3, calls)
}

func TestGetReturnsCopy(t *testing.T) {
	w := NewWindow(0)
	w.ApplyMessage(model.Message{ID: "m", Reactions: model.Reactions{"x": {{Emoji: "x"}}}})
	got, _ := w.Get("m")
	got.Reactions["x"] = nil

	again, _ := w.Get("m")
	assert.Len(t, again.Reactions["x"], 1)
}
