package dispatch

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSubscriptionsTargets(t *testing.T) {
	s := NewSubscriptions()
	s.Subscribe("win_b", KindPrompt, "m2")
	s.Subscribe("win_a", KindPrompt, "m1")
	s.Subscribe("win_a", KindPreExec, "m3")

	assert.Equal(t, []Target{{Window: "win_a", MessageID: "m1"}, {Window: "win_b", MessageID: "m2"}}, s.Targets(KindPrompt))
	assert.Equal(t, []Target{{Window: "win_a", MessageID: "m3"}}, s.Targets(KindPreExec))
	assert.Empty(t, s.Targets(KindFocus))
}

func TestSubscribeReplacesMessageID(t *testing.T) {
	s := NewSubscriptions()
	s.Subscribe("w", KindPrompt, "old")
	s.Subscribe("w", KindPrompt, "new")
	assert.Equal(t, []Target{{Window: "w", MessageID: "new"}}, s.Targets(KindPrompt))
}

func TestUnsubscribeAndClose(t *testing.T) {
	s := NewSubscriptions()
	s.Subscribe("w", KindPrompt, "m1")
	s.Subscribe("w", KindFocus, "m2")
	s.Subscribe("x", KindFocus, "m3")

	s.Unsubscribe("w", KindPrompt)
	assert.Empty(t, s.Targets(KindPrompt))
	assert.Equal(t, []string{"w", "x"}, s.Windows())

	s.Unsubscribe("w", KindFocus)
	assert.Equal(t, []string{"x"}, s.Windows(), "window without kinds is forgotten")

	assert.True(t, s.CloseWindow("x"))
	assert.False(t, s.CloseWindow("x"))
	assert.Empty(t, s.Windows())
}
