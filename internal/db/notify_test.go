package db

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNotifier_PublishReachesOnlyMatchingSubscribers(t *testing.T) {
	n := NewNotifier(nil, "", "summary_updates", nil)

	a, cancelA := n.Subscribe("a")
	defer cancelA()
	b, cancelB := n.Subscribe("b")
	defer cancelB()

	n.Publish("a")
	n.Publish("a") // coalesced, must not block

	assert.Len(t, a, 1)
	assert.Len(t, b, 0)
}

func TestNotifier_CancelRemovesSubscriber(t *testing.T) {
	n := NewNotifier(nil, "", "summary_updates", nil)

	ch, cancel := n.Subscribe("a")
	cancel()
	cancel()
	n.Publish("a")

	assert.Len(t, ch, 0)
	assert.Empty(t, n.subs)
}

func TestParseID(t *testing.T) {
	_, err := parseID("not-a-uuid")
	assert.ErrorIs(t, err, ErrSessionNotFound)

	_, err = parseID("6f1c1f0e-8a3a-4b8e-9a55-0d1f4c1b2a3c")
	assert.NoError(t, err)
}
