package identity

import (
	"testing"

	"github.com/dmitrijs2005/examreg/internal/client/models"
	"github.com/stretchr/testify/require"
)

func TestPresence_ReplaysCurrentOnSubscribe(t *testing.T) {
	p := NewPresence()

	ch, cancel := p.Subscribe()
	defer cancel()
	require.Nil(t, <-ch, "initial state is signed out")

	u := &models.Identity{UID: "u1"}
	p.Publish(u)
	require.Equal(t, u, <-ch)

	late, cancelLate := p.Subscribe()
	defer cancelLate()
	require.Equal(t, u, <-late)
	require.Equal(t, u, p.Current())
}

func TestPresence_CancelClosesStream(t *testing.T) {
	p := NewPresence()
	ch, cancel := p.Subscribe()
	<-ch

	cancel()
	cancel()

	_, ok := <-ch
	require.False(t, ok)

	p.Publish(&models.Identity{UID: "after"})
}

func TestPresence_SlowSubscriberKeepsNewest(t *testing.T) {
	p := NewPresence()
	ch, cancel := p.Subscribe()
	defer cancel()

	for i := 0; i < subscriberBuffer*2; i++ {
		p.Publish(&models.Identity{UID: "old"})
	}
	p.Publish(nil)

	var last *models.Identity
	for len(ch) > 0 {
		last = <-ch
	}
	require.Nil(t, last)
}
