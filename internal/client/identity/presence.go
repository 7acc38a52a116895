package identity

import (
	"sync"

	"github.com/dmitrijs2005/examreg/internal/client/models"
)

const subscriberBuffer = 16

// Presence fans identity-presence changes out to subscribers. A nil
// identity means "signed out". New subscribers immediately receive the
// current value, so a late listener still learns the present state.
type Presence struct {
	mu      sync.Mutex
	current *models.Identity
	subs    map[int]chan *models.Identity
	nextID  int
}

func NewPresence() *Presence {
	return &Presence{subs: make(map[int]chan *models.Identity)}
}

// Current returns the last published identity.
func (p *Presence) Current() *models.Identity {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current
}

// Publish records id and delivers it to every subscriber. A slow
// subscriber loses its oldest queued value, never the newest.
func (p *Presence) Publish(id *models.Identity) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.current = id
	for _, ch := range p.subs {
		deliver(ch, id)
	}
}

// Subscribe returns a stream of presence values and a cancel func that
// closes it.
func (p *Presence) Subscribe() (<-chan *models.Identity, func()) {
	p.mu.Lock()
	defer p.mu.Unlock()

	id := p.nextID
	p.nextID++
	ch := make(chan *models.Identity, subscriberBuffer)
	ch <- p.current
	p.subs[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			p.mu.Lock()
			defer p.mu.Unlock()
			delete(p.subs, id)
			close(ch)
		})
	}
	return ch, cancel
}

func deliver(ch chan *models.Identity, id *models.Identity) {
	for {
		select {
		case ch <- id:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}
