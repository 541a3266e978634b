package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/bmharper/ringbuffer"
)

// Poller reads a LatestCell at a fixed cadence, keeps a bounded history of
// distinct readings and fans new ones out to subscribers.
type Poller struct {
	cell     *LatestCell
	interval time.Duration

	mu      sync.Mutex
	history ringbuffer.RingP[Reading]
	lastSeq uint64
	subs    map[int]chan Reading
	nextSub int
}

// NewPoller creates a poller over cell. Non-positive arguments take the
// DefaultStreamConfig values.
func NewPoller(cell *LatestCell, interval time.Duration, historySize int) *Poller {
	def := DefaultStreamConfig()
	if interval <= 0 {
		interval = def.PollInterval
	}
	if historySize <= 0 {
		historySize = def.HistorySize
	}
	return &Poller{
		cell:     cell,
		interval: interval,
		history:  ringbuffer.NewRingP[Reading](historySize),
		subs:     map[int]chan Reading{},
	}
}

// Run polls until ctx is done.
func (p *Poller) Run(ctx context.Context) {
	t := time.NewTicker(p.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			p.Poll()
		}
	}
}

// Poll checks the cell once and reports whether a new reading was recorded.
func (p *Poller) Poll() bool {
	r := p.cell.Load()
	if r == nil {
		return false
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if r.Sequence == p.lastSeq {
		return false
	}
	p.lastSeq = r.Sequence
	p.history.Add(*r)
	for _, ch := range p.subs {
		select {
		case ch <- *r:
		default:
			// slow subscriber: it will see the next reading
		}
	}
	return true
}

// History returns recorded readings, oldest first.
func (p *Poller) History() []Reading {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Reading, 0, p.history.Len())
	for i := range p.history.Len() {
		out = append(out, p.history.Peek(i))
	}
	return out
}

// Subscribe returns a channel of new readings and a cancel func that closes it.
func (p *Poller) Subscribe(buffer int) (<-chan Reading, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan Reading, buffer)

	p.mu.Lock()
	id := p.nextSub
	p.nextSub++
	p.subs[id] = ch
	p.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			p.mu.Lock()
			delete(p.subs, id)
			p.mu.Unlock()
			close(ch)
		})
	}
}
