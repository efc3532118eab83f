package console

import (
	"context"
	"sync"
	"time"
)

const defaultRefreshInterval = time.Minute

// Refresh carries the outcome of one periodic list fetch.
type Refresh struct {
	Inquiries []Inquiry
	Counts    Counts
	Err       error
	At        time.Time
}

// Lister is satisfied by Controller.
type Lister interface {
	List(ctx context.Context) ([]Inquiry, error)
	Counts() Counts
}

// Refresher polls the inquiry list on an interval and on demand.
// Only one fetch runs at a time; extra triggers while a fetch runs are dropped.
type Refresher struct {
	interval     time.Duration
	lister       Lister
	onRefresh    func(Refresh)
	trigger      chan struct{}
	controlMutex sync.Mutex
	cancel       context.CancelFunc
	done         chan struct{}
}

// NewRefresher builds a stopped Refresher.
func NewRefresher(interval time.Duration, lister Lister, onRefresh func(Refresh)) *Refresher {
	if interval <= 0 {
		interval = defaultRefreshInterval
	}
	return &Refresher{
		interval:  interval,
		lister:    lister,
		onRefresh: onRefresh,
		trigger:   make(chan struct{}, 1),
	}
}

// Start fetches once immediately, then on every tick until Stop or ctx ends.
func (refresher *Refresher) Start(ctx context.Context) {
	if refresher == nil || refresher.lister == nil {
		return
	}
	refresher.controlMutex.Lock()
	if refresher.cancel != nil {
		refresher.controlMutex.Unlock()
		return
	}
	runtimeContext, cancel := context.WithCancel(ctx)
	refresher.cancel = cancel
	done := make(chan struct{})
	refresher.done = done
	refresher.controlMutex.Unlock()

	go refresher.loop(runtimeContext, done)
}

// Trigger requests an out-of-band fetch.
func (refresher *Refresher) Trigger() {
	if refresher == nil {
		return
	}
	select {
	case refresher.trigger <- struct{}{}:
	default:
	}
}

// Stop cancels the loop and waits for it to exit.
func (refresher *Refresher) Stop() {
	if refresher == nil {
		return
	}
	refresher.controlMutex.Lock()
	cancel := refresher.cancel
	done := refresher.done
	refresher.cancel = nil
	refresher.done = nil
	refresher.controlMutex.Unlock()
	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

func (refresher *Refresher) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(refresher.interval)
	defer ticker.Stop()

	refresher.run(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-refresher.trigger:
			refresher.run(ctx)
		case <-ticker.C:
			refresher.run(ctx)
		}
	}
}

func (refresher *Refresher) run(ctx context.Context) {
	inquiries, listErr := refresher.lister.List(ctx)
	if ctx.Err() != nil {
		return
	}
	refresh := Refresh{Inquiries: inquiries, Err: listErr, At: time.Now()}
	if listErr == nil {
		refresh.Counts = refresher.lister.Counts()
	}
	if refresher.onRefresh != nil {
		refresher.onRefresh(refresh)
	}
}
