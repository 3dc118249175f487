// Package connectivity tracks whether the device can reach the network and
// notifies subscribers on transitions. The online→offline signal routes
// operations to the local store; the offline→online signal is what triggers
// queue draining.
package connectivity

import (
	"context"
	"log/slog"
	"net/http"
	stdSync "sync"
	"time"

	"github.com/cobranzas-app/cobrasync/logging"
	"github.com/go-co-op/gocron/v2"
)

// notifier implements subscriber bookkeeping shared by both monitors.
type notifier struct {
	mu     stdSync.RWMutex
	online bool
	subs   map[int]func(online bool)
	nextID int
}

func newNotifier(online bool) *notifier {
	return &notifier{online: online, subs: map[int]func(bool){}}
}

func (n *notifier) Online() bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.online
}

func (n *notifier) Subscribe(fn func(online bool)) (cancel func()) {
	n.mu.Lock()
	id := n.nextID
	n.nextID++
	n.subs[id] = fn
	n.mu.Unlock()
	return func() {
		n.mu.Lock()
		delete(n.subs, id)
		n.mu.Unlock()
	}
}

// set updates the state and fires callbacks only on an actual transition.
func (n *notifier) set(online bool) {
	n.mu.Lock()
	if n.online == online {
		n.mu.Unlock()
		return
	}
	n.online = online
	fns := make([]func(bool), 0, len(n.subs))
	for _, fn := range n.subs {
		fns = append(fns, fn)
	}
	n.mu.Unlock()

	for _, fn := range fns {
		fn(online)
	}
}

// Static is a manually driven monitor. It defaults to online: on platforms
// with no network-state API the core fails open and prefers attempting remote
// calls over silently going offline. Tests and host applications that receive
// platform signals push transitions through SetOnline.
type Static struct {
	*notifier
}

// NewStatic creates a manual monitor with the given initial state.
func NewStatic(online bool) *Static {
	return &Static{notifier: newNotifier(online)}
}

// SetOnline records a state change, notifying subscribers on transitions.
func (s *Static) SetOnline(online bool) { s.set(online) }

// ProbeFunc reports whether the network is currently reachable.
type ProbeFunc func(ctx context.Context) bool

// Probe polls a reachability probe on a fixed schedule and converts probe
// results into transitions. It starts optimistically online.
type Probe struct {
	*notifier
	probe     ProbeFunc
	scheduler gocron.Scheduler
	logger    *slog.Logger
}

// NewProbe creates a probe-driven monitor. The first probe runs immediately,
// then every interval until Close.
func NewProbe(probe ProbeFunc, interval time.Duration) (*Probe, error) {
	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return nil, err
	}

	p := &Probe{
		notifier:  newNotifier(true),
		probe:     probe,
		scheduler: scheduler,
		logger:    logging.WithComponent(logging.Component("connectivity")).Logger,
	}

	_, err = scheduler.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(p.check),
		gocron.WithName("connectivity-probe"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithStartAt(gocron.WithStartImmediately()),
	)
	if err != nil {
		scheduler.Shutdown()
		return nil, err
	}

	scheduler.Start()
	return p, nil
}

func (p *Probe) check() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	online := p.probe(ctx)
	was := p.Online()
	if online != was {
		if online {
			p.logger.Info("connection restored")
		} else {
			p.logger.Warn("connection lost, switching to offline mode")
		}
	}
	p.set(online)
}

// Close stops the probe schedule.
func (p *Probe) Close() error {
	return p.scheduler.Shutdown()
}

// HTTPProbe builds a ProbeFunc that HEADs the given URL and treats any
// response, even an error status, as proof of reachability.
func HTTPProbe(url string, client *http.Client) ProbeFunc {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	return func(ctx context.Context) bool {
		req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
		if err != nil {
			return false
		}
		resp, err := client.Do(req)
		if err != nil {
			return false
		}
		resp.Body.Close()
		return true
	}
}
