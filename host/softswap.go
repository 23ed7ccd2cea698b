package host

import (
	"context"
	"sync"
	"time"

	"github.com/kbukum/plugkit/contract"
	"github.com/kbukum/plugkit/errors"
	"github.com/kbukum/plugkit/loader"
	"github.com/kbukum/plugkit/logger"
	"github.com/kbukum/plugkit/manifest"
	"github.com/kbukum/plugkit/registry"
)

// sweepPeriod is how often the sweeper scans retired handles for elapsed
// grace periods.
const sweepPeriod = time.Second

// SoftSwapHost replaces plugins without waiting for the outgoing code to
// unload: the replacement activates while the outgoing handle drains for
// its grace period, and a background sweeper releases drained loaders.
// With a persistent loader repeated swaps accumulate resident code; that
// is the documented cost of never truly unloading.
type SoftSwapHost struct {
	*Host

	retMu   sync.Mutex
	retired []*Handle

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// NewSoftSwap creates a soft-swap host backed by the given registry and
// loader factory.
func NewSoftSwap(reg *registry.Registry, factory loader.Factory, opts ...Option) *SoftSwapHost {
	return newSoftSwap(reg, factory, sweepPeriod, opts...)
}

func newSoftSwap(reg *registry.Registry, factory loader.Factory, every time.Duration, opts ...Option) *SoftSwapHost {
	s := &SoftSwapHost{
		Host: New(reg, factory, opts...),
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	go s.sweep(every)
	return s
}

// SoftSwap replaces a live plugin with a new descriptor for the same id.
// The outgoing handle moves to StateQuiescing and keeps serving until its
// grace elapses; the replacement is loaded and activated, receives
// exported state from the outgoing providers, and atomically takes over
// the live mapping. Selections made after SoftSwap returns resolve the
// replacement. On any failure the outgoing handle is restored to
// StateActive and keeps serving.
func (s *SoftSwapHost) SoftSwap(ctx context.Context, id string, next *manifest.Descriptor) (_ HandleView, err error) {
	ctx, done := s.rec.StartOperation(ctx, "host.swap")
	defer func() { done(err) }()

	if s.isClosed() {
		return HandleView{}, errors.InvalidState("host", "closed", "swap")
	}
	if next == nil {
		return HandleView{}, errors.MissingArgument("descriptor")
	}
	if err := next.Validate(); err != nil {
		return HandleView{}, err
	}
	if next.ID != id {
		return HandleView{}, errors.InvalidArgument("descriptor",
			"id "+next.ID+" does not match plugin "+id)
	}

	l := s.lockPlugin(id)
	defer l.Unlock()

	old, ok := s.live(id)
	if !ok {
		return HandleView{}, errors.NotFound("plugin", id)
	}
	if old.state != StateActive {
		return HandleView{}, errors.InvalidState("plugin "+id, old.state.String(), "swap")
	}

	now := time.Now()
	s.mu.Lock()
	old.state = StateQuiescing
	old.quiescedAt = now
	old.deadline = now.Add(old.grace)
	s.mu.Unlock()
	s.publish(Event{Type: EventQuiescing, Plugin: id, State: StateQuiescing})

	nh, err := s.buildHandle(ctx, next)
	if err != nil {
		s.restore(old)
		s.swapFailed(id, err)
		return HandleView{}, err
	}
	if err := s.activate(ctx, nh); err != nil {
		s.releaseLoader(nh.ld, id)
		s.restore(old)
		s.swapFailed(id, err)
		return HandleView{}, err
	}

	// Both generations are registered during the handoff; the outgoing
	// one is unregistered only after state has moved, so selection flips
	// to the replacement with its imported state already in place.
	s.handoff(ctx, old, nh)
	s.unregister(old)

	s.mu.Lock()
	s.handles[id] = nh
	view := nh.snapshot()
	s.mu.Unlock()

	s.retMu.Lock()
	s.retired = append(s.retired, old)
	s.retMu.Unlock()

	s.log.Info("plugin swapped", logger.Fields(
		logger.FieldPlugin, id,
		"from", old.descriptor.Version,
		"to", next.Version,
	))
	s.publish(Event{Type: EventSwapped, Plugin: id, State: StateActive})

	// Drain hooks run off the swap path; the outgoing entry keeps
	// serving in-flight work until grace expiry.
	go s.quiesce(context.Background(), old)

	return view, nil
}

// restore returns a handle marked quiescing to active after a failed
// swap.
func (s *SoftSwapHost) restore(old *Handle) {
	s.mu.Lock()
	old.state = StateActive
	old.quiescedAt = time.Time{}
	old.deadline = time.Time{}
	s.mu.Unlock()
}

func (s *SoftSwapHost) swapFailed(id string, err error) {
	s.log.Error("plugin swap failed", logger.Fields(
		logger.FieldPlugin, id,
		logger.FieldError, err.Error(),
	))
	s.publish(Event{Type: EventFailed, Plugin: id, State: StateActive, Err: err})
}

// handoff copies exported state from outgoing providers to their
// replacements, matched by provider id and contract. Transfer failures
// are logged and recorded, never fatal; providers that report no
// exportable state are skipped silently.
func (s *SoftSwapHost) handoff(ctx context.Context, old, next *Handle) {
	hctx, cancel := context.WithTimeout(ctx, old.grace)
	defer cancel()

	exporters := make(map[string]contract.StateExporter, len(old.specs))
	for _, spec := range old.specs {
		if exp, ok := spec.Provider.(contract.StateExporter); ok {
			exporters[handoffKey(spec)] = exp
		}
	}

	for _, spec := range next.specs {
		imp, ok := spec.Provider.(contract.StateImporter)
		if !ok {
			continue
		}
		exp, ok := exporters[handoffKey(spec)]
		if !ok {
			continue
		}
		provider := spec.Capabilities.ProviderID()

		payload, err := exp.ExportState(hctx)
		if err != nil {
			if errors.IsNotFound(err) {
				continue
			}
			s.rec.RecordException(hctx, err)
			s.log.Warn("state export failed", logger.Fields(
				logger.FieldPlugin, old.id,
				logger.FieldProvider, provider,
				logger.FieldError, err.Error(),
			))
			continue
		}
		if err := imp.ImportState(hctx, payload); err != nil {
			s.rec.RecordException(hctx, err)
			s.log.Warn("state import failed", logger.Fields(
				logger.FieldPlugin, old.id,
				logger.FieldProvider, provider,
				logger.FieldError, err.Error(),
			))
		}
	}
}

func handoffKey(spec contract.ProviderSpec) string {
	return spec.Capabilities.ProviderID() + "\x00" + spec.Contract.String()
}

func (s *SoftSwapHost) sweep(every time.Duration) {
	defer close(s.done)
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case now := <-ticker.C:
			s.reap(now)
		}
	}
}

// reap releases retired handles whose grace elapsed. Deadlines are
// wall-clock; a canceled caller context never extends a drain window.
func (s *SoftSwapHost) reap(now time.Time) {
	s.retMu.Lock()
	var due []*Handle
	keep := s.retired[:0]
	for _, hd := range s.retired {
		if now.Before(hd.deadline) {
			keep = append(keep, hd)
			continue
		}
		due = append(due, hd)
	}
	s.retired = keep
	s.retMu.Unlock()

	for _, hd := range due {
		s.release(hd)
	}
}

// release frees one retired handle's loader.
func (s *SoftSwapHost) release(hd *Handle) {
	ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
	err := hd.ld.Release(ctx)
	cancel()

	if err != nil {
		s.mu.Lock()
		hd.state = StateFailed
		hd.err = err
		s.mu.Unlock()
		s.log.Warn("retired loader release failed", logger.Fields(
			logger.FieldPlugin, hd.id,
			logger.FieldError, err.Error(),
		))
		s.publish(Event{Type: EventFailed, Plugin: hd.id, State: StateFailed, Err: err})
		return
	}

	s.mu.Lock()
	hd.state = StateUnloaded
	s.mu.Unlock()
	s.log.Info("retired plugin released", logger.Fields(logger.FieldPlugin, hd.id))
	s.publish(Event{Type: EventUnloaded, Plugin: hd.id, State: StateUnloaded})
}

// Close stops the sweeper, unloads the live set, then releases any
// still-draining handles without waiting out their grace. The live set
// goes first: unloading serializes on the per-id locks, so an in-flight
// swap finishes and parks its outgoing handle before the drain list is
// emptied.
func (s *SoftSwapHost) Close(ctx context.Context) error {
	s.stopOnce.Do(func() { close(s.stop) })
	<-s.done

	err := s.Host.Close(ctx)

	s.retMu.Lock()
	retired := s.retired
	s.retired = nil
	s.retMu.Unlock()
	for _, hd := range retired {
		s.release(hd)
	}

	return err
}
