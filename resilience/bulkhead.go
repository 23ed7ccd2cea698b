package resilience

import (
	"context"
	"errors"
	"time"
)

// Bulkhead admission errors.
var (
	ErrBulkheadFull    = errors.New("bulkhead is full")
	ErrBulkheadTimeout = errors.New("bulkhead wait timeout")
)

// BulkheadConfig configures a Bulkhead.
type BulkheadConfig struct {
	// Name identifies the bulkhead in callbacks and logs.
	Name string
	// MaxConcurrent caps in-flight executions.
	MaxConcurrent int
	// MaxWait bounds how long Execute queues for a slot. Zero rejects
	// immediately when full.
	MaxWait time.Duration
	// OnReject fires when admission fails.
	OnReject func(name string)
}

// Bulkhead caps concurrent executions so one stalled provider cannot absorb
// every caller. Slots are a buffered channel; admission is a send, release a
// receive.
type Bulkhead struct {
	config BulkheadConfig
	slots  chan struct{}
}

// NewBulkhead creates a bulkhead. A non-positive cap collapses to a single
// slot.
func NewBulkhead(config BulkheadConfig) *Bulkhead {
	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = 1
	}
	return &Bulkhead{
		config: config,
		slots:  make(chan struct{}, config.MaxConcurrent),
	}
}

// Execute runs fn inside a slot. With no slot free it fails with
// ErrBulkheadFull, or queues up to MaxWait and fails with ErrBulkheadTimeout;
// context cancellation while queued returns the context error.
func (b *Bulkhead) Execute(ctx context.Context, fn func() error) error {
	if err := b.acquire(ctx); err != nil {
		if b.config.OnReject != nil {
			b.config.OnReject(b.config.Name)
		}
		return err
	}
	defer func() { <-b.slots }()

	return fn()
}

func (b *Bulkhead) acquire(ctx context.Context) error {
	select {
	case b.slots <- struct{}{}:
		return nil
	default:
	}

	if b.config.MaxWait <= 0 {
		return ErrBulkheadFull
	}

	timer := time.NewTimer(b.config.MaxWait)
	defer timer.Stop()

	select {
	case b.slots <- struct{}{}:
		return nil
	case <-timer.C:
		return ErrBulkheadTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}

// InUse reports how many slots are currently held.
func (b *Bulkhead) InUse() int {
	return len(b.slots)
}

// Available reports how many slots are free.
func (b *Bulkhead) Available() int {
	return b.config.MaxConcurrent - len(b.slots)
}
