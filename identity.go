package bidsession

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
)

// identityDispatcher fans identity tags out to the configured IdentityTagger
// on a dedicated goroutine. Login and logout never block on the sink; a full
// buffer drops the tag and counts it.
type identityDispatcher struct {
	cfg       IdentityConfig
	tagger    IdentityTagger
	ch        chan IdentityTag
	done      chan struct{}
	wg        sync.WaitGroup
	dropped   atomic.Uint64
	closed    atomic.Bool
	closeOnce sync.Once
}

func newIdentityDispatcher(cfg IdentityConfig, tagger IdentityTagger) *identityDispatcher {
	if !cfg.Enabled {
		return nil
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1
	}
	if tagger == nil {
		tagger = NoOpTagger{}
	}

	d := &identityDispatcher{
		cfg:    cfg,
		tagger: tagger,
		ch:     make(chan IdentityTag, cfg.BufferSize),
		done:   make(chan struct{}),
	}

	d.wg.Add(1)
	go d.run()

	return d
}

func (d *identityDispatcher) run() {
	defer d.wg.Done()

	for {
		select {
		case tag := <-d.ch:
			d.tagger.Tag(context.Background(), tag)
		case <-d.done:
			for {
				select {
				case tag := <-d.ch:
					d.tagger.Tag(context.Background(), tag)
				default:
					return
				}
			}
		}
	}
}

// Emit describes the emit operation and its observable behavior.
//
// Emit does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (d *identityDispatcher) Emit(ctx context.Context, tag IdentityTag) {
	if d == nil || d.closed.Load() {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}

	if d.cfg.DropIfFull {
		select {
		case d.ch <- tag:
		case <-d.done:
		default:
			d.dropped.Add(1)
		}
		return
	}

	select {
	case d.ch <- tag:
	case <-ctx.Done():
	case <-d.done:
	}
}

// Close describes the close operation and its observable behavior.
//
// Close does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (d *identityDispatcher) Close() {
	if d == nil {
		return
	}
	d.closeOnce.Do(func() {
		d.closed.Store(true)
		close(d.done)
		d.wg.Wait()
	})
}

// Dropped describes the dropped operation and its observable behavior.
//
// Dropped does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (d *identityDispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}

func signedInTag(user *User) IdentityTag {
	tag := IdentityTag{SignedIn: true}
	if user != nil {
		tag.UserID = strconv.FormatInt(user.ID, 10)
		tag.Email = user.Email
	}
	return tag
}

func signedOutTag() IdentityTag {
	return IdentityTag{}
}
