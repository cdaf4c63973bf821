package sandbox

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/felixgeelhaar/fortify/retry"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/isdmx/codepool/command"
)

// entry is the inventory's bookkeeping for one container
type entry struct {
	handle ContainerHandle
	leases int
}

// Inventory is the authoritative record of the containers that exist per
// language. Bookkeeping is serialized by one mutex that is never held across
// runtime calls; liveness checks run unlocked and are applied as one batch.
type Inventory struct {
	runtime  ContainerRuntime
	cfg      Config
	logger   *zap.Logger
	recorder Recorder
	creator  retry.Retry[string]
	now      func() time.Time

	mu      sync.Mutex
	entries map[command.Language][]*entry // front is the most recently released
	pending map[command.Language]int      // creations in flight, counted against the cap
	changed chan struct{}                 // closed and replaced on every mutation
	closed  bool
}

// NewInventory creates an empty Inventory
func NewInventory(runtime ContainerRuntime, cfg Config, logger *zap.Logger, recorder Recorder) *Inventory {
	if recorder == nil {
		recorder = nopRecorder{}
	}
	return &Inventory{
		runtime:  runtime,
		cfg:      cfg,
		logger:   logger,
		recorder: recorder,
		creator:  newRetrier[string](cfg.Retry),
		now:      time.Now,
		entries:  make(map[command.Language][]*entry),
		pending:  make(map[command.Language]int),
		changed:  make(chan struct{}),
	}
}

// Acquire returns a container for lang: the most recently released idle one,
// else a newly created one while under the cap, else the oldest tracked one,
// which may be shared with a request that is still executing.
func (inv *Inventory) Acquire(ctx context.Context, lang command.Language) (ContainerHandle, error) {
	if err := inv.EvictDead(ctx, lang); err != nil {
		return ContainerHandle{}, err
	}

	for {
		inv.mu.Lock()
		if inv.closed {
			inv.mu.Unlock()
			return ContainerHandle{}, ErrPoolClosed
		}

		tracked := inv.entries[lang]
		for _, e := range tracked {
			if e.leases == 0 {
				e.leases++
				inv.mu.Unlock()
				return e.handle, nil
			}
		}

		if len(tracked)+inv.pending[lang] < inv.cfg.MaxPoolSize {
			inv.pending[lang]++
			inv.mu.Unlock()
			return inv.create(ctx, lang)
		}

		if len(tracked) > 0 {
			oldest := tracked[0]
			for _, e := range tracked[1:] {
				if e.handle.CreatedAt.Before(oldest.handle.CreatedAt) {
					oldest = e
				}
			}
			oldest.leases++
			inv.mu.Unlock()
			inv.logger.Debug("pool saturated, sharing oldest container",
				zap.String("language", lang.String()),
				zap.String("container", shortID(oldest.handle.ID)),
				zap.Int("leases", oldest.leases))
			return oldest.handle, nil
		}

		// Every slot is reserved by a creation still in flight
		wait := inv.changed
		inv.mu.Unlock()
		select {
		case <-ctx.Done():
			return ContainerHandle{}, ctx.Err()
		case <-wait:
		}
	}
}

// create starts a new container for lang. The caller has reserved a slot.
func (inv *Inventory) create(ctx context.Context, lang command.Language) (ContainerHandle, error) {
	name := fmt.Sprintf("compiler-%s-%s", lang, uuid.NewString())
	spec := inv.cfg.ContainerSpecFor(lang, name)

	id, attempts, err := doWithRetry(ctx, inv.creator, func(ctx context.Context) (string, error) {
		id, err := inv.runtime.Create(ctx, spec)
		if err != nil {
			return "", err
		}
		if err := inv.runtime.Start(ctx, id); err != nil {
			inv.removeQuietly(id)
			return "", err
		}
		return id, nil
	})

	inv.mu.Lock()
	inv.pending[lang]--
	inv.notifyLocked()

	if err != nil {
		inv.mu.Unlock()
		inv.logger.Error("failed to create container",
			zap.String("language", lang.String()),
			zap.String("image", spec.Image),
			zap.Int("attempts", attempts),
			zap.Error(err))
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ContainerHandle{}, ctxErr
		}
		return ContainerHandle{}, fmt.Errorf("%w: %s: %w", ErrContainerCreationFailed, lang, err)
	}

	if inv.closed {
		inv.mu.Unlock()
		inv.removeQuietly(id)
		return ContainerHandle{}, ErrPoolClosed
	}

	handle := ContainerHandle{ID: id, Language: lang, CreatedAt: inv.now()}
	inv.entries[lang] = append(inv.entries[lang], &entry{handle: handle, leases: 1})
	size := len(inv.entries[lang])
	inv.mu.Unlock()

	inv.recorder.ContainerCreated(lang.String())
	inv.recorder.PoolSize(lang.String(), size)
	inv.logger.Info("container created",
		zap.String("language", lang.String()),
		zap.String("container", shortID(id)),
		zap.String("name", name),
		zap.Int("pool_size", size))

	return handle, nil
}

// Release returns handle to the front of its language's reuse list. It is a
// no-op for handles that are no longer tracked.
func (inv *Inventory) Release(handle ContainerHandle) {
	inv.mu.Lock()
	defer inv.mu.Unlock()

	tracked := inv.entries[handle.Language]
	for i, e := range tracked {
		if e.handle.ID != handle.ID {
			continue
		}
		if e.leases > 0 {
			e.leases--
		}
		copy(tracked[1:i+1], tracked[:i])
		tracked[0] = e
		inv.notifyLocked()
		return
	}
}

// Discard stops tracking handle. Callers must discard a handle before
// destroying its container so no acquirer can receive it mid-teardown.
func (inv *Inventory) Discard(handle ContainerHandle) bool {
	inv.mu.Lock()
	dropped := inv.dropLocked(handle.Language, map[string]bool{handle.ID: true})
	size := len(inv.entries[handle.Language])
	inv.mu.Unlock()

	if len(dropped) > 0 {
		inv.recorder.PoolSize(handle.Language.String(), size)
	}
	return len(dropped) > 0
}

// EvictDead inspects every tracked container for lang concurrently and drops the
// ones that are no longer running. Only containers this call dropped are
// force-removed, so concurrent evictions never remove a container twice.
func (inv *Inventory) EvictDead(ctx context.Context, lang command.Language) error {
	inv.mu.Lock()
	if inv.closed {
		inv.mu.Unlock()
		return ErrPoolClosed
	}
	ids := make([]string, 0, len(inv.entries[lang]))
	for _, e := range inv.entries[lang] {
		ids = append(ids, e.handle.ID)
	}
	inv.mu.Unlock()

	if len(ids) == 0 {
		return nil
	}

	alive := make([]bool, len(ids))
	var g errgroup.Group
	for i, id := range ids {
		g.Go(func() error {
			running, err := inv.runtime.Inspect(ctx, id)
			if err != nil {
				inv.logger.Debug("liveness check failed",
					zap.String("container", shortID(id)),
					zap.Error(err))
			}
			alive[i] = err == nil && running
			return nil
		})
	}
	_ = g.Wait()

	// Inspections failing because the caller gave up say nothing about liveness
	if err := ctx.Err(); err != nil {
		return err
	}

	dead := make(map[string]bool)
	for i, id := range ids {
		if !alive[i] {
			dead[id] = true
		}
	}
	if len(dead) == 0 {
		return nil
	}

	inv.mu.Lock()
	dropped := inv.dropLocked(lang, dead)
	size := len(inv.entries[lang])
	inv.mu.Unlock()

	if len(dropped) == 0 {
		return nil
	}

	inv.recorder.PoolSize(lang.String(), size)
	inv.logger.Info("evicted dead containers",
		zap.String("language", lang.String()),
		zap.Int("evicted", len(dropped)),
		zap.Int("pool_size", size))
	for _, id := range dropped {
		inv.removeQuietly(id)
		inv.recorder.ContainerDestroyed(lang.String(), "dead")
	}
	return nil
}

// Shutdown stops tracking every container, then force-removes each of them
// exactly once. Later calls find nothing to remove.
func (inv *Inventory) Shutdown(ctx context.Context) error {
	inv.mu.Lock()
	inv.closed = true
	all := inv.entries
	inv.entries = make(map[command.Language][]*entry)
	inv.notifyLocked()
	inv.mu.Unlock()

	var errs []error
	removed := 0
	for lang, tracked := range all {
		for _, e := range tracked {
			if err := inv.runtime.Remove(ctx, e.handle.ID, true); err != nil {
				errs = append(errs, fmt.Errorf("remove %s container %s: %w", lang, shortID(e.handle.ID), err))
				continue
			}
			removed++
			inv.recorder.ContainerDestroyed(lang.String(), "shutdown")
		}
		inv.recorder.PoolSize(lang.String(), 0)
	}

	inv.logger.Info("container inventory shut down",
		zap.Int("removed", removed),
		zap.Int("failed", len(errs)))

	return errors.Join(errs...)
}

// Closed reports whether Shutdown has been called
func (inv *Inventory) Closed() bool {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	return inv.closed
}

// Stats returns the number of tracked containers per language
func (inv *Inventory) Stats() map[string]int {
	inv.mu.Lock()
	defer inv.mu.Unlock()

	stats := make(map[string]int, len(inv.entries))
	for lang, tracked := range inv.entries {
		if len(tracked) > 0 {
			stats[lang.String()] = len(tracked)
		}
	}
	return stats
}

// dropLocked stops tracking the listed containers and returns the ids that
// were still tracked
func (inv *Inventory) dropLocked(lang command.Language, ids map[string]bool) []string {
	tracked := inv.entries[lang]
	kept := make([]*entry, 0, len(tracked))
	var dropped []string
	for _, e := range tracked {
		if ids[e.handle.ID] {
			dropped = append(dropped, e.handle.ID)
			continue
		}
		kept = append(kept, e)
	}
	if len(dropped) > 0 {
		inv.entries[lang] = kept
		inv.notifyLocked()
	}
	return dropped
}

func (inv *Inventory) notifyLocked() {
	close(inv.changed)
	inv.changed = make(chan struct{})
}

// removeQuietly force-removes a container the inventory no longer tracks
func (inv *Inventory) removeQuietly(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := inv.runtime.Remove(ctx, id, true); err != nil {
		inv.logger.Warn("failed to remove container", zap.String("container", shortID(id)), zap.Error(err))
	}
}

// shortID truncates container ids for logs
func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
