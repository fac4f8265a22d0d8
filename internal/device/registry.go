package device

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Logger matches the subset of logging used by the registry.
// Satisfied by *slog.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger discards all log output. Used when no logger is configured.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Registry is the in-memory device table with write-through persistence.
//
// Reads are served from the cache and always return deep copies. Writes go
// to the repository first, then replace the cached entry, so the cache
// never runs ahead of durable state.
//
// Mutating methods must be called from a single goroutine (the reconciler).
// Concurrent reads from any goroutine are safe.
type Registry struct {
	repo   Repository
	logger Logger

	cacheMu sync.RWMutex
	cache   map[string]*Device
}

// UpsertResult reports what an Upsert actually did, so the caller can emit
// the matching announcements exactly once.
type UpsertResult struct {
	// Created is true when the upsert created a new device record
	// (including reviving a previously removed one).
	Created bool

	// BackOnline is true when the device was offline and this upsert
	// flipped it back online.
	BackOnline bool
}

// RegistryStats summarises the registry for diagnostics.
type RegistryStats struct {
	Total   int
	Online  int
	Offline int
}

// NewRegistry creates a registry backed by the given repository.
// Call RefreshCache before serving reads.
func NewRegistry(repo Repository) *Registry {
	return &Registry{
		repo:   repo,
		logger: noopLogger{},
		cache:  make(map[string]*Device),
	}
}

// SetLogger installs a logger. Must be called before concurrent use.
func (r *Registry) SetLogger(logger Logger) {
	if logger != nil {
		r.logger = logger
	}
}

// RefreshCache reloads every non-removed device from the repository.
// Called once at startup so the previous session's devices are visible
// before the first event arrives.
func (r *Registry) RefreshCache(ctx context.Context) error {
	devices, err := r.repo.List(ctx)
	if err != nil {
		return fmt.Errorf("refreshing device cache: %w", err)
	}

	cache := make(map[string]*Device, len(devices))
	for i := range devices {
		d := devices[i]
		cache[d.Addr] = &d
	}

	r.cacheMu.Lock()
	r.cache = cache
	r.cacheMu.Unlock()

	r.logger.Info("device cache refreshed", "devices", len(devices))
	return nil
}

// Get returns a deep copy of a device. Falls back to the repository on a
// cache miss. Soft-deleted devices return ErrDeviceRemoved.
func (r *Registry) Get(ctx context.Context, addr string) (*Device, error) {
	r.cacheMu.RLock()
	cached, ok := r.cache[addr]
	r.cacheMu.RUnlock()
	if ok {
		return cached.DeepCopy(), nil
	}

	d, err := r.repo.GetByAddr(ctx, addr)
	if err != nil {
		return nil, err
	}
	if d.Removed {
		return nil, ErrDeviceRemoved
	}

	r.cacheMu.Lock()
	r.cache[addr] = d
	r.cacheMu.Unlock()

	return d.DeepCopy(), nil
}

// List returns deep copies of every known device, ordered by address.
func (r *Registry) List() []Device {
	r.cacheMu.RLock()
	devices := make([]Device, 0, len(r.cache))
	for _, d := range r.cache {
		devices = append(devices, *d.DeepCopy())
	}
	r.cacheMu.RUnlock()

	sort.Slice(devices, func(i, j int) bool {
		return devices[i].Addr < devices[j].Addr
	})
	return devices
}

// Upsert applies an accepted event to the registry.
//
// For a known device the changed attributes are merged, LastSeen advances
// and the device is marked online. For an unknown address a new record is
// created with the announced capabilities and the address as its name;
// the caller is responsible for join-window gating before calling this.
// A previously removed device that rejoins is revived as a fresh record
// under its old name.
//
// Every upsert that carries attributes is appended to the event journal.
func (r *Registry) Upsert(ctx context.Context, addr string, caps []string, changed Attributes, seen time.Time) (UpsertResult, error) {
	var res UpsertResult

	if err := ValidateAddr(addr); err != nil {
		return res, err
	}

	r.cacheMu.RLock()
	cached, known := r.cache[addr]
	r.cacheMu.RUnlock()

	if known {
		updated := cached.DeepCopy()
		res.BackOnline = !updated.Online
		for k, v := range changed {
			updated.Attributes = mergeAttribute(updated.Attributes, k, v)
		}
		updated.LastSeen = seen
		updated.Online = true
		updated.OfflineReason = ""
		updated.UpdatedAt = time.Now().UTC()

		if err := r.repo.UpdateAttributes(ctx, addr, changed, seen); err != nil {
			return UpsertResult{}, err
		}

		r.cacheMu.Lock()
		r.cache[addr] = updated
		r.cacheMu.Unlock()
	} else {
		created, err := r.createOrRevive(ctx, addr, caps, changed, seen)
		if err != nil {
			return UpsertResult{}, err
		}

		r.cacheMu.Lock()
		r.cache[addr] = created
		r.cacheMu.Unlock()

		res.Created = true
	}

	if len(changed) > 0 || res.Created {
		if err := r.repo.AppendEvent(ctx, addr, changed, seen); err != nil {
			// The device row is already durable; a journal gap only
			// degrades audit, so log rather than fail the upsert.
			r.logger.Warn("journal append failed", "addr", addr, "error", err)
		}
	}

	return res, nil
}

// createOrRevive inserts a fresh device record, or resets a soft-deleted
// row for the same address when one exists.
func (r *Registry) createOrRevive(ctx context.Context, addr string, caps []string, attrs Attributes, seen time.Time) (*Device, error) {
	d := &Device{
		Addr:         addr,
		Name:         addr,
		Capabilities: append([]string(nil), caps...),
		Attributes:   deepCopyAttributes(attrs),
		Online:       true,
		LastSeen:     seen,
		JoinedAt:     seen,
	}
	if d.Attributes == nil {
		d.Attributes = Attributes{}
	}

	err := r.repo.Create(ctx, d)
	if err == nil {
		r.logger.Info("device created", "addr", addr, "capabilities", len(caps))
		return d, nil
	}
	if !errors.Is(err, ErrDeviceExists) {
		return nil, err
	}

	// Address exists but was not cached: a soft-deleted row. Rejoining
	// resets it but keeps the operator-assigned name.
	prev, getErr := r.repo.GetByAddr(ctx, addr)
	if getErr != nil {
		return nil, getErr
	}
	d.Name = prev.Name
	d.Removed = false
	if updErr := r.repo.Update(ctx, d); updErr != nil {
		return nil, updErr
	}

	r.logger.Info("device revived", "addr", addr, "name", prev.Name)
	return d, nil
}

// Rename changes a device's human-assigned name.
func (r *Registry) Rename(ctx context.Context, addr, name string) error {
	if err := ValidateName(name); err != nil {
		return err
	}

	r.cacheMu.RLock()
	cached, known := r.cache[addr]
	var taken bool
	for a, d := range r.cache {
		if a != addr && d.Name == name {
			taken = true
			break
		}
	}
	r.cacheMu.RUnlock()

	if !known {
		return ErrDeviceNotFound
	}
	if taken {
		return ErrNameTaken
	}

	if err := r.repo.Rename(ctx, addr, name); err != nil {
		return err
	}

	updated := cached.DeepCopy()
	updated.Name = name
	updated.UpdatedAt = time.Now().UTC()

	r.cacheMu.Lock()
	r.cache[addr] = updated
	r.cacheMu.Unlock()

	r.logger.Info("device renamed", "addr", addr, "name", name)
	return nil
}

// MarkOffline flips a device offline with a reason. Returns true when this
// call performed the transition, false when the device was already offline,
// so callers announce each outage exactly once.
func (r *Registry) MarkOffline(ctx context.Context, addr, reason string) (bool, error) {
	r.cacheMu.RLock()
	cached, known := r.cache[addr]
	r.cacheMu.RUnlock()

	if !known {
		return false, ErrDeviceNotFound
	}
	if !cached.Online {
		return false, nil
	}

	if err := r.repo.UpdateAvailability(ctx, addr, false, reason); err != nil {
		return false, err
	}

	updated := cached.DeepCopy()
	updated.Online = false
	updated.OfflineReason = reason
	updated.UpdatedAt = time.Now().UTC()

	r.cacheMu.Lock()
	r.cache[addr] = updated
	r.cacheMu.Unlock()

	r.logger.Info("device offline", "addr", addr, "reason", reason)
	return true, nil
}

// Remove soft-deletes a device. Only an explicit operator command calls
// this; a device leaving the network merely goes offline.
func (r *Registry) Remove(ctx context.Context, addr string) error {
	r.cacheMu.RLock()
	_, known := r.cache[addr]
	r.cacheMu.RUnlock()

	if !known {
		return ErrDeviceNotFound
	}

	if err := r.repo.Remove(ctx, addr); err != nil {
		return err
	}

	r.cacheMu.Lock()
	delete(r.cache, addr)
	r.cacheMu.Unlock()

	r.logger.Info("device removed", "addr", addr)
	return nil
}

// Stats summarises the cached device table.
func (r *Registry) Stats() RegistryStats {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()

	stats := RegistryStats{Total: len(r.cache)}
	for _, d := range r.cache {
		if d.Online {
			stats.Online++
		} else {
			stats.Offline++
		}
	}
	return stats
}

// mergeAttribute sets one attribute value, allocating the map on first use.
func mergeAttribute(attrs Attributes, key string, value any) Attributes {
	if attrs == nil {
		attrs = make(Attributes, 1)
	}
	attrs[key] = deepCopyValue(value)
	return attrs
}
