package directory

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/l0p7/pricefeed/internal/handle"
)

// Record is the raw form of a tenant as read from configuration sources.
type Record struct {
	Handle      string
	DisplayName string
}

// Memory serves tenants from an in-process snapshot that can be swapped
// wholesale, which is how the file-backed directory hot reloads.
type Memory struct {
	mu      sync.RWMutex
	tenants map[string]Tenant
}

// NewMemory builds a directory from records. Invalid records are reported
// and skipped rather than failing the whole snapshot.
func NewMemory(records []Record) (*Memory, []error) {
	m := &Memory{}
	errs := m.Replace(records)
	return m, errs
}

// Resolve implements Directory.
func (m *Memory) Resolve(ctx context.Context, h handle.Handle) (Tenant, error) {
	if err := ctx.Err(); err != nil {
		return Tenant{}, err
	}
	m.mu.RLock()
	tenant, ok := m.tenants[h.String()]
	m.mu.RUnlock()
	if !ok {
		return Tenant{}, ErrTenantNotFound
	}
	return tenant, nil
}

// Replace swaps the snapshot and returns one error per rejected record.
func (m *Memory) Replace(records []Record) []error {
	next := make(map[string]Tenant, len(records))
	var errs []error
	for i, rec := range records {
		h, err := handle.Parse(strings.TrimSpace(rec.Handle))
		if err != nil {
			errs = append(errs, fmt.Errorf("directory: record %d: %w", i, err))
			continue
		}
		name := strings.TrimSpace(rec.DisplayName)
		if name == "" {
			errs = append(errs, fmt.Errorf("directory: record %d (%s): display name required", i, h.Masked()))
			continue
		}
		if _, dup := next[h.String()]; dup {
			errs = append(errs, fmt.Errorf("directory: record %d (%s): duplicate handle", i, h.Masked()))
			continue
		}
		next[h.String()] = Tenant{Handle: h, DisplayName: name}
	}

	m.mu.Lock()
	m.tenants = next
	m.mu.Unlock()
	return errs
}

// Handles returns the currently registered handles.
func (m *Memory) Handles() []handle.Handle {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]handle.Handle, 0, len(m.tenants))
	for _, t := range m.tenants {
		out = append(out, t.Handle)
	}
	return out
}

// Size reports the number of tenants in the snapshot.
func (m *Memory) Size() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.tenants)
}

// Diff returns handles whose presence or display name differs between the
// current snapshot and records. Callers use it to invalidate exactly the
// tenants a reload touched, including rotated-away handles.
func (m *Memory) Diff(records []Record) []handle.Handle {
	incoming := make(map[string]string, len(records))
	for _, rec := range records {
		incoming[strings.TrimSpace(rec.Handle)] = strings.TrimSpace(rec.DisplayName)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	var changed []handle.Handle
	for key, tenant := range m.tenants {
		if name, ok := incoming[key]; !ok || name != tenant.DisplayName {
			changed = append(changed, tenant.Handle)
		}
	}
	for key := range incoming {
		if _, ok := m.tenants[key]; ok {
			continue
		}
		if h, err := handle.Parse(key); err == nil {
			changed = append(changed, h)
		}
	}
	return changed
}
