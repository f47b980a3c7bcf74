package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/learnwatch/attention-monitor/internal/domain/monitoring"
	"github.com/learnwatch/attention-monitor/internal/domain/shared"
)

// Journal keeps journal entries for the lifetime of the process.
type Journal struct {
	mu      sync.RWMutex
	entries []monitoring.JournalEntry
}

var _ monitoring.JournalRepository = (*Journal)(nil)

// NewJournal creates an empty journal.
func NewJournal() *Journal {
	return &Journal{}
}

// Save stores a copy of entry, assigning an id when missing. Saving an
// existing id replaces the stored entry.
func (j *Journal) Save(_ context.Context, entry *monitoring.JournalEntry) error {
	if entry == nil || !entry.StudentID.IsValid() || !entry.ResourceID.IsValid() {
		return shared.NewDomainError("journal", "Save", shared.ErrInvalidInput, "entry needs a student and a resource")
	}
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	cp := *entry
	if entry.Combined != nil {
		v := *entry.Combined
		cp.Combined = &v
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	for i := range j.entries {
		if j.entries[i].ID == cp.ID {
			j.entries[i] = cp
			return nil
		}
	}
	j.entries = append(j.entries, cp)
	return nil
}

// ListByStudent returns the newest entries first.
func (j *Journal) ListByStudent(_ context.Context, student shared.StudentID, limit int) ([]*monitoring.JournalEntry, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	var out []*monitoring.JournalEntry
	for i := range j.entries {
		if j.entries[i].StudentID == student {
			e := j.entries[i]
			out = append(out, &e)
		}
	}
	sort.SliceStable(out, func(a, b int) bool { return out[a].StartedAt.After(out[b].StartedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
