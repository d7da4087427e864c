// internal/registry/registry.go
package registry

import (
	"sync"

	appErrors "github.com/unclebandit/reminder-mailer/internal/errors"
	"github.com/unclebandit/reminder-mailer/internal/model"
)

// Registry is the editable, pre-dispatch recipient list. Emails are unique.
type Registry struct {
	mu    sync.Mutex
	items []model.Recipient
}

func New() *Registry {
	return &Registry{}
}

// Add appends a recipient unless its email is already present.
func (r *Registry) Add(rec model.Recipient) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.items {
		if existing.Email == rec.Email {
			return appErrors.NewDuplicateRecipient(rec.Email)
		}
	}
	r.items = append(r.items, rec)
	return nil
}

// Remove deletes the entry at index. A negative (empty) selection or an
// out-of-range index is a no-op.
func (r *Registry) Remove(index int) (model.Recipient, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return removeAt(&r.items, index)
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.items)
}

// Items returns a copy in insertion order.
func (r *Registry) Items() []model.Recipient {
	r.mu.Lock()
	defer r.mu.Unlock()
	return clone(r.items)
}

func (r *Registry) Options() []string {
	return labels(r.Items())
}

// Drain returns every recipient and empties the registry.
func (r *Registry) Drain() []model.Recipient {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.items
	r.items = nil
	return out
}

// Restore puts recipients back at the front of the list, keeping their order.
// Emails added in the meantime win; their earlier copies are dropped.
func (r *Registry) Restore(recs []model.Recipient) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	present := make(map[string]struct{}, len(r.items))
	for _, existing := range r.items {
		present[existing.Email] = struct{}{}
	}
	back := make([]model.Recipient, 0, len(recs)+len(r.items))
	for _, rec := range recs {
		if _, dup := present[rec.Email]; dup {
			continue
		}
		present[rec.Email] = struct{}{}
		back = append(back, rec)
	}
	r.items = append(back, r.items...)
	return len(back)
}

func removeAt(items *[]model.Recipient, index int) (model.Recipient, bool) {
	if index < 0 || index >= len(*items) {
		return model.Recipient{}, false
	}
	rec := (*items)[index]
	*items = append((*items)[:index], (*items)[index+1:]...)
	return rec, true
}

func clone(items []model.Recipient) []model.Recipient {
	out := make([]model.Recipient, len(items))
	copy(out, items)
	return out
}

func labels(items []model.Recipient) []string {
	out := make([]string, len(items))
	for i, rec := range items {
		out[i] = rec.Label()
	}
	return out
}
