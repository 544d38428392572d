package whiteboard

import (
	"errors"
	"fmt"
	"sort"
)

var ErrBucketOverlap = errors.New("record id in more than one bucket")

// Update carries both sides of a record change.
type Update struct {
	From Record `json:"from"`
	To   Record `json:"to"`
}

// Change is one batch of document mutations. A record id appears in at
// most one of the buckets.
type Change struct {
	Added   map[string]Record `json:"added,omitempty"`
	Updated map[string]Update `json:"updated,omitempty"`
	Removed []string          `json:"removed,omitempty"`
}

func NewChange() Change {
	return Change{Added: map[string]Record{}, Updated: map[string]Update{}}
}

func (c *Change) init() {
	if c.Added == nil {
		c.Added = map[string]Record{}
	}
	if c.Updated == nil {
		c.Updated = map[string]Update{}
	}
}

func (c Change) Empty() bool { return len(c.Added) == 0 && len(c.Updated) == 0 && len(c.Removed) == 0 }

func (c Change) Size() int { return len(c.Added) + len(c.Updated) + len(c.Removed) }

// Validate checks the bucket invariant and every carried record.
func (c Change) Validate() error {
	seen := make(map[string]struct{}, c.Size())
	for id, r := range c.Added {
		if r.Id != id {
			return fmt.Errorf("%w: added key %v holds %v", ErrInvalidRecord, id, r.Id)
		}
		if err := r.Validate(); err != nil {
			return err
		}
		seen[id] = struct{}{}
	}
	for id, u := range c.Updated {
		if _, ok := seen[id]; ok {
			return fmt.Errorf("%w: %v", ErrBucketOverlap, id)
		}
		if u.To.Id != id {
			return fmt.Errorf("%w: updated key %v holds %v", ErrInvalidRecord, id, u.To.Id)
		}
		if err := u.To.Validate(); err != nil {
			return err
		}
		seen[id] = struct{}{}
	}
	for _, id := range c.Removed {
		if _, ok := seen[id]; ok {
			return fmt.Errorf("%w: %v", ErrBucketOverlap, id)
		}
		seen[id] = struct{}{}
	}
	return nil
}

// Squash merges next into c as if both were applied one after another.
// The result still satisfies the bucket invariant.
func (c Change) Squash(next Change) Change {
	out := c.Clone()
	out.init()
	removed := make(map[string]struct{}, len(out.Removed))
	for _, id := range out.Removed {
		removed[id] = struct{}{}
	}

	for id, r := range next.Added {
		if _, ok := removed[id]; ok {
			// remove then add
			delete(removed, id)
			out.Updated[id] = Update{From: r, To: r}
			continue
		}
		if u, ok := out.Updated[id]; ok {
			out.Updated[id] = Update{From: u.From, To: r}
			continue
		}
		out.Added[id] = r
	}
	for id, u := range next.Updated {
		if _, ok := out.Added[id]; ok {
			out.Added[id] = u.To
			continue
		}
		if prev, ok := out.Updated[id]; ok {
			out.Updated[id] = Update{From: prev.From, To: u.To}
			continue
		}
		delete(removed, id)
		out.Updated[id] = u
	}
	for _, id := range next.Removed {
		if _, ok := out.Added[id]; ok {
			delete(out.Added, id)
			continue
		}
		delete(out.Updated, id)
		removed[id] = struct{}{}
	}

	out.Removed = sortedKeys(removed)
	return out
}

func (c Change) Clone() Change {
	out := Change{
		Added:   make(map[string]Record, len(c.Added)),
		Updated: make(map[string]Update, len(c.Updated)),
	}
	for k, v := range c.Added {
		out.Added[k] = v
	}
	for k, v := range c.Updated {
		out.Updated[k] = v
	}
	if len(c.Removed) > 0 {
		out.Removed = append([]string(nil), c.Removed...)
	}
	return out
}

func sortedKeys(m map[string]struct{}) []string {
	if len(m) == 0 {
		return nil
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
