package memory

import (
	"github.com/drfirst/rxledger/internal/domain"
)

// table holds committed rows of one entity kind in insertion order.
type table[T any] struct {
	name    string
	rows    map[string]T
	order   []string
	clone   func(T) T
	version func(T) int
}

func newTable[T any](name string, clone func(T) T, version func(T) int) *table[T] {
	if clone == nil {
		clone = func(v T) T { return v }
	}
	return &table[T]{name: name, rows: map[string]T{}, clone: clone, version: version}
}

func (t *table[T]) put(id string, v T) {
	if _, ok := t.rows[id]; !ok {
		t.order = append(t.order, id)
	}
	t.rows[id] = t.clone(v)
}

func (t *table[T]) remove(id string) {
	if _, ok := t.rows[id]; !ok {
		return
	}
	delete(t.rows, id)
	for i, o := range t.order {
		if o == id {
			t.order = append(t.order[:i:i], t.order[i+1:]...)
			break
		}
	}
}

// staged is a unit's private overlay on a table. Reads see the unit's own
// writes; nothing reaches the table until apply.
type staged[T any] struct {
	base     *table[T]
	read     func(func())
	writes   map[string]T
	deleted  map[string]bool
	inserted []string
	fresh    map[string]bool
	expect   map[string]int
}

func newStaged[T any](base *table[T], read func(func())) *staged[T] {
	return &staged[T]{
		base:    base,
		read:    read,
		writes:  map[string]T{},
		deleted: map[string]bool{},
		fresh:   map[string]bool{},
		expect:  map[string]int{},
	}
}

func (s *staged[T]) current(id string) (T, bool) {
	var zero T
	if s.deleted[id] {
		return zero, false
	}
	if v, ok := s.writes[id]; ok {
		return v, true
	}
	var (
		v  T
		ok bool
	)
	s.read(func() { v, ok = s.base.rows[id] })
	if !ok {
		return zero, false
	}
	return v, true
}

func (s *staged[T]) get(op, id string) (T, error) {
	v, ok := s.current(id)
	if !ok {
		var zero T
		return zero, domain.NotFound(op, s.base.name, id)
	}
	return s.base.clone(v), nil
}

func (s *staged[T]) list(keep func(T) bool) []T {
	var ids []string
	s.read(func() { ids = append(ids, s.base.order...) })
	ids = append(ids, s.inserted...)

	out := make([]T, 0, len(ids))
	for _, id := range ids {
		v, ok := s.current(id)
		if !ok {
			continue
		}
		if keep == nil || keep(v) {
			out = append(out, s.base.clone(v))
		}
	}
	return out
}

func (s *staged[T]) insert(op, id string, v T) error {
	if id == "" {
		return domain.Invalid(op, "%s id is required", s.base.name)
	}
	if _, ok := s.current(id); ok {
		return domain.Conflict(op, "%s %q already exists", s.base.name, id)
	}
	delete(s.deleted, id)
	s.writes[id] = s.base.clone(v)
	s.inserted = append(s.inserted, id)
	s.fresh[id] = true
	return nil
}

// update replaces a row. For versioned tables expect must equal the current
// version.
func (s *staged[T]) update(op, id string, v T, expect int) error {
	cur, ok := s.current(id)
	if !ok {
		return domain.NotFound(op, s.base.name, id)
	}
	if s.base.version != nil {
		if s.base.version(cur) != expect {
			return domain.E(op, domain.ErrVersionConflict)
		}
		if _, seen := s.expect[id]; !seen && !s.fresh[id] {
			s.expect[id] = expect
		}
	}
	s.writes[id] = s.base.clone(v)
	return nil
}

func (s *staged[T]) delete(op, id string) error {
	if _, ok := s.current(id); !ok {
		return domain.NotFound(op, s.base.name, id)
	}
	delete(s.writes, id)
	s.deleted[id] = true
	return nil
}

// check verifies no other unit changed a row this unit updated. Called with
// the store write lock held.
func (s *staged[T]) check() error {
	for id, want := range s.expect {
		cur, ok := s.base.rows[id]
		if !ok || s.base.version(cur) != want {
			return domain.Detail("memory.commit", domain.ErrVersionConflict, "%s %q", s.base.name, id)
		}
	}
	return nil
}

// apply publishes the overlay. Called with the store write lock held.
func (s *staged[T]) apply() {
	for id := range s.deleted {
		s.base.remove(id)
	}
	for _, id := range s.inserted {
		if v, ok := s.writes[id]; ok {
			s.base.put(id, v)
			delete(s.writes, id)
		}
	}
	for id, v := range s.writes {
		s.base.put(id, v)
	}
}

type overlay interface {
	check() error
	apply()
}
