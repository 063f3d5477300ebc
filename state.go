package loom

import (
	"strconv"
	"strings"
	"sync"
)

// Path addresses a value in a state tree: dot-joined map keys and decimal
// list indices, e.g. "items.2.title".
type Path string

// Child returns the path extended by a map key.
func (p Path) Child(key string) Path {
	if p == "" {
		return Path(key)
	}
	return p + "." + Path(key)
}

// Index returns the path extended by a list index.
func (p Path) Index(i int) Path {
	return p.Child(strconv.Itoa(i))
}

// contains reports whether other equals p or addresses a descendant of p.
func (p Path) contains(other Path) bool {
	if p == other {
		return true
	}
	return strings.HasPrefix(string(other), string(p)+".")
}

// ChangeKind classifies a state mutation.
type ChangeKind uint8

const (
	ChangeUpdate ChangeKind = iota // value replaced at Path
	ChangeAdd                      // list element inserted; Index is its position
	ChangeRemove                   // value deleted; Index set for list removals
)

// Change describes one applied state mutation. Watchers receive these after
// the mutation lands, at the tick boundary that applied it.
type Change struct {
	Kind  ChangeKind
	Path  Path
	Index int // list position for ChangeAdd/ChangeRemove, -1 otherwise
	Value Value
}

// State is a path-addressed value tree with coalesced writes. Mutations
// queue until the next tick boundary; evaluation then sees all of them at
// once. Writers may call the mutation methods from any goroutine; the tree
// itself is only touched when the owning tick loop applies the queue.
type State struct {
	mu       sync.Mutex
	root     *Map
	pending  []Change
	watchers map[int]func(Change)
	nextID   int
}

// NewState creates an empty state tree. Initial values can be seeded with
// the mutation methods; they are applied before the first evaluation pass.
func NewState() *State {
	return &State{root: NewMap(), watchers: map[int]func(Change){}}
}

// Set queues a write of value at path. Intermediate maps are created when
// the write is applied.
func (s *State) Set(path Path, value any) {
	s.queue(Change{Kind: ChangeUpdate, Path: path, Index: -1, Value: NewValue(value)})
}

// Delete queues removal of the value at path.
func (s *State) Delete(path Path) {
	s.queue(Change{Kind: ChangeRemove, Path: path, Index: -1})
}

// Push queues an append to the list at path, creating the list if absent.
func (s *State) Push(path Path, value any) {
	s.queue(Change{Kind: ChangeAdd, Path: path, Index: -1, Value: NewValue(value)})
}

// Insert queues a list insertion at the given index.
func (s *State) Insert(path Path, index int, value any) {
	s.queue(Change{Kind: ChangeAdd, Path: path, Index: index, Value: NewValue(value)})
}

// RemoveAt queues removal of the list element at the given index.
func (s *State) RemoveAt(path Path, index int) {
	s.queue(Change{Kind: ChangeRemove, Path: path, Index: index})
}

func (s *State) queue(c Change) {
	s.mu.Lock()
	s.pending = append(s.pending, c)
	s.mu.Unlock()
}

// Get reads the value at path from the applied tree. Queued writes are not
// visible until the next tick boundary.
func (s *State) Get(path Path) (Value, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return lookupPath(MapVal(s.root), path)
}

// Watch registers a callback invoked for every applied change. The returned
// function unsubscribes. Callbacks run on the tick loop.
func (s *State) Watch(fn func(Change)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID
	s.nextID++
	s.watchers[id] = fn
	return func() {
		s.mu.Lock()
		delete(s.watchers, id)
		s.mu.Unlock()
	}
}

// apply drains the pending queue into the tree and returns the applied
// changes. Called once per tick by the owner of the tree.
func (s *State) apply() []Change {
	s.mu.Lock()
	changes := s.pending
	s.pending = nil
	var fns []func(Change)
	if len(changes) > 0 {
		for _, fn := range s.watchers {
			fns = append(fns, fn)
		}
	}
	for i := range changes {
		s.applyOne(&changes[i])
	}
	s.mu.Unlock()

	for _, c := range changes {
		for _, fn := range fns {
			fn(c)
		}
	}
	return changes
}

// hasPending reports whether writes are waiting for the next tick.
func (s *State) hasPending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending) > 0
}

func (s *State) applyOne(c *Change) {
	switch c.Kind {
	case ChangeUpdate:
		parent, key, ok := s.walkTo(c.Path, true)
		if !ok {
			logger.Printf("state: dropped write to %s: path not addressable", c.Path)
			return
		}
		setIn(parent, key, c.Value)
	case ChangeRemove:
		if c.Index >= 0 {
			list := s.listAt(c.Path, false)
			if list == nil || c.Index >= len(list.items) {
				logger.Printf("state: dropped remove at %s[%d]", c.Path, c.Index)
				return
			}
			c.Value = list.items[c.Index]
			list.items = append(list.items[:c.Index], list.items[c.Index+1:]...)
			return
		}
		parent, key, ok := s.walkTo(c.Path, false)
		if !ok {
			return
		}
		deleteIn(parent, key)
	case ChangeAdd:
		list := s.listAt(c.Path, true)
		if list == nil {
			logger.Printf("state: dropped insert at %s: not a list", c.Path)
			return
		}
		if c.Index < 0 || c.Index > len(list.items) {
			c.Index = len(list.items)
			list.items = append(list.items, c.Value)
			return
		}
		list.items = append(list.items, Nil)
		copy(list.items[c.Index+1:], list.items[c.Index:])
		list.items[c.Index] = c.Value
	}
}

// walkTo resolves the parent container of path's final segment.
func (s *State) walkTo(path Path, create bool) (Value, string, bool) {
	segs := strings.Split(string(path), ".")
	cur := MapVal(s.root)
	for _, seg := range segs[:len(segs)-1] {
		next, ok := stepInto(cur, seg)
		if !ok {
			if !create || cur.Kind != MapValue {
				return Nil, "", false
			}
			child := MapVal(NewMap())
			cur.Map.entries[seg] = child
			next = child
		}
		cur = next
	}
	return cur, segs[len(segs)-1], true
}

// listAt resolves the list at path, optionally creating an empty one.
func (s *State) listAt(path Path, create bool) *List {
	v, ok := lookupPath(MapVal(s.root), path)
	if ok && v.Kind == ListValue {
		return v.List
	}
	if !ok && create {
		parent, key, ok := s.walkTo(path, true)
		if !ok {
			return nil
		}
		l := NewList()
		setIn(parent, key, ListVal(l))
		return l
	}
	return nil
}

func stepInto(v Value, seg string) (Value, bool) {
	switch v.Kind {
	case MapValue:
		return v.Map.At(seg)
	case ListValue:
		i, err := strconv.Atoi(seg)
		if err != nil {
			return Nil, false
		}
		return v.List.At(i)
	}
	return Nil, false
}

func setIn(parent Value, key string, value Value) {
	switch parent.Kind {
	case MapValue:
		parent.Map.entries[key] = value
	case ListValue:
		if i, err := strconv.Atoi(key); err == nil && i >= 0 && i < len(parent.List.items) {
			parent.List.items[i] = value
		}
	}
}

func deleteIn(parent Value, key string) {
	switch parent.Kind {
	case MapValue:
		delete(parent.Map.entries, key)
	case ListValue:
		if i, err := strconv.Atoi(key); err == nil && i >= 0 && i < len(parent.List.items) {
			parent.List.items = append(parent.List.items[:i], parent.List.items[i+1:]...)
		}
	}
}

// lookupPath walks a value tree along path.
func lookupPath(root Value, path Path) (Value, bool) {
	if path == "" {
		return root, true
	}
	cur := root
	for _, seg := range strings.Split(string(path), ".") {
		next, ok := stepInto(cur, seg)
		if !ok {
			return Nil, false
		}
		cur = next
	}
	return cur, true
}
