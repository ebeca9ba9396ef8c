// Package registry owns the device sessions of a running application, keyed by
// their local identifier and iterated in ascending identifier order.
package registry

import (
	"errors"
	"fmt"
	"strings"

	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/srg/flowmon/internal/session"
)

var (
	ErrDuplicateAddress = errors.New("device already added")
	ErrUnknownDevice    = errors.New("unknown device")
)

// Palette is the fixed color cycle assigned to new sessions.
var Palette = []string{
	"#1f77b4", "#ff7f0e", "#2ca02c", "#d62728", "#9467bd",
	"#8c564b", "#e377c2", "#7f7f7f", "#bcbd22", "#17becf",
}

// Registry is the session arena. It is owned by the UI loop.
type Registry struct {
	sessions *orderedmap.OrderedMap[int, *session.Session]
	nextID   int
	colorIdx int
	capacity int
}

// New creates an empty registry; sessions get sample buffers of the given capacity.
func New(capacity int) *Registry {
	return &Registry{
		sessions: orderedmap.New[int, *session.Session](),
		nextID:   1,
		capacity: capacity,
	}
}

// Add creates a session for address. Identifiers and colors are never reused.
// Addresses compare case-insensitively.
func (r *Registry) Add(name, address string) (*session.Session, error) {
	if existing := r.ByAddress(address); existing != nil {
		return nil, fmt.Errorf("%w: %s is open as #%d", ErrDuplicateAddress, address, existing.ID())
	}
	if strings.TrimSpace(name) == "" {
		name = address
	}

	color := Palette[r.colorIdx%len(Palette)]
	r.colorIdx++

	s := session.New(r.nextID, name, address, color, r.capacity)
	r.sessions.Set(r.nextID, s)
	r.nextID++
	return s, nil
}

// Get returns the session with the given identifier.
func (r *Registry) Get(id int) (*session.Session, error) {
	s, ok := r.sessions.Get(id)
	if !ok {
		return nil, fmt.Errorf("%w: #%d", ErrUnknownDevice, id)
	}
	return s, nil
}

// Has reports whether id is still registered.
func (r *Registry) Has(id int) bool {
	_, ok := r.sessions.Get(id)
	return ok
}

// ByAddress returns the session for address, or nil.
func (r *Registry) ByAddress(address string) *session.Session {
	for pair := r.sessions.Oldest(); pair != nil; pair = pair.Next() {
		if strings.EqualFold(pair.Value.Address(), address) {
			return pair.Value
		}
	}
	return nil
}

// Remove drops a session. Removing an unknown id is an error.
func (r *Registry) Remove(id int) error {
	if _, ok := r.sessions.Delete(id); !ok {
		return fmt.Errorf("%w: #%d", ErrUnknownDevice, id)
	}
	return nil
}

func (r *Registry) Len() int {
	return r.sessions.Len()
}

// All returns every session in ascending identifier order.
func (r *Registry) All() []*session.Session {
	out := make([]*session.Session, 0, r.sessions.Len())
	for pair := r.sessions.Oldest(); pair != nil; pair = pair.Next() {
		out = append(out, pair.Value)
	}
	return out
}

// Connected returns the sessions whose link is up, in ascending identifier order.
func (r *Registry) Connected() []*session.Session {
	var out []*session.Session
	for pair := r.sessions.Oldest(); pair != nil; pair = pair.Next() {
		if pair.Value.IsConnected() {
			out = append(out, pair.Value)
		}
	}
	return out
}

// ConnectedIDs is the identifier set used to detect connected-set changes.
func (r *Registry) ConnectedIDs() []int {
	var ids []int
	for _, s := range r.Connected() {
		ids = append(ids, s.ID())
	}
	return ids
}

// Snapshots copies every session in ascending identifier order.
func (r *Registry) Snapshots() []session.Snapshot {
	all := r.All()
	out := make([]session.Snapshot, len(all))
	for i, s := range all {
		out[i] = s.Snapshot()
	}
	return out
}
