// Package peer manages the client-side WebRTC sessions between a host and
// its guests, negotiated over the signaling relay.
package peer

import (
	"sort"
	"sync"

	"github.com/rs/zerolog/log"
)

type Closer interface {
	Close() error
}

// Index maps a remote identity to its connection handle. Handles leaving the
// index are closed.
type Index[C Closer] struct {
	mu    sync.Mutex
	conns map[string]C
}

func NewIndex[C Closer]() *Index[C] {
	return &Index[C]{conns: make(map[string]C)}
}

// Put stores c under id, closing the handle it replaces.
func (i *Index[C]) Put(id string, c C) {
	i.mu.Lock()
	old, ok := i.conns[id]
	i.conns[id] = c
	i.mu.Unlock()

	if ok && Closer(old) != Closer(c) {
		closeQuietly(id, old)
	}
}

func (i *Index[C]) Get(id string) (C, bool) {
	i.mu.Lock()
	defer i.mu.Unlock()
	c, ok := i.conns[id]
	return c, ok
}

// Remove closes and forgets the handle of id. It reports whether one existed.
func (i *Index[C]) Remove(id string) bool {
	i.mu.Lock()
	c, ok := i.conns[id]
	delete(i.conns, id)
	i.mu.Unlock()

	if ok {
		closeQuietly(id, c)
	}
	return ok
}

func (i *Index[C]) CloseAll() {
	i.mu.Lock()
	conns := i.conns
	i.conns = make(map[string]C)
	i.mu.Unlock()

	for id, c := range conns {
		closeQuietly(id, c)
	}
}

func (i *Index[C]) Len() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return len(i.conns)
}

// IDs returns the indexed identities in sorted order.
func (i *Index[C]) IDs() []string {
	i.mu.Lock()
	ids := make([]string, 0, len(i.conns))
	for id := range i.conns {
		ids = append(ids, id)
	}
	i.mu.Unlock()

	sort.Strings(ids)
	return ids
}

func closeQuietly(id string, c Closer) {
	if err := c.Close(); err != nil {
		log.Warn().Err(err).Str("module", "peer").Str("peer", id).Msg("close error")
	}
}
