package session

import (
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/use-agent/browserbridge/apperrors"
	"github.com/use-agent/browserbridge/cdp"
)

// PageID is an opaque, process-unique identifier assigned at registration.
// It is never reused and stays stable across CDP rebinds of the same page.
type PageID string

// Metadata holds the observable facts about a page that change as it
// navigates.
type Metadata struct {
	URL   string
	Title string
}

// PageHandle is the registry's unit of ownership: the page reference
// belongs exclusively to the registry, the CDP client belongs exclusively
// to the handle, and a rebind swaps the client atomically.
type PageHandle struct {
	mu           sync.RWMutex
	PageID       PageID
	Page         cdp.PageRef
	client       cdp.Client
	CreatedAt    time.Time
	lastAccessed time.Time
	Metadata     Metadata
	hijack       *rod.HijackRouter
}

// Client returns the handle's current CDP client.
func (h *PageHandle) Client() cdp.Client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.client
}

// setClient atomically replaces the CDP client, used by rebind.
func (h *PageHandle) setClient(c cdp.Client) {
	h.mu.Lock()
	h.client = c
	h.mu.Unlock()
}

// setPage atomically replaces the page reference, used by rebind once it
// has attached a fresh session to the same target.
func (h *PageHandle) setPage(p cdp.PageRef) {
	h.mu.Lock()
	h.Page = p
	h.mu.Unlock()
}

// LastAccessed returns the MRU timestamp.
func (h *PageHandle) LastAccessed() time.Time {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.lastAccessed
}

func (h *PageHandle) touch() {
	h.mu.Lock()
	h.lastAccessed = time.Now()
	h.mu.Unlock()
}

func (h *PageHandle) setMetadata(m Metadata) {
	h.mu.Lock()
	h.Metadata = m
	h.mu.Unlock()
}

func (h *PageHandle) setHijack(r *rod.HijackRouter) {
	h.mu.Lock()
	h.hijack = r
	h.mu.Unlock()
}

// stopHijack tears down the page's request interceptor, if one is running.
func (h *PageHandle) stopHijack() {
	h.mu.Lock()
	r := h.hijack
	h.hijack = nil
	h.mu.Unlock()
	if r != nil {
		r.Stop()
	}
}

// PageRegistry maps page identifiers to handles and tracks MRU order. It
// is mutated only from the session plane (spec §5).
type PageRegistry struct {
	mu    sync.RWMutex
	pages map[PageID]*PageHandle
}

func newPageRegistry() *PageRegistry {
	return &PageRegistry{pages: make(map[PageID]*PageHandle)}
}

func (r *PageRegistry) put(h *PageHandle) {
	r.mu.Lock()
	r.pages[h.PageID] = h
	r.mu.Unlock()
}

func (r *PageRegistry) get(id PageID) (*PageHandle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.pages[id]
	return h, ok
}

func (r *PageRegistry) remove(id PageID) {
	r.mu.Lock()
	delete(r.pages, id)
	r.mu.Unlock()
}

func (r *PageRegistry) mostRecentlyUsed() (*PageHandle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var best *PageHandle
	for _, h := range r.pages {
		if best == nil || h.LastAccessed().After(best.LastAccessed()) {
			best = h
		}
	}
	return best, best != nil
}

func (r *PageRegistry) clear() []*PageHandle {
	r.mu.Lock()
	defer r.mu.Unlock()
	all := make([]*PageHandle, 0, len(r.pages))
	for _, h := range r.pages {
		all = append(all, h)
	}
	r.pages = make(map[PageID]*PageHandle)
	return all
}

func (r *PageRegistry) resolve(id PageID) (*PageHandle, error) {
	if id != "" {
		h, ok := r.get(id)
		if !ok {
			return nil, apperrors.New(apperrors.CodePageNotFound, "page_id not registered").WithDetail("page_id", string(id))
		}
		return h, nil
	}
	h, ok := r.mostRecentlyUsed()
	if !ok {
		return nil, apperrors.New(apperrors.CodePageNotFound, "no pages registered")
	}
	return h, nil
}
