package main

import (
	"sync"

	"github.com/google/uuid"
)

// boardHub fans rendered board fragments out to browser streams. Each
// listener only ever holds the latest fragment.
type boardHub struct {
	mu        sync.Mutex
	latest    string
	listeners map[string]chan string
}

func newBoardHub() *boardHub {
	return &boardHub{listeners: make(map[string]chan string)}
}

func (h *boardHub) Subscribe() (string, <-chan string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	id := uuid.NewString()
	ch := make(chan string, 1)
	if h.latest != "" {
		ch <- h.latest
	}
	h.listeners[id] = ch
	return id, ch
}

func (h *boardHub) Unsubscribe(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.listeners, id)
}

func (h *boardHub) Publish(fragment string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.latest = fragment
	for _, ch := range h.listeners {
		select {
		case <-ch:
		default:
		}
		ch <- fragment
	}
}

func (h *boardHub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.listeners)
}
