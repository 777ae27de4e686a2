package client

import (
	"fmt"
	"net/url"
	"sync"
)

// DeepLink es un <scheme>://oauth/complete?state=...[&code=...][&error=...] parseado.
type DeepLink struct {
	State string
	Code  string
	Error string
}

// ParseDeepLink acepta cualquier scheme; solo mira la query.
func ParseDeepLink(raw string) (DeepLink, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return DeepLink{}, fmt.Errorf("client: parse deep link: %w", err)
	}
	q := u.Query()
	dl := DeepLink{State: q.Get("state"), Code: q.Get("code"), Error: q.Get("error")}
	if dl.State == "" && dl.Code == "" && dl.Error == "" {
		return DeepLink{}, fmt.Errorf("client: deep link without oauth parameters")
	}
	return dl, nil
}

// Hub es un DeepLinkSource en memoria: Publish reparte a todos los suscriptores.
// Lo usan el listener loopback del CLI y los tests.
type Hub struct {
	mu   sync.Mutex
	next int
	subs map[int]chan string
}

// NewHub crea un hub vacío.
func NewHub() *Hub { return &Hub{subs: map[int]chan string{}} }

// Subscribe implementa DeepLinkSource.
func (h *Hub) Subscribe() (<-chan string, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	id := h.next
	h.next++
	ch := make(chan string, 4)
	h.subs[id] = ch
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			h.mu.Unlock()
		})
	}
}

// Publish no bloquea: si un suscriptor tiene el buffer lleno el link se descarta para él.
func (h *Hub) Publish(raw string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.subs {
		select {
		case ch <- raw:
		default:
		}
	}
}

// Subscribers devuelve la cantidad de suscripciones vivas.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}
