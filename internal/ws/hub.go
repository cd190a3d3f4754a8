package ws

import (
	"context"
	"sync"
)

// subscriberQueue bounds how far a subscriber may lag before it is evicted.
const subscriberQueue = 32

// Subscriber abstracts a streaming client.
type Subscriber interface {
	Send([]byte) error
	Close()
}

// Hub fans deployment events out to the streams of their owner. Each
// subscriber is written by its own goroutine, so a stalled stream only
// loses its own events.
type Hub struct {
	register  chan subscription
	unreg     chan subscription
	broadcast chan message
	done      chan struct{}

	mu     sync.RWMutex
	counts map[string]int
}

type message struct {
	ownerID string
	payload []byte
}

type subscription struct {
	ownerID string
	client  Subscriber
}

// outbox is the hub-side state of one subscriber.
type outbox struct {
	queue chan []byte
}

// NewHub starts a hub that runs until ctx is done.
func NewHub(ctx context.Context) *Hub {
	h := &Hub{
		register:  make(chan subscription),
		unreg:     make(chan subscription),
		broadcast: make(chan message, 64),
		done:      make(chan struct{}),
		counts:    make(map[string]int),
	}
	go h.run(ctx)
	return h
}

func (h *Hub) run(ctx context.Context) {
	clients := make(map[string]map[Subscriber]*outbox)
	// drop forgets c and runs shut, which is asynchronous inside the loop
	// so a client stuck mid-write cannot hold it up.
	drop := func(ownerID string, c Subscriber, shut func()) {
		set, ok := clients[ownerID]
		if !ok {
			return
		}
		if box, ok := set[c]; ok {
			close(box.queue)
			delete(set, c)
			shut()
		}
		h.setCount(ownerID, len(set))
		if len(set) == 0 {
			delete(clients, ownerID)
		}
	}
	defer func() {
		for owner, set := range clients {
			for c := range set {
				drop(owner, c, c.Close)
			}
		}
		close(h.done)
	}()
	for {
		select {
		case <-ctx.Done():
			return
		case sub := <-h.register:
			if _, ok := clients[sub.ownerID]; !ok {
				clients[sub.ownerID] = make(map[Subscriber]*outbox)
			}
			box := &outbox{queue: make(chan []byte, subscriberQueue)}
			clients[sub.ownerID][sub.client] = box
			h.setCount(sub.ownerID, len(clients[sub.ownerID]))
			go h.write(sub, box.queue)
		case sub := <-h.unreg:
			drop(sub.ownerID, sub.client, func() { go sub.client.Close() })
		case msg := <-h.broadcast:
			for c, box := range clients[msg.ownerID] {
				select {
				case box.queue <- msg.payload:
				default:
					// too far behind; the client reconnects and lists /events
					drop(msg.ownerID, c, func() { go c.Close() })
				}
			}
		}
	}
}

// write drains one subscriber's queue. A failed send closes the client and
// asks the hub to forget it.
func (h *Hub) write(sub subscription, queue <-chan []byte) {
	failed := false
	for payload := range queue {
		if failed {
			continue
		}
		if err := sub.client.Send(payload); err != nil {
			failed = true
			sub.client.Close()
			go h.Unregister(sub.ownerID, sub.client)
		}
	}
}

func (h *Hub) setCount(ownerID string, n int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if n == 0 {
		delete(h.counts, ownerID)
		return
	}
	h.counts[ownerID] = n
}

// Register adds a client to the owner's stream.
func (h *Hub) Register(ownerID string, client Subscriber) {
	select {
	case h.register <- subscription{ownerID: ownerID, client: client}:
	case <-h.done:
		client.Close()
	}
}

// Unregister removes a client.
func (h *Hub) Unregister(ownerID string, client Subscriber) {
	select {
	case h.unreg <- subscription{ownerID: ownerID, client: client}:
	case <-h.done:
	}
}

// Broadcast queues payload for every client of ownerID. It drops the
// payload once the hub has stopped.
func (h *Hub) Broadcast(ownerID string, payload []byte) {
	select {
	case h.broadcast <- message{ownerID: ownerID, payload: payload}:
	case <-h.done:
	}
}

// Subscribers reports how many clients ownerID has connected.
func (h *Hub) Subscribers(ownerID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.counts[ownerID]
}

// Done is closed after the hub stops.
func (h *Hub) Done() <-chan struct{} {
	return h.done
}
