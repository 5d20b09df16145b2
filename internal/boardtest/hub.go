package boardtest

// hub maintains the set of connected websocket clients and fans broadcasts out to
// them. run is the only goroutine that touches clients or writes to a client's
// send channel.
type hub struct {
	clients map[*wsClient]bool

	broadcast  chan envelope
	direct     chan directMessage
	register   chan *wsClient
	unregister chan *wsClient
	drop       chan struct{}
	count      chan chan int
	quit       chan struct{}
}

// directMessage is a unicast, e.g. chat_history to the client that just joined.
type directMessage struct {
	client  *wsClient
	payload envelope
}

func newHub() *hub {
	return &hub{
		clients:    make(map[*wsClient]bool),
		broadcast:  make(chan envelope),
		direct:     make(chan directMessage),
		register:   make(chan *wsClient),
		unregister: make(chan *wsClient),
		drop:       make(chan struct{}),
		count:      make(chan chan int),
		quit:       make(chan struct{}),
	}
}

func (h *hub) run() {
	for {
		select {
		case client := <-h.register:
			h.clients[client] = true

		case client := <-h.unregister:
			h.remove(client)

		case message := <-h.broadcast:
			for client := range h.clients {
				h.deliver(client, message)
			}

		case dm := <-h.direct:
			if h.clients[dm.client] {
				h.deliver(dm.client, dm.payload)
			}

		case <-h.drop:
			// Closing the socket makes readPump unregister the client.
			for client := range h.clients {
				client.conn.Close()
			}

		case reply := <-h.count:
			reply <- len(h.clients)

		case <-h.quit:
			for client := range h.clients {
				h.remove(client)
				client.conn.Close()
			}
			return
		}
	}
}

func (h *hub) deliver(client *wsClient, message envelope) {
	select {
	case client.send <- message:
	default:
		// Slow consumer: cut it loose rather than stall everyone else.
		h.remove(client)
	}
}

func (h *hub) remove(client *wsClient) {
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.send) // Stops the writePump
	}
}

// The methods below are safe to call after the hub stopped.

func (h *hub) Broadcast(message envelope) {
	select {
	case h.broadcast <- message:
	case <-h.quit:
	}
}

func (h *hub) Direct(client *wsClient, message envelope) {
	select {
	case h.direct <- directMessage{client: client, payload: message}:
	case <-h.quit:
	}
}

func (h *hub) Register(client *wsClient) bool {
	select {
	case h.register <- client:
		return true
	case <-h.quit:
		return false
	}
}

func (h *hub) Unregister(client *wsClient) {
	select {
	case h.unregister <- client:
	case <-h.quit:
	}
}

func (h *hub) Drop() {
	select {
	case h.drop <- struct{}{}:
	case <-h.quit:
	}
}

func (h *hub) Count() int {
	reply := make(chan int, 1)
	select {
	case h.count <- reply:
		return <-reply
	case <-h.quit:
		return 0
	}
}

func (h *hub) Stop() {
	close(h.quit)
}
