// Package sse provides Server-Sent Events client management for real-time communication.
package sse

import (
	"fmt"
	"io"
	"strings"
	"sync"
)

// Message is one SSE frame.
type Message struct {
	Event string
	Data  string
}

// WriteTo writes m in text/event-stream framing.
func (m Message) WriteTo(w io.Writer) (int64, error) {
	var b strings.Builder
	if m.Event != "" {
		fmt.Fprintf(&b, "event: %s\n", m.Event)
	}
	for _, line := range strings.Split(m.Data, "\n") {
		fmt.Fprintf(&b, "data: %s\n", line)
	}
	b.WriteString("\n")

	n, err := io.WriteString(w, b.String())
	return int64(n), err
}

type Client struct {
	Msg   chan Message
	Topic string
}

func NewClient(topic string, buffer int) *Client {
	return &Client{Msg: make(chan Message, buffer), Topic: topic}
}

type SSEClients struct {
	clients map[*Client]bool
	mu      sync.RWMutex
}

func NewSSEClients() *SSEClients {
	return &SSEClients{
		clients: make(map[*Client]bool),
	}
}

func (s *SSEClients) Add(client *Client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clients[client] = true
}

// Delete removes client and closes its channel. Deleting twice is a no-op.
func (s *SSEClients) Delete(client *Client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.clients[client] {
		return
	}
	delete(s.clients, client)
	close(client.Msg)
}

// CloseTopic disconnects every client subscribed to topic.
func (s *SSEClients) CloseTopic(topic string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for client := range s.clients {
		if client.Topic == topic {
			delete(s.clients, client)
			close(client.Msg)
		}
	}
}

func (s *SSEClients) Count(topic string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for client := range s.clients {
		if client.Topic == topic {
			n++
		}
	}
	return n
}

// Broadcast never blocks; slow clients miss messages.
func (s *SSEClients) Broadcast(topic string, msg Message) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for client := range s.clients {
		if client.Topic == topic {
			select {
			case client.Msg <- msg:
			default:
			}
		}
	}
}
