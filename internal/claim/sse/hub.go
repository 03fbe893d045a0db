// Package sse fans claim changes out to connected browsers.
package sse

import (
	"encoding/json"
	"sync"

	"github.com/ballggwp/eclaim/internal/claim/entity"
	"github.com/ballggwp/eclaim/internal/claim/workflow"
	"go.uber.org/zap"
)

// EventClaimUpdate is the event name pushed on every claim change.
const EventClaimUpdate = "claim_update"

// Event represents a Server-Sent Event
type Event struct {
	EventType string `json:"event"`
	Data      string `json:"data"`
}

// Client represents a connected SSE client
type Client struct {
	ID     string
	Actor  workflow.Actor
	Events chan Event
}

// Hub manages all SSE client connections
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client
	logger  *zap.Logger
}

// NewHub creates a new SSE Hub
func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		clients: make(map[string]*Client),
		logger:  logger,
	}
}

// Register adds a new client to the hub
func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[client.ID] = client
	h.logger.Debug("SSE client registered",
		zap.String("client_id", client.ID),
		zap.String("user_id", client.Actor.ID),
		zap.Int("total", len(h.clients)))
}

// Unregister removes a client from the hub
func (h *Hub) Unregister(clientID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if client, ok := h.clients[clientID]; ok {
		close(client.Events)
		delete(h.clients, clientID)
		h.logger.Debug("SSE client unregistered", zap.String("client_id", clientID), zap.Int("total", len(h.clients)))
	}
}

// Count returns the number of connected clients.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ClaimUpdate is the payload of a claim_update event.
type ClaimUpdate struct {
	ClaimID string        `json:"claim_id"`
	DocNum  string        `json:"doc_num"`
	Status  entity.Status `json:"status"`
	Action  string        `json:"action"`
}

// PublishClaim pushes a claim_update to every client allowed to read c.
func (h *Hub) PublishClaim(c *entity.Claim, action string) {
	data, _ := json.Marshal(ClaimUpdate{ClaimID: c.ID, DocNum: c.DocNum, Status: c.Status, Action: action})
	event := Event{EventType: EventClaimUpdate, Data: string(data)}

	h.mu.RLock()
	defer h.mu.RUnlock()
	sent := 0
	for _, client := range h.clients {
		if !workflow.CanView(client.Actor, c) {
			continue
		}
		select {
		case client.Events <- event:
			sent++
		default:
			h.logger.Warn("SSE client buffer full, skipping event", zap.String("client_id", client.ID))
		}
	}
	h.logger.Debug("Published claim_update",
		zap.String("claim_id", c.ID),
		zap.String("action", action),
		zap.Int("receivers", sent))
}
