// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package stimulus

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const writeWait = 2 * time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // headset page is served from the same box
	},
}

// Action is a request sent by a connected page.
type Action struct {
	Action string `json:"action"` // start, cancel, advance, calibrate
	UserID string `json:"user_id,omitempty"`
}

type client struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

// Hub is a Sink that broadcasts commands to every connected websocket
// client. The last scene command is replayed to clients that connect late.
type Hub struct {
	log     *zap.Logger
	actions chan Action

	mu      sync.Mutex
	clients map[*client]struct{}
	scene   *Command
	offset  *Command
}

// NewHub creates a hub. Incoming page actions are delivered on Actions.
func NewHub(log *zap.Logger) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	return &Hub{
		log:     log,
		actions: make(chan Action, 16),
		clients: make(map[*client]struct{}),
	}
}

// Actions returns the channel of page actions.
func (h *Hub) Actions() <-chan Action { return h.actions }

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Send broadcasts cmd. Clients that fail to receive it are dropped.
func (h *Hub) Send(cmd Command) {
	h.mu.Lock()
	switch cmd.Type {
	case CmdOffset:
		c := cmd
		h.offset = &c
	case CmdStage, CmdResult:
	default:
		c := cmd
		h.scene = &c
	}
	targets := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		targets = append(targets, c)
	}
	h.mu.Unlock()

	for _, c := range targets {
		if err := c.write(cmd); err != nil {
			h.log.Warn("stimulus: websocket write error, dropping client", zap.Error(err))
			h.drop(c)
		}
	}
}

func (c *client) write(cmd Command) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteJSON(cmd)
}

func (h *Hub) drop(c *client) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	h.mu.Unlock()
	if ok {
		c.conn.Close()
	}
}

// ServeHTTP upgrades the request and keeps the client until it
// disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("stimulus: websocket upgrade error", zap.Error(err))
		return
	}
	c := &client{conn: conn}

	h.mu.Lock()
	var replay []Command
	if h.scene != nil {
		replay = append(replay, *h.scene)
	}
	if h.offset != nil {
		replay = append(replay, *h.offset)
	}
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	h.log.Info("stimulus: client connected", zap.String("remote", r.RemoteAddr))

	for _, cmd := range replay {
		if err := c.write(cmd); err != nil {
			h.drop(c)
			return
		}
	}

	defer h.drop(c)
	for {
		var a Action
		if err := conn.ReadJSON(&a); err != nil {
			h.log.Info("stimulus: client disconnected", zap.Error(err))
			return
		}
		select {
		case h.actions <- a:
		default:
			h.log.Warn("stimulus: action dropped, queue full", zap.String("action", a.Action))
		}
	}
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[*client]struct{})
	h.mu.Unlock()
	for c := range clients {
		c.conn.Close()
	}
}
