package broadcast

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/zishang520/engine.io/v2/types"
	"github.com/zishang520/socket.io/v2/socket"
)

// SnapshotFunc returns the state a newly connected client starts from.
type SnapshotFunc func() any

// SocketIO pushes events to connected socket.io clients. Each event kind is
// emitted under its own event name; new clients first receive
// "latest_vessel_data" with the current snapshot.
type SocketIO struct {
	engine   *types.HttpServer
	server   *socket.Server
	snapshot SnapshotFunc
	log      *slog.Logger

	mu      sync.RWMutex
	clients map[socket.SocketId]*socket.Socket
}

// NewSocketIO creates the engine.io server and the socket.io server on top.
func NewSocketIO(snapshot SnapshotFunc, log *slog.Logger) *SocketIO {
	engineServer := types.CreateServer(nil)
	s := &SocketIO{
		engine:   engineServer,
		server:   socket.NewServer(engineServer, nil),
		snapshot: snapshot,
		log:      log,
		clients:  make(map[socket.SocketId]*socket.Socket),
	}
	s.server.On("connection", func(args ...any) {
		client := args[0].(*socket.Socket)
		s.connected(client)
	})
	return s
}

func (s *SocketIO) connected(client *socket.Socket) {
	id := client.Id()
	s.log.Debug("socket.io client connected", "id", id)
	s.mu.Lock()
	s.clients[id] = client
	s.mu.Unlock()

	if s.snapshot != nil {
		b, err := json.Marshal(s.snapshot())
		if err != nil {
			s.log.Warn("marshal snapshot", "err", err)
		} else if err := client.Emit("latest_vessel_data", string(b)); err != nil {
			s.log.Warn("send snapshot", "id", id, "err", err)
		}
	}

	client.On("disconnect", func(...any) {
		s.log.Debug("socket.io client disconnected", "id", id)
		s.mu.Lock()
		delete(s.clients, id)
		s.mu.Unlock()
	})
}

// Handler serves the /socket.io/ endpoint.
func (s *SocketIO) Handler() http.Handler { return s.engine }

// Clients returns the number of connected clients.
func (s *SocketIO) Clients() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

func (s *SocketIO) Name() string { return "socketio" }

// Send emits each event to every client as a JSON string.
func (s *SocketIO) Send(events []Event) error {
	s.mu.RLock()
	clients := make([]*socket.Socket, 0, len(s.clients))
	for _, c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.RUnlock()
	if len(clients) == 0 {
		return nil
	}

	var failed int
	for _, e := range events {
		b, err := json.Marshal(e.Data)
		if err != nil {
			return fmt.Errorf("broadcast: marshal %s %d: %w", e.Kind, e.MMSI, err)
		}
		for _, c := range clients {
			if err := c.Emit(string(e.Kind), string(b)); err != nil {
				failed++
			}
		}
	}
	if failed > 0 {
		return fmt.Errorf("broadcast: %d socket.io emits failed", failed)
	}
	return nil
}
