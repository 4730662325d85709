package websockets

import (
	"time"

	"vidmill/config"
	"vidmill/internal/events"

	logger "github.com/Bparsons0904/goLogger"
	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
)

const (
	PING_INTERVAL     = 30 * time.Second
	PONG_TIMEOUT      = 60 * time.Second
	WRITE_TIMEOUT     = 10 * time.Second
	MAX_MESSAGE_SIZE  = 4 * 1024 // clients only ever send control chatter
	SEND_CHANNEL_SIZE = 64

	// How long the forwarder waits on a silent stream before looping; the
	// write pump's pings keep the connection alive in between.
	STREAM_WAIT = 15 * time.Second
)

// Client is one connected progress observer, bound to a single job.
type Client struct {
	ID         string
	JobID      string
	Connection *websocket.Conn
	Manager    *Manager
	send       chan events.ProgressEvent
	done       chan struct{}
}

type Manager struct {
	hub    *Hub
	events *events.Hub
	config config.Config
	log    logger.Logger
}

func New(eventHub *events.Hub, config config.Config) (*Manager, error) {
	log := logger.New("websockets")

	manager := &Manager{
		hub: &Hub{
			register:   make(chan *Client),
			unregister: make(chan *Client),
			clients:    make(map[string]*Client),
		},
		events: eventHub,
		config: config,
		log:    log,
	}

	log.Function("New").Info("Starting websocket hub")
	go manager.hub.run(manager)

	return manager, nil
}

// HandleWebSocket serves one job's progress over a websocket: every event on
// the job's stream goes out as a JSON frame, and the connection closes once
// the terminal sentinel has been delivered.
func (m *Manager) HandleWebSocket(c *websocket.Conn) {
	log := m.log.Function("HandleWebSocket")

	jobID := c.Params("id")
	stream, ok := m.events.Get(jobID)
	if !ok {
		log.Warn("Websocket for unknown job", "jobId", jobID)
		_ = c.WriteJSON(events.ErrorEvent("unknown job " + jobID))
		_ = c.Close()
		return
	}

	client := &Client{
		ID:         uuid.New().String(),
		JobID:      jobID,
		Connection: c,
		Manager:    m,
		send:       make(chan events.ProgressEvent, SEND_CHANNEL_SIZE),
		done:       make(chan struct{}),
	}

	m.hub.register <- client
	defer func() {
		log.Info("Client disconnected", "clientID", client.ID, "jobId", jobID)
		m.hub.unregister <- client
		if err := c.Close(); err != nil {
			log.Er("failed to close connection", err)
		}
	}()

	go client.readPump()
	go client.forward(stream)
	client.writePump()
}

// forward drains the job's stream into the send channel. It is the only
// closer of send; the write pump translates that close into a close frame.
func (c *Client) forward(stream *events.Stream) {
	defer close(c.send)

	for {
		select {
		case <-c.done:
			return
		default:
		}

		event, ok := stream.Next(STREAM_WAIT)
		if !ok {
			continue
		}

		select {
		case c.send <- event:
		case <-c.done:
			return
		}

		if event.Terminal() {
			c.Manager.events.Release(c.JobID)
			return
		}
	}
}

// readPump discards anything the client sends; its job is noticing the
// connection going away and answering pings with deadline resets.
func (c *Client) readPump() {
	log := c.Manager.log.Function("readPump")
	defer func() {
		c.Manager.hub.unregister <- c
		_ = c.Connection.Close()
	}()

	c.Connection.SetReadLimit(MAX_MESSAGE_SIZE)
	if err := c.Connection.SetReadDeadline(time.Now().Add(PONG_TIMEOUT)); err != nil {
		log.Er("failed to set read deadline", err, "clientID", c.ID)
	}
	c.Connection.SetPongHandler(func(string) error {
		if err := c.Connection.SetReadDeadline(time.Now().Add(PONG_TIMEOUT)); err != nil {
			log.Er("failed to set read deadline in pong handler", err, "clientID", c.ID)
		}
		return nil
	})

	for {
		if _, _, err := c.Connection.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(
				err,
				websocket.CloseGoingAway,
				websocket.CloseNormalClosure,
				websocket.CloseAbnormalClosure,
			) {
				log.Er("Unexpected close error", err, "clientID", c.ID)
			}
			return
		}
	}
}

func (c *Client) writePump() {
	log := c.Manager.log.Function("writePump")

	ticker := time.NewTicker(PING_INTERVAL)
	defer func() {
		ticker.Stop()
		_ = c.Connection.Close()
	}()

	for {
		select {
		case event, ok := <-c.send:
			if err := c.Connection.SetWriteDeadline(time.Now().Add(WRITE_TIMEOUT)); err != nil {
				log.Er("failed to set write deadline", err, "clientID", c.ID)
			}
			if !ok {
				_ = c.Connection.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}

			if err := c.Connection.WriteJSON(event); err != nil {
				log.Er("WebSocket write error", err, "clientID", c.ID)
				return
			}

		case <-ticker.C:
			log.Debug("Sending ping", "clientID", c.ID)
			if err := c.Connection.SetWriteDeadline(time.Now().Add(WRITE_TIMEOUT)); err != nil {
				log.Er("failed to set write deadline for ping", err, "clientID", c.ID)
			}
			if err := c.Connection.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
