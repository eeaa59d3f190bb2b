package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"exportd/internal/job"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Cross-origin subscriptions are allowed, same as the CORS policy.
		return true
	},
}

// SubscribeJob handles GET /api/v1/jobs/:job_id/subscribe
// Upgrades to WebSocket and streams job events: the current snapshot first,
// then every transition in the order the actor applied it.
func (h *JobHandler) SubscribeJob(c *gin.Context) {
	jobID := c.Param("job_id")
	if _, err := uuid.Parse(jobID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "job_id must be a valid UUID",
		})
		return
	}

	actor, err := h.registry.Get(c.Request.Context(), jobID)
	if err != nil {
		if errors.Is(err, job.ErrJobNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "Job not found",
			})
			return
		}
		h.logger.Error("Failed to resolve job for subscription",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to subscribe",
		})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("WebSocket upgrade failed",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
		return
	}

	sub := newWSSubscriber(conn, h.subscriberBuffer)
	go sub.writePump()
	go sub.readPump(func() {
		actor.Unsubscribe(sub)
	})

	if err := actor.Subscribe(sub); err != nil {
		sub.Close()
		return
	}

	h.logger.Debug("Subscriber attached",
		slog.String("job_id", jobID),
		slog.String("remote", conn.RemoteAddr().String()),
	)
}

// wsSubscriber adapts a WebSocket connection to the job.Subscriber contract.
// Send queues onto a buffered channel so the actor never blocks on a slow
// connection; a full buffer or a write failure kills the subscriber.
type wsSubscriber struct {
	conn   *websocket.Conn
	events chan job.Event
	done   chan struct{}
	once   sync.Once
}

func newWSSubscriber(conn *websocket.Conn, buffer int) *wsSubscriber {
	return &wsSubscriber{
		conn:   conn,
		events: make(chan job.Event, buffer),
		done:   make(chan struct{}),
	}
}

func (s *wsSubscriber) Send(ev job.Event) error {
	select {
	case <-s.done:
		return errors.New("subscriber closed")
	default:
	}

	select {
	case s.events <- ev:
		return nil
	default:
		s.Close()
		return errors.New("subscriber buffer full")
	}
}

func (s *wsSubscriber) Close() {
	s.once.Do(func() {
		close(s.done)
	})
}

// writePump owns all writes on the connection.
func (s *wsSubscriber) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()

	for {
		select {
		case <-s.done:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			s.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case ev := <-s.events:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteJSON(ev); err != nil {
				s.Close()
				return
			}
		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.Close()
				return
			}
		}
	}
}

// readPump discards client frames and detects disconnects.
func (s *wsSubscriber) readPump(onClose func()) {
	defer func() {
		onClose()
		s.Close()
	}()

	s.conn.SetReadLimit(512)
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			return
		}
	}
}
