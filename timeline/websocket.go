package timeline

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const pingInterval = 15 * time.Second

// WebSocketSinkConfig holds WebSocket sink configuration.
type WebSocketSinkConfig struct {
	Conn      *websocket.Conn
	SessionID string
	Logger    zerolog.Logger
}

// WebSocketSink streams timeline records to a WebSocket connection as JSON
// text messages. Writes are serialized through a mutex because records for
// distinct tensors may arrive from concurrent finalizers. A failed write
// disables the sink rather than failing the round that produced the record.
type WebSocketSink struct {
	config WebSocketSinkConfig
	log    zerolog.Logger

	mu     sync.Mutex
	closed bool
	stop   chan struct{}
}

type wireRecord struct {
	Session string `json:"session_id,omitempty"`
	Record
}

// NewWebSocketSink creates a streaming timeline over an established
// connection and starts its keepalive loop.
func NewWebSocketSink(config WebSocketSinkConfig) *WebSocketSink {
	ws := &WebSocketSink{
		config: config,
		log:    config.Logger.With().Str("component", "timeline_sink").Logger(),
		stop:   make(chan struct{}),
	}
	go ws.pingLoop()
	return ws
}

func (ws *WebSocketSink) Initialized() bool { return true }

func (ws *WebSocketSink) ActivityStart(tensor, activity string) {
	ws.send(Record{Tensor: tensor, Activity: activity, Phase: PhaseStart, At: time.Now()})
}

func (ws *WebSocketSink) ActivityEnd(tensor string) {
	ws.send(Record{Tensor: tensor, Phase: PhaseEnd, At: time.Now()})
}

func (ws *WebSocketSink) End(tensor string) {
	ws.send(Record{Tensor: tensor, Phase: PhaseDone, At: time.Now()})
}

func (ws *WebSocketSink) send(rec Record) {
	data, err := json.Marshal(wireRecord{Session: ws.config.SessionID, Record: rec})
	if err != nil {
		ws.log.Error().Err(err).Str("tensor", rec.Tensor).Msg("failed to marshal timeline record")
		return
	}

	ws.mu.Lock()
	defer ws.mu.Unlock()
	if ws.closed {
		return
	}
	if err := ws.config.Conn.WriteMessage(websocket.TextMessage, data); err != nil {
		ws.log.Error().Err(err).Msg("failed to send timeline record, disabling sink")
		ws.closed = true
		close(ws.stop)
	}
}

func (ws *WebSocketSink) pingLoop() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ws.stop:
			return
		case <-ticker.C:
			ws.mu.Lock()
			if ws.closed {
				ws.mu.Unlock()
				return
			}
			err := ws.config.Conn.WriteMessage(websocket.PingMessage, nil)
			ws.mu.Unlock()
			if err != nil {
				ws.log.Debug().Err(err).Msg("timeline keepalive failed")
				return
			}
		}
	}
}

// Close stops the keepalive loop and disables further sends. It does not
// close the underlying connection, which the caller owns.
func (ws *WebSocketSink) Close() {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	if ws.closed {
		return
	}
	ws.closed = true
	close(ws.stop)
}
