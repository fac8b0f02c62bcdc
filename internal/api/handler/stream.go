package handler

import (
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/99minutos/portal-auth/internal/core/domain"
	"github.com/99minutos/portal-auth/internal/core/ports"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

// StreamHandler pushes every auth state change to websocket clients.
type StreamHandler struct {
	state    ports.AuthStateReader
	upgrader websocket.Upgrader
	log      zerolog.Logger
}

func NewStreamHandler(state ports.AuthStateReader, log zerolog.Logger) *StreamHandler {
	return &StreamHandler{
		state: state,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		log: log,
	}
}

// Stream upgrades to a websocket and sends the state as JSON on connect and
// after every change. Snapshots are coalesced: a slow client only ever sees
// the newest one.
//
// @Summary      Stream auth state changes
// @Tags         auth
// @Success      101
// @Router       /v1/auth/state/ws [get]
func (h *StreamHandler) Stream(c echo.Context) error {
	conn, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// Upgrade has already answered the client.
		h.log.Debug().Err(err).Msg("websocket upgrade failed")
		return nil
	}
	defer conn.Close()

	latest := make(chan domain.State, 1)
	unsubscribe := h.state.Subscribe(func(st domain.State) {
		offerLatest(latest, st)
	})
	defer unsubscribe()
	offerLatest(latest, h.state.Snapshot())

	closed := make(chan struct{})
	go h.readPump(conn, closed)

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	var (
		sent    uint64
		sentAny bool
	)
	for {
		select {
		case <-closed:
			return nil
		case <-c.Request().Context().Done():
			return nil
		case st := <-latest:
			if sentAny && st.Version <= sent {
				continue
			}
			sent, sentAny = st.Version, true
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(toStateResponse(st)); err != nil {
				h.log.Debug().Err(err).Msg("websocket write failed")
				return nil
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return nil
			}
		}
	}
}

// readPump drains client frames so pongs and close frames are processed.
func (h *StreamHandler) readPump(conn *websocket.Conn, closed chan<- struct{}) {
	defer close(closed)
	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.log.Debug().Err(err).Msg("websocket closed")
			}
			return
		}
	}
}

// offerLatest replaces any pending snapshot in ch with st unless the pending
// one is newer.
func offerLatest(ch chan domain.State, st domain.State) {
	for {
		select {
		case ch <- st:
			return
		default:
		}
		select {
		case pending := <-ch:
			if pending.Version > st.Version {
				st = pending
			}
		default:
		}
	}
}
