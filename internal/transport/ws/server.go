// Package ws carries driver sessions: HELLO/WELCOME handshake, INTENT in,
// OBS out, ERROR on rejection.
package ws

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"strider.run/internal/protocol"
	"strider.run/internal/sim/scene"
)

type Server struct {
	scene *scene.Scene
	log   *log.Logger

	upgrader websocket.Upgrader
}

func NewServer(sc *scene.Scene, logger *log.Logger) *Server {
	return &Server{
		scene: sc,
		log:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}
}

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		walkerID, out := s.handshake(conn)
		if walkerID == "" {
			return
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		// Writer goroutine.
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case b, ok := <-out:
					if !ok {
						return
					}
					_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						cancel()
						return
					}
				}
			}
		}()

		// Intents above twice the tick rate are noise; latest-wins makes them
		// useless anyway, so excess gets dropped with a rate-limit ERROR.
		limit := newIntentLimiter(2 * s.scene.TickRateHz())

		// Reader loop.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				cancel()
				break
			}
			base, err := protocol.DecodeBase(msg)
			if err != nil {
				continue
			}
			if base.Type != protocol.TypeIntent {
				continue
			}
			var intent protocol.IntentMsg
			if err := json.Unmarshal(msg, &intent); err != nil {
				continue
			}
			if intent.ProtocolVersion != protocol.Version {
				continue
			}
			if !limit.allow(time.Now()) {
				if limit.shouldNotify(time.Now()) {
					if b, err := json.Marshal(protocol.ErrorMsg{
						Type:            protocol.TypeError,
						ProtocolVersion: protocol.Version,
						Code:            protocol.ErrRateLimit,
						Message:         "intent rate exceeded",
					}); err == nil {
						select {
						case out <- b:
						default:
						}
					}
				}
				continue
			}
			s.scene.Inbox() <- scene.IntentEnvelope{WalkerID: walkerID, Intent: intent}
		}

		// Cleanup.
		s.scene.Leave() <- walkerID
	}
}

func (s *Server) handshake(conn *websocket.Conn) (walkerID string, out chan []byte) {
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return "", nil
	}

	base, err := protocol.DecodeBase(msg)
	if err != nil || base.Type != protocol.TypeHello {
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "expected HELLO"), time.Now().Add(time.Second))
		return "", nil
	}

	var hello protocol.HelloMsg
	if err := json.Unmarshal(msg, &hello); err != nil {
		return "", nil
	}
	if hello.ProtocolVersion != protocol.Version {
		sendError(conn, protocol.ErrProtoBadRequest, "bad protocol_version")
		return "", nil
	}
	if hello.RigID == "" {
		sendError(conn, protocol.ErrBadRequest, "missing rig_id")
		return "", nil
	}
	if hello.Name == "" {
		hello.Name = "walker"
	}

	out = make(chan []byte, 8)
	respCh := make(chan scene.JoinResponse, 1)
	s.scene.Join() <- scene.JoinRequest{
		Name:  hello.Name,
		RigID: hello.RigID,
		Out:   out,
		Resp:  respCh,
	}
	resp := <-respCh

	if resp.ErrCode != "" {
		sendError(conn, resp.ErrCode, resp.ErrMsg)
		return "", nil
	}
	if err := writeJSON(conn, resp.Welcome); err != nil {
		s.scene.Leave() <- resp.Welcome.WalkerID
		return "", nil
	}
	return resp.Welcome.WalkerID, out
}

// intentLimiter is a token bucket, refilled continuously at perSec, owned by
// a single reader goroutine.
type intentLimiter struct {
	perSec     float64
	tokens     float64
	last       time.Time
	lastNotify time.Time
}

func newIntentLimiter(perSec int) *intentLimiter {
	if perSec < 1 {
		perSec = 1
	}
	return &intentLimiter{perSec: float64(perSec), tokens: float64(perSec)}
}

func (l *intentLimiter) allow(now time.Time) bool {
	if !l.last.IsZero() {
		l.tokens += now.Sub(l.last).Seconds() * l.perSec
		if l.tokens > l.perSec {
			l.tokens = l.perSec
		}
	}
	l.last = now
	if l.tokens < 1 {
		return false
	}
	l.tokens--
	return true
}

// shouldNotify caps rate-limit ERRORs at one per second.
func (l *intentLimiter) shouldNotify(now time.Time) bool {
	if now.Sub(l.lastNotify) < time.Second {
		return false
	}
	l.lastNotify = now
	return true
}

func sendError(conn *websocket.Conn, code, msg string) {
	_ = writeJSON(conn, protocol.ErrorMsg{
		Type:            protocol.TypeError,
		ProtocolVersion: protocol.Version,
		Code:            code,
		Message:         msg,
	})
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, code), time.Now().Add(time.Second))
}

func writeJSON(conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, b)
}
