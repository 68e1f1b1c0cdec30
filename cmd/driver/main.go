// Command driver is a scripted walker client for manual testing: it joins a
// scene over the websocket surface and walks a simple patrol loop.
package main

import (
	"encoding/json"
	"flag"
	"log"
	"math"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/websocket"

	"strider.run/internal/protocol"
)

func main() {
	var (
		url     = flag.String("url", "ws://127.0.0.1:8080/v1/ws", "server websocket url")
		name    = flag.String("name", "driver", "walker display name")
		rigID   = flag.String("rig", "quadruped", "rig id to spawn with")
		run     = flag.Bool("run", false, "use run speed")
		turnHz  = flag.Float64("turn_period", 12.0, "seconds per full heading oscillation")
		quiet   = flag.Bool("quiet", false, "suppress per-observation logging")
		logEach = flag.Int("log_every", 30, "log one observation out of N")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[driver] ", log.LstdFlags)

	conn, _, err := websocket.DefaultDialer.Dial(*url, nil)
	if err != nil {
		logger.Fatalf("dial %s: %v", *url, err)
	}
	defer conn.Close()

	hello := protocol.HelloMsg{
		Type:            protocol.TypeHello,
		ProtocolVersion: protocol.Version,
		Name:            *name,
		RigID:           *rigID,
	}
	if err := writeJSON(conn, hello); err != nil {
		logger.Fatalf("send hello: %v", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"), time.Now().Add(time.Second))
		conn.Close()
	}()

	var (
		walkerID string
		start    = time.Now()
		obsSeen  int
	)
	for {
		_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			logger.Printf("read: %v", err)
			return
		}
		base, err := protocol.DecodeBase(msg)
		if err != nil {
			continue
		}
		switch base.Type {
		case protocol.TypeWelcome:
			var w protocol.WelcomeMsg
			if err := json.Unmarshal(msg, &w); err != nil {
				continue
			}
			walkerID = w.WalkerID
			logger.Printf("joined walker=%s rig=%s tick_rate=%d seed=%d",
				w.WalkerID, w.Rig.ID, w.WorldParams.TickRateHz, w.WorldParams.Seed)

		case protocol.TypeError:
			var e protocol.ErrorMsg
			if err := json.Unmarshal(msg, &e); err != nil {
				continue
			}
			logger.Fatalf("server error: %s: %s", e.Code, e.Message)

		case protocol.TypeObs:
			if walkerID == "" {
				continue
			}
			obsSeen++
			var obs protocol.ObsMsg
			if err := json.Unmarshal(msg, &obs); err != nil {
				continue
			}
			if !*quiet && *logEach > 0 && obsSeen%*logEach == 0 {
				planted := 0
				for _, l := range obs.Legs {
					if !l.Stepping {
						planted++
					}
				}
				logger.Printf("tick=%d pos=(%.2f,%.2f,%.2f) speed=%.2f planted=%d/%d",
					obs.Tick, obs.Body.Pos[0], obs.Body.Pos[1], obs.Body.Pos[2],
					obs.Body.LinearSpeed, planted, len(obs.Legs))
			}

			// Walk forward, slowly wagging the heading back and forth.
			t := time.Since(start).Seconds()
			intent := protocol.IntentMsg{
				Type:            protocol.TypeIntent,
				ProtocolVersion: protocol.Version,
				MoveZ:           1.0,
				Turn:            0.6 * math.Sin(2*math.Pi*t / *turnHz),
				Run:             *run,
			}
			if err := writeJSON(conn, intent); err != nil {
				logger.Printf("send intent: %v", err)
				return
			}
		}
	}
}

func writeJSON(conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, b)
}
