package server

import (
	"encoding/json"
	"log"
	"time"

	"github.com/gofiber/contrib/websocket"

	"rocket/internal/game"
)

// rocketWSHandler is the read side of one websocket session. The write
// side (fan-out, heartbeat pings) lives in the hub; this loop refreshes
// the read deadline on pongs and dispatches player actions.
func (s *FiberServer) rocketWSHandler(conn *websocket.Conn) {
	sess := s.hub.Register(conn)
	defer s.hub.Unregister(sess)

	// New viewers get the full round state immediately.
	sess.Send(s.engine.CurrentState())

	conn.SetReadDeadline(time.Now().Add(game.PongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(game.PongWait))
		return nil
	})

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			log.Printf("[WS] Read error for session %s: %v", sess.ID, err)
			return
		}
		conn.SetReadDeadline(time.Now().Add(game.PongWait))

		var msg game.ClientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			continue // malformed messages are ignored
		}

		if msg.PlayerID != "" {
			sess.BindPlayer(msg.PlayerID)
		}

		switch msg.Type {
		case "bet":
			s.handleBetMessage(sess, msg)
		case "cashout":
			s.handleCashoutMessage(sess, msg)
		}
	}
}

func (s *FiberServer) handleBetMessage(sess *game.Session, msg game.ClientMessage) {
	if msg.PlayerID == "" {
		return
	}
	result, err := s.engine.PlaceBet(game.BetRequest{
		PlayerID:    msg.PlayerID,
		DisplayName: msg.DisplayName,
		Amount:      msg.Amount,
	})
	if err != nil {
		sess.Send(game.ErrorMessage{Type: "error", Text: err.Error()})
		return
	}
	sess.Send(game.BetOkMessage{Type: "betOk", Balance: result.Balance})
}

func (s *FiberServer) handleCashoutMessage(sess *game.Session, msg game.ClientMessage) {
	if msg.PlayerID == "" {
		return
	}
	result, err := s.engine.Cashout(msg.PlayerID)
	if err != nil {
		sess.Send(game.ErrorMessage{Type: "error", Text: err.Error()})
		return
	}
	sess.Send(game.CashoutOkMessage{
		Type:       "cashoutOk",
		Multiplier: result.Multiplier,
		WinAmount:  result.WinAmount,
		Balance:    result.Balance,
	})
}
