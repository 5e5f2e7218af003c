package server

import (
	"errors"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"

	"rocket/internal/ledger"
)

func (s *FiberServer) RegisterFiberRoutes() {
	s.App.Use(cors.New(cors.Config{
		AllowOrigins:     "*",
		AllowMethods:     "GET,POST,PUT,DELETE,OPTIONS,PATCH",
		AllowHeaders:     "Accept,Authorization,Content-Type",
		AllowCredentials: false, // credentials require explicit origins
		MaxAge:           300,
	}))

	s.App.Get("/health", s.healthHandler)

	api := s.App.Group("/api/v1")

	api.Get("/game/state", s.gameStateHandler)
	api.Get("/game/history", s.gameHistoryHandler)
	api.Get("/player/:playerId/balance", s.getBalanceHandler)
	api.Post("/player/:playerId/balance", s.setBalanceHandler)

	s.App.Get("/ws/rocket", websocket.New(s.rocketWSHandler))
}

func (s *FiberServer) healthHandler(c *fiber.Ctx) error {
	health := fiber.Map{
		"game": fiber.Map{
			"status":             "running",
			"connected_sessions": s.hub.SessionCount(),
			"round_id":           s.engine.CurrentState().RoundID,
		},
	}
	if s.db != nil {
		health["database"] = s.db.Health()
	}
	if s.cache != nil {
		health["cache"] = s.cache.Health()
	}
	return c.JSON(health)
}

// gameStateHandler returns the same snapshot a fresh websocket client
// receives.
func (s *FiberServer) gameStateHandler(c *fiber.Ctx) error {
	return c.JSON(s.engine.CurrentState())
}

// gameHistoryHandler returns the recent crash points, newest first.
func (s *FiberServer) gameHistoryHandler(c *fiber.Ctx) error {
	if s.cache == nil {
		return c.JSON(fiber.Map{"history": []float64{}})
	}
	n := c.QueryInt("limit", 20)
	points, err := s.cache.History().Recent(c.Context(), n)
	if err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "failed to load history"})
	}
	return c.JSON(fiber.Map{"history": points})
}

func (s *FiberServer) getBalanceHandler(c *fiber.Ctx) error {
	playerID := c.Params("playerId")
	if playerID == "" {
		return c.Status(400).JSON(fiber.Map{"error": "player id is required"})
	}

	acct, err := s.ledger.FindAccount(c.Context(), playerID)
	if err != nil {
		if errors.Is(err, ledger.ErrPlayerNotFound) {
			return c.Status(404).JSON(fiber.Map{"error": "player not found"})
		}
		return c.Status(500).JSON(fiber.Map{"error": "ledger unavailable"})
	}

	return c.JSON(fiber.Map{
		"playerId":       acct.PlayerID,
		"displayName":    acct.DisplayName,
		"balance":        acct.Balance,
		"totalBets":      acct.TotalBets,
		"totalGames":     acct.TotalGames,
		"totalWins":      acct.TotalWins,
		"totalProfit":    acct.TotalProfit,
		"bestMultiplier": acct.BestMultiplier,
	})
}

// setBalanceHandler overwrites a player's balance (testing/admin).
func (s *FiberServer) setBalanceHandler(c *fiber.Ctx) error {
	playerID := c.Params("playerId")
	if playerID == "" {
		return c.Status(400).JSON(fiber.Map{"error": "player id is required"})
	}

	var body struct {
		DisplayName string  `json:"displayName"`
		Balance     float64 `json:"balance"`
	}
	if err := c.BodyParser(&body); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "invalid request body"})
	}

	if err := s.admin.SetBalance(c.Context(), playerID, body.DisplayName, body.Balance); err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "failed to set balance"})
	}

	return c.JSON(fiber.Map{
		"playerId": playerID,
		"balance":  body.Balance,
	})
}
