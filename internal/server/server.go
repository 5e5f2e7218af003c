package server

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/recover"
	_ "github.com/joho/godotenv/autoload"

	"rocket/internal/cache"
	"rocket/internal/database"
	"rocket/internal/game"
	"rocket/internal/ledger"
)

// balanceAdmin is the admin/testing surface for overwriting a player's
// balance. Both ledger implementations provide it.
type balanceAdmin interface {
	SetBalance(ctx context.Context, playerID, displayName string, balance float64) error
}

type FiberServer struct {
	*fiber.App

	db     database.Service
	cache  cache.Service
	ledger ledger.Gateway
	admin  balanceAdmin
	hub    *game.Hub
	engine *game.Engine
}

func New() *FiberServer {
	var (
		db    database.Service
		gw    ledger.Gateway
		admin balanceAdmin
	)

	switch driver := getEnv("LEDGER_DRIVER", "postgres"); driver {
	case "memory":
		mem := ledger.NewMemory()
		gw, admin = mem, mem
		log.Println("[SERVER] Using in-memory ledger")
	default:
		db = database.New()
		pg, err := ledger.NewPostgres(db.Pool())
		if err != nil {
			log.Fatalf("[SERVER] Failed to create ledger gateway: %v", err)
		}
		gw, admin = pg, pg
	}

	// Redis is optional; without it the round archive is disabled.
	cacheService := cache.New()
	var archive game.RoundArchive
	if cacheService != nil {
		archive = cacheService.History()
	}

	hub := game.NewHub()
	gen := game.NewCrashPointGenerator(time.Now().UnixNano())
	engine := game.NewEngine(hub, gw, archive, gen, game.DefaultConfig())

	server := &FiberServer{
		App: fiber.New(fiber.Config{
			ServerHeader:  "rocket",
			AppName:       "rocket",
			ReadTimeout:   10 * time.Second,
			WriteTimeout:  10 * time.Second,
			IdleTimeout:   120 * time.Second,
			StrictRouting: false,
		}),

		db:     db,
		cache:  cacheService,
		ledger: gw,
		admin:  admin,
		hub:    hub,
		engine: engine,
	}

	server.App.Use(recover.New())
	server.App.Use(limiter.New(limiter.Config{
		Max:        100,
		Expiration: 1 * time.Minute,
	}))

	go hub.Run()
	engine.Start()

	log.Println("[SERVER] Round engine started")

	return server
}

// Shutdown stops the engine and closes external connections.
func (s *FiberServer) Shutdown() error {
	log.Println("[SERVER] Shutting down...")

	if s.engine != nil {
		s.engine.Stop()
	}
	if s.cache != nil {
		s.cache.Close()
	}
	if s.db != nil {
		s.db.Close()
	}

	return nil
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}
