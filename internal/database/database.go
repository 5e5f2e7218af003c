package database

import (
	"context"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/joho/godotenv/autoload"
)

// Service wraps the ledger database pool.
type Service interface {
	Pool() *pgxpool.Pool
	Health() map[string]string
	Close() error
}

type service struct {
	pool *pgxpool.Pool
}

var (
	database   = os.Getenv("ROCKET_DB_DATABASE")
	password   = os.Getenv("ROCKET_DB_PASSWORD")
	username   = os.Getenv("ROCKET_DB_USERNAME")
	port       = os.Getenv("ROCKET_DB_PORT")
	host       = os.Getenv("ROCKET_DB_HOST")
	schema     = os.Getenv("ROCKET_DB_SCHEMA")
	dbInstance *service
)

func ConnString() string {
	s := schema
	if s == "" {
		s = "public"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable&search_path=%s",
		username, password, host, port, database, s)
}

func New() Service {
	if dbInstance != nil {
		return dbInstance
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, ConnString())
	if err != nil {
		log.Fatalf("[DB] Failed to create pool: %v", err)
	}
	if err := pool.Ping(ctx); err != nil {
		log.Fatalf("[DB] Failed to ping database: %v", err)
	}

	log.Println("[DB] Postgres connected successfully")
	dbInstance = &service{pool: pool}
	return dbInstance
}

func (s *service) Pool() *pgxpool.Pool {
	return s.pool
}

func (s *service) Health() map[string]string {
	ctx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()

	stats := make(map[string]string)

	if err := s.pool.Ping(ctx); err != nil {
		stats["status"] = "down"
		stats["error"] = fmt.Sprintf("db down: %v", err)
		return stats
	}

	stats["status"] = "up"
	stats["message"] = "It's healthy"

	poolStats := s.pool.Stat()
	stats["total_conns"] = strconv.FormatInt(int64(poolStats.TotalConns()), 10)
	stats["idle_conns"] = strconv.FormatInt(int64(poolStats.IdleConns()), 10)
	stats["acquired_conns"] = strconv.FormatInt(int64(poolStats.AcquiredConns()), 10)
	stats["acquire_count"] = strconv.FormatInt(poolStats.AcquireCount(), 10)

	return stats
}

func (s *service) Close() error {
	log.Printf("[DB] Disconnecting from database: %s", database)
	s.pool.Close()
	dbInstance = nil
	return nil
}
