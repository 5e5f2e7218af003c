package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	historyKey     = "rocket:history"
	historyMaxLen  = 50
	roundKeyPrefix = "rocket:round:"
	roundTTL       = time.Hour
)

// History archives finished rounds: the crash point goes onto a capped
// list for the history endpoint, and the full end-of-round snapshot is
// kept for an hour.
type History struct {
	client *redis.Client
}

func NewHistory(client *redis.Client) *History {
	return &History{client: client}
}

// RecordRound stores one finished round. List push, trim, and snapshot
// write go out in a single pipeline.
func (h *History) RecordRound(ctx context.Context, roundID int64, crashAt float64, snapshot interface{}) error {
	data, err := json.Marshal(snapshot)
	if err != nil {
		return err
	}

	pipe := h.client.TxPipeline()
	pipe.LPush(ctx, historyKey, strconv.FormatFloat(crashAt, 'f', 2, 64))
	pipe.LTrim(ctx, historyKey, 0, historyMaxLen-1)
	pipe.Set(ctx, fmt.Sprintf("%s%d", roundKeyPrefix, roundID), data, roundTTL)
	_, err = pipe.Exec(ctx)
	return err
}

// Recent returns up to n most recent crash points, newest first.
func (h *History) Recent(ctx context.Context, n int) ([]float64, error) {
	if n <= 0 || n > historyMaxLen {
		n = historyMaxLen
	}
	raw, err := h.client.LRange(ctx, historyKey, 0, int64(n-1)).Result()
	if err != nil {
		return nil, err
	}
	points := make([]float64, 0, len(raw))
	for _, v := range raw {
		p, err := strconv.ParseFloat(v, 64)
		if err != nil {
			continue
		}
		points = append(points, p)
	}
	return points, nil
}

// Round returns the archived snapshot of a finished round, or nil when
// it has expired.
func (h *History) Round(ctx context.Context, roundID int64) (json.RawMessage, error) {
	data, err := h.client.Get(ctx, fmt.Sprintf("%s%d", roundKeyPrefix, roundID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return data, nil
}
