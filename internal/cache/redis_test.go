package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func TestGetEnv(t *testing.T) {
	tests := []struct {
		name       string
		key        string
		defaultVal string
		envValue   string
		want       string
	}{
		{
			name:       "Environment variable exists",
			key:        "ROCKET_TEST_KEY_EXISTS",
			defaultVal: "default",
			envValue:   "custom_value",
			want:       "custom_value",
		},
		{
			name:       "Environment variable does not exist",
			key:        "ROCKET_TEST_KEY_NOT_EXISTS",
			defaultVal: "default_value",
			envValue:   "",
			want:       "default_value",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.envValue != "" {
				os.Setenv(tt.key, tt.envValue)
				defer os.Unsetenv(tt.key)
			}

			got := getEnv(tt.key, tt.defaultVal)
			if got != tt.want {
				t.Errorf("getEnv() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGetEnvAsInt(t *testing.T) {
	tests := []struct {
		name       string
		key        string
		defaultVal int
		envValue   string
		want       int
	}{
		{
			name:       "Valid integer",
			key:        "ROCKET_TEST_INT_VALID",
			defaultVal: 0,
			envValue:   "42",
			want:       42,
		},
		{
			name:       "Invalid integer",
			key:        "ROCKET_TEST_INT_INVALID",
			defaultVal: 10,
			envValue:   "not_a_number",
			want:       10,
		},
		{
			name:       "Empty value",
			key:        "ROCKET_TEST_INT_EMPTY",
			defaultVal: 5,
			envValue:   "",
			want:       5,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.envValue != "" {
				os.Setenv(tt.key, tt.envValue)
				defer os.Unsetenv(tt.key)
			}

			got := getEnvAsInt(tt.key, tt.defaultVal)
			if got != tt.want {
				t.Errorf("getEnvAsInt() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestService_Interface(t *testing.T) {
	var _ Service = (*service)(nil)
}

// liveClient dials the redis instance named by REDIS_URL and skips the
// test when none is reachable, so history tests only run against a
// real server.
func liveClient(t *testing.T) *redis.Client {
	t.Helper()

	client := redis.NewClient(&redis.Options{
		Addr:     getEnv("REDIS_URL", "localhost:6379"),
		Password: getEnv("REDIS_PASSWORD", ""),
		DB:       getEnvAsInt("REDIS_DB", 0),
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		t.Skipf("redis unavailable: %v", err)
	}

	t.Cleanup(func() {
		ctx := context.Background()
		keys, _ := client.Keys(ctx, roundKeyPrefix+"*").Result()
		keys = append(keys, historyKey)
		client.Del(ctx, keys...)
		client.Close()
	})
	return client
}

func TestHistory_RecordAndRecent(t *testing.T) {
	client := liveClient(t)
	h := NewHistory(client)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		snapshot := map[string]interface{}{"roundId": i, "crashAt": float64(i) + 0.5}
		if err := h.RecordRound(ctx, int64(i), float64(i)+0.5, snapshot); err != nil {
			t.Fatalf("RecordRound(%d) error = %v", i, err)
		}
	}

	points, err := h.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	want := []float64{3.5, 2.5, 1.5}
	if len(points) != len(want) {
		t.Fatalf("Recent() returned %d points, want %d", len(points), len(want))
	}
	for i, p := range points {
		if p != want[i] {
			t.Errorf("points[%d] = %v, want %v (newest first)", i, p, want[i])
		}
	}
}

func TestHistory_Capped(t *testing.T) {
	client := liveClient(t)
	h := NewHistory(client)
	ctx := context.Background()

	for i := 0; i < historyMaxLen+10; i++ {
		if err := h.RecordRound(ctx, int64(i), 2.00, nil); err != nil {
			t.Fatal(err)
		}
	}

	length, err := client.LLen(ctx, historyKey).Result()
	if err != nil {
		t.Fatal(err)
	}
	if length != historyMaxLen {
		t.Errorf("history length = %d, want %d", length, historyMaxLen)
	}
}

func TestHistory_RoundSnapshot(t *testing.T) {
	client := liveClient(t)
	h := NewHistory(client)
	ctx := context.Background()

	snapshot := map[string]interface{}{"roundId": 7, "crashAt": 4.20, "bets": []string{}}
	if err := h.RecordRound(ctx, 7, 4.20, snapshot); err != nil {
		t.Fatal(err)
	}

	raw, err := h.Round(ctx, 7)
	if err != nil {
		t.Fatalf("Round() error = %v", err)
	}
	var got map[string]interface{}
	if err := json.Unmarshal(raw, &got); err != nil {
		t.Fatalf("snapshot is not valid JSON: %v", err)
	}
	if got["crashAt"] != 4.20 {
		t.Errorf("snapshot crashAt = %v, want 4.2", got["crashAt"])
	}

	ttl, err := client.TTL(ctx, fmt.Sprintf("%s%d", roundKeyPrefix, 7)).Result()
	if err != nil {
		t.Fatal(err)
	}
	if ttl <= 0 || ttl > roundTTL {
		t.Errorf("snapshot TTL = %v, want within (0, %v]", ttl, roundTTL)
	}

	// Unknown rounds come back nil without an error.
	raw, err = h.Round(ctx, 99999)
	if err != nil {
		t.Fatalf("Round(missing) error = %v", err)
	}
	if raw != nil {
		t.Errorf("Round(missing) = %s, want nil", raw)
	}
}
