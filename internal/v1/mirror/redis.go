// Package mirror persists room metadata in Redis so rooms survive a restart.
//
// The in-memory catalog stays authoritative; the mirror is a best-effort
// replica behind a circuit breaker, and a nil *Service degrades to no-ops so
// single-instance deployments run without Redis at all. Messages are never
// mirrored.
package mirror

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"

	"github.com/chatd-io/chatd/internal/v1/metrics"
	"github.com/chatd-io/chatd/internal/v1/rooms"
	"github.com/chatd-io/chatd/internal/v1/types"
)

// Key schema: "chat:room:{id}" holds the JSON record, "chat:rooms" is the
// index set of ids.
const (
	roomKeyPrefix = "chat:room:"
	roomIndexKey  = "chat:rooms"
)

// roomRecord is the stored shape of a room. The password hash is persisted so
// a revived private room keeps its admission control.
type roomRecord struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Visibility   string    `json:"visibility"`
	PasswordHash string    `json:"passwordHash,omitempty"`
	CreatedBy    string    `json:"createdBy"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Service handles all interaction with Redis.
type Service struct {
	client *redis.Client
	cb     *gobreaker.CircuitBreaker
}

// Client returns the underlying Redis client.
func (s *Service) Client() *redis.Client {
	if s == nil {
		return nil
	}
	return s.client
}

// NewService creates a Redis connection and verifies it with a ping.
func NewService(addr, password string) (*Service, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           0,
		DialTimeout:  10 * time.Second,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	st := gobreaker.Settings{
		Name:        "redis",
		MaxRequests: 5,
		Interval:    1 * time.Minute,
		Timeout:     15 * time.Second,
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			var stateVal float64
			switch to {
			case gobreaker.StateClosed:
				stateVal = 0
			case gobreaker.StateOpen:
				stateVal = 1
			case gobreaker.StateHalfOpen:
				stateVal = 2
			}
			metrics.CircuitBreakerState.WithLabelValues("redis").Set(stateVal)
		},
	}

	slog.Info("Connected to Redis room mirror", "addr", addr)
	return &Service{
		client: rdb,
		cb:     gobreaker.NewCircuitBreaker(st),
	}, nil
}

// SaveRoom upserts the room record and indexes its id.
func (s *Service) SaveRoom(ctx context.Context, room rooms.Room) error {
	if s == nil || s.client == nil {
		return nil // Single-instance mode, no Redis available
	}

	_, err := s.cb.Execute(func() (interface{}, error) {
		data, err := json.Marshal(roomRecord{
			ID:           string(room.ID),
			Name:         room.Name,
			Visibility:   room.Visibility,
			PasswordHash: room.PasswordHash,
			CreatedBy:    room.CreatedBy,
			CreatedAt:    room.CreatedAt,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to marshal room record: %w", err)
		}
		pipe := s.client.TxPipeline()
		pipe.Set(ctx, roomKeyPrefix+string(room.ID), data, 0)
		pipe.SAdd(ctx, roomIndexKey, string(room.ID))
		_, err = pipe.Exec(ctx)
		return nil, err
	})

	if err != nil {
		if err == gobreaker.ErrOpenState {
			metrics.CircuitBreakerFailures.WithLabelValues("redis").Inc()
			slog.Warn("Redis Circuit Breaker Open: dropping room save", "roomID", room.ID)
			return nil // Graceful degradation: the in-memory catalog still has it
		}
		slog.Error("Redis SaveRoom failed", "roomID", room.ID, "error", err)
		return err
	}
	return nil
}

// DeleteRoom removes the record and its index entry.
func (s *Service) DeleteRoom(ctx context.Context, id types.RoomID) error {
	if s == nil || s.client == nil {
		return nil
	}

	_, err := s.cb.Execute(func() (interface{}, error) {
		pipe := s.client.TxPipeline()
		pipe.Del(ctx, roomKeyPrefix+string(id))
		pipe.SRem(ctx, roomIndexKey, string(id))
		_, err := pipe.Exec(ctx)
		return nil, err
	})

	if err != nil {
		if err == gobreaker.ErrOpenState {
			metrics.CircuitBreakerFailures.WithLabelValues("redis").Inc()
			slog.Warn("Redis Circuit Breaker Open: dropping room delete", "roomID", id)
			return nil
		}
		slog.Error("Redis DeleteRoom failed", "roomID", id, "error", err)
		return err
	}
	return nil
}

// LoadRoom fetches one room record.
func (s *Service) LoadRoom(ctx context.Context, id types.RoomID) (rooms.Room, error) {
	if s == nil || s.client == nil {
		return rooms.Room{}, fmt.Errorf("room %q: %w", id, types.ErrNotFound)
	}

	res, err := s.cb.Execute(func() (interface{}, error) {
		return s.client.Get(ctx, roomKeyPrefix+string(id)).Result()
	})

	if err != nil {
		if err == redis.Nil {
			return rooms.Room{}, fmt.Errorf("room %q not mirrored: %w", id, types.ErrNotFound)
		}
		if err == gobreaker.ErrOpenState {
			metrics.CircuitBreakerFailures.WithLabelValues("redis").Inc()
		}
		return rooms.Room{}, fmt.Errorf("failed to load room %q: %w", id, err)
	}

	var rec roomRecord
	if err := json.Unmarshal([]byte(res.(string)), &rec); err != nil {
		return rooms.Room{}, fmt.Errorf("corrupt mirror record for room %q: %w", id, err)
	}
	return rec.toRoom(), nil
}

// LoadRooms fetches every mirrored room. Records that are missing or corrupt
// are skipped so one bad key cannot block a warm start.
func (s *Service) LoadRooms(ctx context.Context) ([]rooms.Room, error) {
	if s == nil || s.client == nil {
		return nil, nil
	}

	res, err := s.cb.Execute(func() (interface{}, error) {
		return s.client.SMembers(ctx, roomIndexKey).Result()
	})
	if err != nil {
		if err == gobreaker.ErrOpenState {
			metrics.CircuitBreakerFailures.WithLabelValues("redis").Inc()
			slog.Warn("Redis Circuit Breaker Open: skipping room warm start")
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list mirrored rooms: %w", err)
	}

	ids := res.([]string)
	out := make([]rooms.Room, 0, len(ids))
	for _, id := range ids {
		room, err := s.LoadRoom(ctx, types.RoomID(id))
		if err != nil {
			slog.Warn("Skipping unreadable mirrored room", "roomID", id, "error", err)
			continue
		}
		out = append(out, room)
	}
	return out, nil
}

// Ping checks Redis connectivity. Used by health checks.
func (s *Service) Ping(ctx context.Context) error {
	if s == nil || s.client == nil {
		return nil
	}

	_, err := s.cb.Execute(func() (interface{}, error) {
		return nil, s.client.Ping(ctx).Err()
	})

	if err != nil {
		if err == gobreaker.ErrOpenState {
			metrics.CircuitBreakerFailures.WithLabelValues("redis").Inc()
		}
		return err
	}
	return nil
}

// Close gracefully shuts down the Redis connection.
func (s *Service) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}

func (r roomRecord) toRoom() rooms.Room {
	return rooms.Room{
		ID:           types.RoomID(r.ID),
		Name:         r.Name,
		Visibility:   r.Visibility,
		PasswordHash: r.PasswordHash,
		CreatedBy:    r.CreatedBy,
		CreatedAt:    r.CreatedAt,
	}
}
