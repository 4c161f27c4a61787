package offline

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"time"

	"tripledgerapi/models"

	"github.com/go-redis/redis/v8"
)

const (
	pendingKey = "offline:pending"
	deadKey    = "offline:dead"

	// DefaultMaxAttempts bounds how often a failing action is retried before
	// it moves to the dead-letter hash instead of blocking the queue forever.
	DefaultMaxAttempts = 5
)

// Executor replays one queued action against the remote store.
type Executor func(ctx context.Context, action models.PendingAction) error

// Queue is a durable pending-action queue over a Redis hash. Actions stay
// queued until an executor succeeds, so replay is at-least-once: a crash
// between remote success and local removal can replay an action twice.
type Queue struct {
	redis       *redis.Client
	maxAttempts int

	now   func() time.Time
	newId func() string
}

func NewQueue(r *redis.Client, maxAttempts int) *Queue {
	if maxAttempts < 1 {
		maxAttempts = DefaultMaxAttempts
	}

	return &Queue{
		redis:       r,
		maxAttempts: maxAttempts,
		now:         time.Now,
		newId:       generateId,
	}
}

// WithClock overrides the time and id sources for deterministic entries in
// tests.
func (q *Queue) WithClock(now func() time.Time, newId func() string) *Queue {
	q.now = now
	q.newId = newId
	return q
}

func (q *Queue) Enqueue(ctx context.Context, actionType string, payload json.RawMessage) (string, error) {
	action := models.PendingAction{
		Id:       q.newId(),
		Type:     actionType,
		Payload:  payload,
		QueuedAt: q.now().UTC(),
	}

	data, err := json.Marshal(action)
	if err != nil {
		return "", err
	}

	if err := q.redis.HSet(ctx, pendingKey, action.Id, string(data)).Err(); err != nil {
		log.Println(err)
		return "", err
	}

	return action.Id, nil
}

func (q *Queue) Pending(ctx context.Context) ([]models.PendingAction, error) {
	entries, err := q.redis.HGetAll(ctx, pendingKey).Result()
	if err != nil {
		log.Println(err)
		return nil, err
	}

	actions := make([]models.PendingAction, 0, len(entries))
	for _, raw := range entries {
		var action models.PendingAction
		if err := json.Unmarshal([]byte(raw), &action); err != nil {
			log.Println(err)
			continue
		}
		actions = append(actions, action)
	}

	// enqueue order; ids share the epoch-millis prefix as tiebreak
	sort.Slice(actions, func(i, j int) bool {
		if !actions[i].QueuedAt.Equal(actions[j].QueuedAt) {
			return actions[i].QueuedAt.Before(actions[j].QueuedAt)
		}
		return actions[i].Id < actions[j].Id
	})

	return actions, nil
}

func (q *Queue) Count(ctx context.Context) (int64, error) {
	return q.redis.HLen(ctx, pendingKey).Result()
}

func (q *Queue) DeadCount(ctx context.Context) (int64, error) {
	return q.redis.HLen(ctx, deadKey).Result()
}

func (q *Queue) Remove(ctx context.Context, id string) error {
	return q.redis.HDel(ctx, pendingKey, id).Err()
}

func (q *Queue) Clear(ctx context.Context) error {
	return q.redis.Del(ctx, pendingKey).Err()
}

// Drain replays every pending action in enqueue order. An action is removed
// only after its executor succeeds; a failing action is re-stored with its
// attempt counter bumped and, past maxAttempts, parked in the dead-letter
// hash. One failing action never blocks the others.
func (q *Queue) Drain(ctx context.Context, exec Executor) ([]models.SyncResult, error) {
	pending, err := q.Pending(ctx)
	if err != nil {
		return nil, err
	}

	results := make([]models.SyncResult, 0, len(pending))

	for _, action := range pending {
		if err := exec(ctx, action); err != nil {
			log.Printf("failed to sync action %s: %v", action.Id, err)

			action.Attempts++
			result := models.SyncResult{Id: action.Id, Error: err.Error()}

			if action.Attempts >= q.maxAttempts {
				result.Dead = true
				if err := q.park(ctx, action); err != nil {
					log.Println(err)
				}
			} else if err := q.store(ctx, pendingKey, action); err != nil {
				log.Println(err)
			}

			results = append(results, result)
			continue
		}

		if err := q.Remove(ctx, action.Id); err != nil {
			log.Println(err)
		}

		results = append(results, models.SyncResult{Id: action.Id, Success: true})
	}

	return results, nil
}

func (q *Queue) store(ctx context.Context, key string, action models.PendingAction) error {
	data, err := json.Marshal(action)
	if err != nil {
		return err
	}

	return q.redis.HSet(ctx, key, action.Id, string(data)).Err()
}

func (q *Queue) park(ctx context.Context, action models.PendingAction) error {
	if err := q.store(ctx, deadKey, action); err != nil {
		return err
	}

	return q.redis.HDel(ctx, pendingKey, action.Id).Err()
}

func generateId() string {
	b := make([]byte, 4)
	rand.Read(b)
	return fmt.Sprintf("%d-%x", time.Now().UnixMilli(), b)
}
