package processor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"modwatch/internal/reconciler"
	"modwatch/internal/redis"
)

const (
	// IngestQueue is the redis list gateway collectors push raw events to.
	IngestQueue = "events:ingest"

	dlqKey = "dlq:events"
)

// Event is a raw gateway event as it arrives from the ingest queue.
type Event struct {
	Type      string                 `json:"type"`
	Data      map[string]interface{} `json:"data"`
	Timestamp time.Time              `json:"timestamp"`
}

type Worker struct {
	ID       int
	stopChan chan bool
}

// EventProcessor turns gateway events into user observations and hands
// them to the reconciler through a worker pool.
type EventProcessor struct {
	log        *slog.Logger
	rec        *reconciler.Reconciler
	redis      *redis.Client
	eventQueue chan Event
	workerPool []*Worker
	wg         sync.WaitGroup
	mu         sync.RWMutex
}

func New(log *slog.Logger, rec *reconciler.Reconciler, redisClient *redis.Client) *EventProcessor {
	return &EventProcessor{
		log:        log,
		rec:        rec,
		redis:      redisClient,
		eventQueue: make(chan Event, 50000),
		workerPool: make([]*Worker, 0),
	}
}

func (ep *EventProcessor) EventQueue() chan Event {
	return ep.eventQueue
}

func (ep *EventProcessor) StartWorkers(workerCount int) {
	if workerCount < 1 {
		workerCount = 5
	}
	// keep an upper bound to avoid overwhelming Postgres
	if workerCount > 128 {
		workerCount = 128
	}

	ep.mu.Lock()
	defer ep.mu.Unlock()

	for i := 0; i < workerCount; i++ {
		worker := &Worker{
			ID:       i + 1,
			stopChan: make(chan bool, 1),
		}
		ep.workerPool = append(ep.workerPool, worker)

		ep.wg.Add(1)
		go ep.runWorker(worker)
	}

	ep.log.Info("event_workers_started", "count", workerCount)
}

func (ep *EventProcessor) runWorker(worker *Worker) {
	defer ep.wg.Done()

	for {
		select {
		case event := <-ep.eventQueue:
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			if err := ep.ProcessEvent(ctx, event); err != nil {
				ep.log.Warn("event_processing_failed",
					"worker_id", worker.ID,
					"event_type", event.Type,
					"error", err,
				)
				ep.sendToDLQ(ctx, event, err.Error())
			}
			cancel()
		case <-worker.stopChan:
			ep.log.Info("worker_stopped", "worker_id", worker.ID)
			return
		}
	}
}

func (ep *EventProcessor) StopWorkers() {
	ep.mu.Lock()

	for _, worker := range ep.workerPool {
		select {
		case worker.stopChan <- true:
		default:
		}
	}

	// release before waiting so workers can finish logging
	ep.mu.Unlock()

	ep.wg.Wait()
	ep.log.Info("all_workers_stopped")
}

// DrainIngest pulls raw events off the redis ingest list until the
// context is canceled. Gateway collectors run out of process and only
// share this queue with us.
func (ep *EventProcessor) DrainIngest(ctx context.Context) {
	for {
		raw, err := ep.redis.Pop(ctx, 5*time.Second, IngestQueue)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if !errors.Is(err, goredis.Nil) {
				// transient redis failure, don't spin hot
				time.Sleep(time.Second)
			}
			continue
		}

		var event Event
		if err := json.Unmarshal([]byte(raw), &event); err != nil {
			ep.log.Warn("ingest_decode_failed", "error", err)
			continue
		}

		select {
		case ep.eventQueue <- event:
		default:
			ep.log.Warn("event_queue_full", "event_type", event.Type)
		}
	}
}

// ProcessEvent reconciles the observation carried by one gateway event.
func (ep *EventProcessor) ProcessEvent(ctx context.Context, event Event) error {
	obs, ok, err := ObservationFromEvent(event)
	if err != nil {
		return err
	}
	if !ok {
		ep.log.Debug("event_without_observation", "type", event.Type)
		return nil
	}

	// dedup identical sightings so event bursts do not hammer the store
	if dedupKey := ep.buildDedupKey(event, obs.UserID); dedupKey != "" && ep.redis != nil {
		exists, err := ep.redis.RDB().Exists(ctx, dedupKey).Result()
		if err == nil && exists > 0 {
			return nil // duplicate, skip
		}
		_ = ep.redis.Set(ctx, dedupKey, "1", 60*time.Second)
	}

	if err := ep.rec.Reconcile(ctx, obs); err != nil {
		return fmt.Errorf("reconcile from %s: %w", event.Type, err)
	}
	return nil
}

func (ep *EventProcessor) buildDedupKey(event Event, userID uint64) string {
	if userID == 0 {
		return "" // don't dedup without a stable key
	}
	if guildID := extractStringField(event.Data, "guild_id"); guildID != "" {
		return fmt.Sprintf("event:dedup:%d:%s:%s", userID, guildID, event.Type)
	}
	return fmt.Sprintf("event:dedup:%d:%s", userID, event.Type)
}

func (ep *EventProcessor) sendToDLQ(ctx context.Context, event Event, errorMsg string) {
	if ep.redis == nil {
		return
	}
	data, err := json.Marshal(map[string]interface{}{
		"event":     event,
		"error":     errorMsg,
		"timestamp": time.Now(),
	})
	if err != nil {
		return
	}
	ep.redis.RDB().LPush(ctx, dlqKey, data)
	ep.redis.RDB().Expire(ctx, dlqKey, 24*time.Hour)
}

var errInvalidEvent = errors.New("invalid event payload")
