package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/Sternrassler/narrative-blueprint/pkg/endpoint"
)

// Manager stores result documents in Redis.
type Manager struct {
	redis *redis.Client
	ns    Namespace
}

// NewManager creates a new result store with Redis backend.
func NewManager(redisClient *redis.Client, ns Namespace) *Manager {
	if redisClient == nil {
		panic("redis client cannot be nil")
	}
	return &Manager{
		redis: redisClient,
		ns:    ns,
	}
}

// Namespace returns the namespace documents are written to.
func (m *Manager) Namespace() Namespace {
	return m.ns
}

// CheckAccess verifies Redis is reachable and writable before a run starts.
func (m *Manager) CheckAccess(ctx context.Context) error {
	if err := m.ns.Validate(); err != nil {
		return err
	}
	if err := m.redis.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}

	// A read of the done-set fails on ACL or wrong-type errors that PING does not.
	if err := m.redis.SCard(ctx, m.ns.DoneKey()).Err(); err != nil {
		return fmt.Errorf("redis scard %s: %w", m.ns.DoneKey(), err)
	}
	return nil
}

// Store decodes resp as a JSON document for taskID and persists it.
// Returns ErrMalformedContent when the content is not a JSON object.
func (m *Manager) Store(ctx context.Context, taskID string, resp *endpoint.Response) error {
	if resp == nil {
		return fmt.Errorf("response cannot be nil")
	}

	doc, err := NewDocument(taskID, resp.Content)
	if err != nil {
		StoreErrors.WithLabelValues("malformed").Inc()
		return err
	}
	return m.Put(ctx, doc)
}

// Put writes doc and marks its uuid as completed in one pipeline.
func (m *Manager) Put(ctx context.Context, doc Document) error {
	id := doc.ID()
	if id == "" {
		return fmt.Errorf("document has no %s", IDField)
	}

	data, err := json.Marshal(doc)
	if err != nil {
		StoreErrors.WithLabelValues("store").Inc()
		return fmt.Errorf("marshal document: %w", err)
	}

	pipe := m.redis.TxPipeline()
	pipe.Set(ctx, m.ns.ResultKey(id), data, 0)
	pipe.SAdd(ctx, m.ns.DoneKey(), id)
	if _, err := pipe.Exec(ctx); err != nil {
		StoreErrors.WithLabelValues("store").Inc()
		return fmt.Errorf("store document in redis: %w", err)
	}

	StoreWrites.WithLabelValues("redis").Inc()
	StoreBytes.WithLabelValues("redis").Add(float64(len(data)))
	return nil
}

// Get retrieves the document stored for id.
// Returns ErrNotFound if it does not exist.
func (m *Manager) Get(ctx context.Context, id string) (Document, error) {
	data, err := m.redis.Get(ctx, m.ns.ResultKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		StoreErrors.WithLabelValues("get").Inc()
		return nil, fmt.Errorf("redis get: %w", err)
	}

	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		StoreErrors.WithLabelValues("get").Inc()
		return nil, fmt.Errorf("%w: %v", ErrMalformedContent, err)
	}
	return doc, nil
}

// Delete removes the document for id and its completed marker.
func (m *Manager) Delete(ctx context.Context, id string) error {
	pipe := m.redis.TxPipeline()
	pipe.Del(ctx, m.ns.ResultKey(id))
	pipe.SRem(ctx, m.ns.DoneKey(), id)
	if _, err := pipe.Exec(ctx); err != nil {
		StoreErrors.WithLabelValues("delete").Inc()
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// CompletedIDs returns the uuids already stored in the namespace.
func (m *Manager) CompletedIDs(ctx context.Context) (map[string]struct{}, error) {
	ids, err := m.redis.SMembers(ctx, m.ns.DoneKey()).Result()
	if err != nil {
		StoreErrors.WithLabelValues("completed").Inc()
		return nil, fmt.Errorf("redis smembers: %w", err)
	}

	done := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		done[id] = struct{}{}
	}
	return done, nil
}

// Count returns the number of stored documents.
func (m *Manager) Count(ctx context.Context) (int64, error) {
	n, err := m.redis.SCard(ctx, m.ns.DoneKey()).Result()
	if err != nil {
		return 0, fmt.Errorf("redis scard: %w", err)
	}
	return n, nil
}
