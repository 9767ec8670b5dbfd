package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"brandaudit/internal/audit/models"
	"brandaudit/pkg/platform/sentinel"
)

const (
	auditKeyPrefix  = "audit:"
	statusKeyPrefix = "audits:status:"

	maxUpdateAttempts = 10
)

// Redis stores each audit as a JSON string and indexes ids per status in a
// sorted set scored by creation time. Updates use WATCH/MULTI so concurrent
// writers to one id are serialized.
type Redis struct {
	client redis.UniversalClient
	ttl    time.Duration
	now    func() time.Time
}

// RedisOption configures a Redis store.
type RedisOption func(*Redis)

// WithTTL expires audit records ttl after their last write. Zero keeps them.
func WithTTL(ttl time.Duration) RedisOption {
	return func(r *Redis) {
		r.ttl = ttl
	}
}

func NewRedis(client redis.UniversalClient, opts ...RedisOption) *Redis {
	r := &Redis{
		client: client,
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func auditKey(id string) string { return auditKeyPrefix + id }

func statusKey(s models.Status) string { return statusKeyPrefix + string(s) }

func (r *Redis) Create(ctx context.Context, fields models.AuditFields) (*models.Audit, error) {
	a := models.NewAudit(fields, r.now())
	payload, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("marshal audit: %w", err)
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, auditKey(a.ID), payload, r.ttl)
		pipe.ZAdd(ctx, statusKey(a.Status), redis.Z{Score: score(a.CreatedAt), Member: a.ID})
		return nil
	})
	if err != nil {
		return nil, wrapErr("create audit", err)
	}
	return a, nil
}

func (r *Redis) Get(ctx context.Context, id string) (*models.Audit, error) {
	return r.load(ctx, r.client, id)
}

// Update applies patch inside an optimistic transaction, retrying when
// another writer touched the record first.
func (r *Redis) Update(ctx context.Context, id string, patch models.AuditPatch) (*models.Audit, error) {
	var updated *models.Audit
	txf := func(tx *redis.Tx) error {
		a, err := r.load(ctx, tx, id)
		if err != nil {
			return err
		}
		if err := patch.Check(a); err != nil {
			return err
		}
		prev := a.Status
		patch.Apply(a)

		payload, err := json.Marshal(a)
		if err != nil {
			return fmt.Errorf("marshal audit: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, auditKey(id), payload, r.ttl)
			if prev != a.Status {
				pipe.ZRem(ctx, statusKey(prev), id)
				pipe.ZAdd(ctx, statusKey(a.Status), redis.Z{Score: score(a.CreatedAt), Member: id})
			}
			return nil
		})
		if err != nil {
			return err
		}
		updated = a
		return nil
	}

	for range maxUpdateAttempts {
		err := r.client.Watch(ctx, txf, auditKey(id))
		if err == nil {
			return updated, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if isConnErr(err) && !errors.Is(err, sentinel.ErrUnavailable) {
			return nil, wrapErr("update audit "+id, err)
		}
		return nil, err
	}
	return nil, fmt.Errorf("update audit %s: %w", id, sentinel.ErrConflict)
}

// ListByStatus returns audits in status, oldest first. Index entries whose
// record has expired are skipped.
func (r *Redis) ListByStatus(ctx context.Context, status models.Status) ([]*models.Audit, error) {
	ids, err := r.client.ZRange(ctx, statusKey(status), 0, -1).Result()
	if err != nil {
		return nil, wrapErr("list audits by status", err)
	}
	out := make([]*models.Audit, 0, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = auditKey(id)
	}
	values, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, wrapErr("load audits", err)
	}
	for _, v := range values {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		var a models.Audit
		if err := json.Unmarshal([]byte(raw), &a); err != nil {
			return nil, fmt.Errorf("decode audit: %w", err)
		}
		if a.Status == status {
			out = append(out, &a)
		}
	}
	return out, nil
}

func (r *Redis) load(ctx context.Context, c redis.Cmdable, id string) (*models.Audit, error) {
	raw, err := c.Get(ctx, auditKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("audit %s: %w", id, sentinel.ErrNotFound)
	}
	if err != nil {
		return nil, wrapErr("get audit "+id, err)
	}
	var a models.Audit
	if err := json.Unmarshal(raw, &a); err != nil {
		return nil, fmt.Errorf("decode audit %s: %w", id, err)
	}
	if a.Results == nil {
		a.Results = []models.Result{}
	}
	return &a, nil
}

func score(t time.Time) float64 {
	return float64(t.UnixMicro())
}
