// Package session tracks live authentication sessions in Redis, decoupled
// from the durable store. It enforces a per-user capacity bound with
// oldest-first eviction and keeps a global counter of live sessions.
package session

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"authgrid.org/internal/obs"
)

// ErrUnavailable signals the session store could not be reached. Callers
// fail closed: mutations report failure, reads degrade to empty results.
var ErrUnavailable = errors.New("session: store unavailable")

const (
	userSetPrefix = "user_sessions:"
	recordPrefix  = "session:"
	counterKey    = "active_sessions_count"

	fieldUserID    = "user_id"
	fieldCreatedAt = "created_at"
	fieldUserAgent = "user_agent"

	lockStripes = 64
)

// decrFloor decrements the counter but never below zero. Ad-hoc DECR could
// drive the counter negative when a remove races a failed add.
var decrFloor = redis.NewScript(`
local v = tonumber(redis.call("GET", KEYS[1]) or "0")
if v > 0 then
  return redis.call("DECR", KEYS[1])
end
return 0
`)

// Descriptor describes one live session.
type Descriptor struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
	UserAgent string    `json:"user_agent,omitempty"`
}

// Registry is the session-tracking subsystem. It is safe for concurrent use:
// the capacity-check/evict/insert sequence for a given user runs under a
// per-user critical section, so concurrent logins cannot push a user past
// the limit or double-decrement the counter.
type Registry struct {
	client    redis.UniversalClient
	limit     int
	opTimeout time.Duration
	now       func() time.Time
	log       *slog.Logger

	locks [lockStripes]sync.Mutex
}

// Option configures Registry behavior.
type Option func(*Registry)

// WithLimit sets the per-user session capacity. Zero disables eviction.
func WithLimit(n int) Option {
	return func(r *Registry) {
		if n >= 0 {
			r.limit = n
		}
	}
}

// WithTimeout bounds each Redis round trip.
func WithTimeout(d time.Duration) Option {
	return func(r *Registry) {
		if d > 0 {
			r.opTimeout = d
		}
	}
}

// WithClock overrides the time source, useful for eviction-order tests.
func WithClock(fn func() time.Time) Option {
	return func(r *Registry) {
		if fn != nil {
			r.now = fn
		}
	}
}

// WithLogger overrides the registry logger.
func WithLogger(log *slog.Logger) Option {
	return func(r *Registry) {
		if log != nil {
			r.log = log
		}
	}
}

// New constructs a Registry over the given Redis client.
func New(client redis.UniversalClient, opts ...Option) (*Registry, error) {
	if client == nil {
		return nil, errors.New("session: redis client is required")
	}
	r := &Registry{
		client:    client,
		limit:     5,
		opTimeout: 3 * time.Second,
		now:       time.Now,
		log:       obs.Component("session"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Add registers a session for the user. When the user is at capacity the
// oldest session (smallest creation timestamp) is evicted first. Re-adding
// an existing session id refreshes its presence without evicting anything,
// keeping its original creation time and leaving the counter alone.
func (r *Registry) Add(ctx context.Context, userID, sessionID, userAgent string) error {
	if userID == "" || sessionID == "" {
		return errors.New("session: user id and session id are required")
	}
	mu := r.lockFor(userID)
	mu.Lock()
	defer mu.Unlock()

	ctx, cancel := r.opCtx(ctx)
	defer cancel()

	setKey := userSetPrefix + userID
	present, err := r.client.SIsMember(ctx, setKey, sessionID).Result()
	if err != nil {
		return fmt.Errorf("%w: check session: %v", ErrUnavailable, err)
	}

	// A re-add keeps its slot; only genuinely new sessions count against
	// the capacity limit.
	if !present && r.limit > 0 {
		count, err := r.client.SCard(ctx, setKey).Result()
		if err != nil {
			return fmt.Errorf("%w: count sessions: %v", ErrUnavailable, err)
		}
		if count >= int64(r.limit) {
			if err := r.evictOldest(ctx, userID, setKey); err != nil {
				return err
			}
		}
	}

	if err := r.client.SAdd(ctx, setKey, sessionID).Err(); err != nil {
		return fmt.Errorf("%w: add session: %v", ErrUnavailable, err)
	}

	if present {
		if userAgent != "" {
			if err := r.client.HSet(ctx, recordPrefix+sessionID, fieldUserAgent, userAgent).Err(); err != nil {
				return fmt.Errorf("%w: refresh session record: %v", ErrUnavailable, err)
			}
		}
		return nil
	}

	record := map[string]any{
		fieldUserID:    userID,
		fieldCreatedAt: formatInstant(r.now()),
	}
	if userAgent != "" {
		record[fieldUserAgent] = userAgent
	}
	if err := r.client.HSet(ctx, recordPrefix+sessionID, record).Err(); err != nil {
		return fmt.Errorf("%w: write session record: %v", ErrUnavailable, err)
	}

	total, err := r.client.Incr(ctx, counterKey).Result()
	if err != nil {
		return fmt.Errorf("%w: increment counter: %v", ErrUnavailable, err)
	}
	obs.SetActiveSessions(total)
	return nil
}

// Remove deletes one session. Removing an absent session is a successful
// no-op; the counter only moves when a live session actually goes away.
func (r *Registry) Remove(ctx context.Context, userID, sessionID string) error {
	mu := r.lockFor(userID)
	mu.Lock()
	defer mu.Unlock()

	ctx, cancel := r.opCtx(ctx)
	defer cancel()
	return r.remove(ctx, userID, sessionID)
}

// remove assumes the caller holds the user's lock.
func (r *Registry) remove(ctx context.Context, userID, sessionID string) error {
	setKey := userSetPrefix + userID
	present, err := r.client.SIsMember(ctx, setKey, sessionID).Result()
	if err != nil {
		return fmt.Errorf("%w: check session: %v", ErrUnavailable, err)
	}
	if !present {
		return nil
	}

	if err := r.client.SRem(ctx, setKey, sessionID).Err(); err != nil {
		return fmt.Errorf("%w: remove session: %v", ErrUnavailable, err)
	}
	if err := r.client.Del(ctx, recordPrefix+sessionID).Err(); err != nil {
		return fmt.Errorf("%w: delete session record: %v", ErrUnavailable, err)
	}
	total, err := decrFloor.Run(ctx, r.client, []string{counterKey}).Int64()
	if err != nil {
		return fmt.Errorf("%w: decrement counter: %v", ErrUnavailable, err)
	}
	obs.SetActiveSessions(total)
	return nil
}

// InvalidateAll removes every live session for the user. A second call on
// an already-empty set is a successful no-op.
func (r *Registry) InvalidateAll(ctx context.Context, userID string) error {
	mu := r.lockFor(userID)
	mu.Lock()
	defer mu.Unlock()

	ctx, cancel := r.opCtx(ctx)
	defer cancel()

	ids, err := r.client.SMembers(ctx, userSetPrefix+userID).Result()
	if err != nil {
		return fmt.Errorf("%w: list sessions: %v", ErrUnavailable, err)
	}
	for _, id := range ids {
		if err := r.remove(ctx, userID, id); err != nil {
			return err
		}
	}
	return nil
}

// List returns descriptors for the user's live sessions. A user with no
// sessions yields an empty slice, not an error.
func (r *Registry) List(ctx context.Context, userID string) ([]Descriptor, error) {
	ctx, cancel := r.opCtx(ctx)
	defer cancel()

	ids, err := r.client.SMembers(ctx, userSetPrefix+userID).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: list sessions: %v", ErrUnavailable, err)
	}

	out := make([]Descriptor, 0, len(ids))
	for _, id := range ids {
		record, err := r.client.HGetAll(ctx, recordPrefix+id).Result()
		if err != nil {
			return nil, fmt.Errorf("%w: read session record: %v", ErrUnavailable, err)
		}
		if len(record) == 0 {
			continue
		}
		d := Descriptor{
			ID:        id,
			UserID:    record[fieldUserID],
			UserAgent: record[fieldUserAgent],
		}
		if at, ok := parseInstant(record[fieldCreatedAt]); ok {
			d.CreatedAt = at
		}
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// Count returns the global live-session counter, zero when unset or when
// the store is unreachable.
func (r *Registry) Count(ctx context.Context) (int64, error) {
	ctx, cancel := r.opCtx(ctx)
	defer cancel()

	raw, err := r.client.Get(ctx, counterKey).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("%w: read counter: %v", ErrUnavailable, err)
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, nil
	}
	return n, nil
}

// evictOldest removes the session with the smallest creation timestamp from
// the user's set. Records missing a timestamp sort first so orphans are
// reclaimed before healthy sessions.
func (r *Registry) evictOldest(ctx context.Context, userID, setKey string) error {
	ids, err := r.client.SMembers(ctx, setKey).Result()
	if err != nil {
		return fmt.Errorf("%w: enumerate sessions: %v", ErrUnavailable, err)
	}
	if len(ids) == 0 {
		return nil
	}

	oldestID := ""
	oldestAt := float64(0)
	first := true
	for _, id := range ids {
		raw, err := r.client.HGet(ctx, recordPrefix+id, fieldCreatedAt).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return fmt.Errorf("%w: read session record: %v", ErrUnavailable, err)
		}
		at, _ := strconv.ParseFloat(raw, 64)
		if first || at < oldestAt {
			first = false
			oldestID = id
			oldestAt = at
		}
	}

	if err := r.remove(ctx, userID, oldestID); err != nil {
		return err
	}
	obs.SessionEvicted()
	r.log.Debug("session evicted", "user_id", userID, "session_id", oldestID)
	return nil
}

func (r *Registry) lockFor(userID string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(userID))
	return &r.locks[h.Sum32()%lockStripes]
}

func (r *Registry) opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.opTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, r.opTimeout)
}

func formatInstant(t time.Time) string {
	return strconv.FormatFloat(float64(t.UnixNano())/float64(time.Second), 'f', 6, 64)
}

func parseInstant(raw string) (time.Time, bool) {
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil || f <= 0 {
		return time.Time{}, false
	}
	sec := int64(f)
	nsec := int64((f - float64(sec)) * float64(time.Second))
	return time.Unix(sec, nsec).UTC(), true
}
