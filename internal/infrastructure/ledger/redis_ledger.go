package ledger

import (
	"context"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"BTCIngest/internal/domain"
	"BTCIngest/internal/metrics"
	"BTCIngest/internal/ports"
)

// DefaultKey is the set holding every fully ingested file path.
const DefaultKey = "processed_files"

// RedisLedger is the shared entry point to the processed-files set.
type RedisLedger struct {
	client  *redis.Client
	key     string
	logger  *slog.Logger
	metrics *metrics.Metrics
}

var _ ports.LedgerFactory = (*RedisLedger)(nil)

// NewRedisLedger wraps client; an empty key selects DefaultKey.
func NewRedisLedger(client *redis.Client, key string, log *slog.Logger, m *metrics.Metrics) *RedisLedger {
	if key == "" {
		key = DefaultKey
	}
	if log == nil {
		log = slog.Default()
	}
	return &RedisLedger{client: client, key: key, logger: log, metrics: m}
}

// Session returns a ledger view bound to one execution context.
func (l *RedisLedger) Session() ports.LedgerSession {
	return &Session{ledger: l}
}

// Ping checks reachability of the ledger server.
func (l *RedisLedger) Ping(ctx context.Context) error {
	if err := l.client.Ping(ctx).Err(); err != nil {
		return &domain.ConnectivityError{Op: "ping", Err: err}
	}
	return nil
}

// Reset forgets every processed path.
func (l *RedisLedger) Reset(ctx context.Context) error {
	if err := l.client.Del(ctx, l.key).Err(); err != nil {
		return &domain.ConnectivityError{Op: "reset", Err: err}
	}
	return nil
}

// Session owns at most one dedicated connection, acquired on first use.
// It is not safe for concurrent use; every worker holds its own.
type Session struct {
	ledger *RedisLedger
	conn   *redis.Conn
}

var _ ports.LedgerSession = (*Session)(nil)

func (s *Session) acquire() *redis.Conn {
	if s.conn == nil {
		s.conn = s.ledger.client.Conn()
	}
	return s.conn
}

// drop releases a connection that failed so the next call dials afresh.
func (s *Session) drop() {
	if s.conn != nil {
		_ = s.conn.Close()
		s.conn = nil
	}
}

// Check queries set membership.
func (s *Session) Check(ctx context.Context, path string) (bool, error) {
	ok, err := s.acquire().SIsMember(ctx, s.ledger.key, path).Result()
	if err != nil {
		s.drop()
		return false, &domain.ConnectivityError{Op: "check", Err: err}
	}
	return ok, nil
}

// Mark adds path to the set. Adding an existing member is a no-op.
func (s *Session) Mark(ctx context.Context, path string) error {
	if err := s.acquire().SAdd(ctx, s.ledger.key, path).Err(); err != nil {
		s.drop()
		return &domain.ConnectivityError{Op: "mark", Err: err}
	}
	return nil
}

// IsProcessed reports membership and treats an unreachable ledger as "not processed".
func (s *Session) IsProcessed(ctx context.Context, path string) bool {
	ok, err := s.Check(ctx, path)
	if err != nil {
		s.ledger.metrics.LedgerError("check")
		s.ledger.logger.Warn("ledger unreachable, assuming unprocessed", "path", path, "error", err)
		return false
	}
	return ok
}

// MarkProcessed records path; a lost mark means the file is ingested again on the next scan.
func (s *Session) MarkProcessed(ctx context.Context, path string) {
	if err := s.Mark(ctx, path); err != nil {
		s.ledger.metrics.LedgerError("mark")
		s.ledger.logger.Warn("ledger unreachable, mark not persisted", "path", path, "error", err)
	}
}

// Close returns the dedicated connection to the pool.
func (s *Session) Close() error {
	if s.conn == nil {
		return nil
	}
	err := s.conn.Close()
	s.conn = nil
	return err
}
