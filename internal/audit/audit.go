// ClarusRCM | 2026
// audit.go

package audit

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// Entry is one audit trail record. Detail is free-form and stored as
// jsonb.
type Entry struct {
	ID        uuid.UUID      `db:"id"`
	ActorID   *uuid.UUID     `db:"actor_id"`
	OrgID     *uuid.UUID     `db:"org_id"`
	Action    string         `db:"action"`
	Detail    map[string]any `db:"-"`
	IPAddress string         `db:"ip_address"`
	CreatedAt time.Time      `db:"created_at"`
}

// Recorder accepts audit entries. Record never returns an error and
// never blocks the request path: the audit trail is best-effort and an
// outage there must not fail logins or webhook processing.
type Recorder interface {
	Record(ctx context.Context, entry Entry)
}

type NopRecorder struct{}

func (NopRecorder) Record(context.Context, Entry) {}

const (
	bufferSize   = 256
	writeTimeout = 5 * time.Second
)

// PostgresRecorder writes entries from a single background goroutine so
// request handlers only pay for a channel send.
type PostgresRecorder struct {
	db     *sqlx.DB
	logger *slog.Logger
	queue  chan Entry
	done   chan struct{}
	once   sync.Once
}

func NewPostgresRecorder(db *sqlx.DB, logger *slog.Logger) *PostgresRecorder {
	r := &PostgresRecorder{
		db:     db,
		logger: logger,
		queue:  make(chan Entry, bufferSize),
		done:   make(chan struct{}),
	}

	go r.writeLoop()

	return r
}

func (r *PostgresRecorder) Record(_ context.Context, entry Entry) {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	select {
	case r.queue <- entry:
	default:
		r.logger.Warn("audit queue full, entry dropped",
			"action", entry.Action,
		)
	}
}

// Close stops accepting entries and drains what is already queued.
func (r *PostgresRecorder) Close() {
	r.once.Do(func() {
		close(r.queue)
		<-r.done
	})
}

func (r *PostgresRecorder) writeLoop() {
	defer close(r.done)

	for entry := range r.queue {
		r.write(entry)
	}
}

func (r *PostgresRecorder) write(entry Entry) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	detail := []byte("{}")
	if entry.Detail != nil {
		encoded, err := json.Marshal(entry.Detail)
		if err != nil {
			r.logger.Warn("audit detail not serializable",
				"action", entry.Action,
				"error", err,
			)
		} else {
			detail = encoded
		}
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO audit_log (
			id, actor_id, org_id, action, detail, ip_address, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		entry.ID,
		entry.ActorID,
		entry.OrgID,
		entry.Action,
		detail,
		entry.IPAddress,
		entry.CreatedAt,
	)
	if err != nil {
		r.logger.Warn("audit write failed",
			"action", entry.Action,
			"error", err,
		)
	}
}
