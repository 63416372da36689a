// Package database implements the durable store on SQLite or PostgreSQL.
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	sq "github.com/Masterminds/squirrel"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	dbconfig "chathub/pkg/database"
	"chathub/pkg/interfaces"
	"chathub/pkg/types"
)

var (
	_ interfaces.Store     = (*Manager)(nil)
	_ interfaces.SeedStore = (*Manager)(nil)
)

// Manager is the SQL durable store.
// ARCHITECTURAL DISCOVERY: SQLite allows one writer at a time, so every write
// is funnelled through a single goroutine; reads go straight to the pool.
// PostgreSQL writes run on the caller's goroutine and rely on row locks.
type Manager struct {
	db           *sql.DB
	dialect      dbconfig.Dialect
	sb           sq.StatementBuilderType
	retryDelay   time.Duration
	logger       *zap.Logger
	writeChannel chan writeOperation // nil for postgres
	shutdown     chan struct{}
	wg           sync.WaitGroup
	closed       bool
	mu           sync.RWMutex
}

type writeOperation struct {
	operation func(*sql.DB) error
	result    chan error
}

// NewManager opens the configured database, applies migrations when enabled
// and starts the writer for SQLite.
func NewManager(config *dbconfig.Config, logger *zap.Logger) (*Manager, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid database config: %w", err)
	}

	var (
		db  *sql.DB
		err error
	)
	switch config.Driver {
	case dbconfig.DialectSQLite:
		if dir := filepath.Dir(config.DatabasePath); dir != "." && config.DatabasePath != ":memory:" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", err)
			}
		}
		db, err = sql.Open("sqlite3", config.DatabasePath+"?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on")
	case dbconfig.DialectPostgres:
		db, err = sql.Open("pgx", config.DSN)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(config.MaxConnections)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	if config.Driver == dbconfig.DialectSQLite {
		if err := applySQLiteOptimizations(db); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to apply SQLite optimizations: %w", err)
		}
	}

	if config.AutoMigrate {
		version, err := dbconfig.Migrate(db, config.Driver)
		if err != nil {
			_ = db.Close()
			return nil, err
		}
		if logger != nil {
			logger.Info("database migrations complete",
				zap.String("driver", string(config.Driver)),
				zap.Uint("version", version))
		}
	}

	m := NewManagerWithDB(db, config.Driver, logger)
	m.retryDelay = config.WriteRetryDelay
	return m, nil
}

// NewManagerWithDB wraps an already opened database. Used by tests with
// go-sqlmock and by callers that manage the pool themselves.
func NewManagerWithDB(db *sql.DB, dialect dbconfig.Dialect, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}

	var placeholder sq.PlaceholderFormat = sq.Question
	if dialect == dbconfig.DialectPostgres {
		placeholder = sq.Dollar
	}

	m := &Manager{
		db:         db,
		dialect:    dialect,
		sb:         sq.StatementBuilder.PlaceholderFormat(placeholder),
		retryDelay: 50 * time.Millisecond,
		logger:     logger,
		shutdown:   make(chan struct{}),
	}

	if dialect == dbconfig.DialectSQLite {
		m.writeChannel = make(chan writeOperation, 100)
		m.wg.Add(1)
		go m.writeLoop()
	}
	return m
}

// writeLoop processes all SQLite write operations in a single goroutine
func (m *Manager) writeLoop() {
	defer m.wg.Done()

	for {
		select {
		case op := <-m.writeChannel:
			err := op.operation(m.db)
			if err != nil && isBusy(err) {
				m.logger.Warn("database busy, retrying write", zap.Error(err))
				time.Sleep(m.retryDelay)
				err = op.operation(m.db)
			}
			op.result <- err

		case <-m.shutdown:
			return
		}
	}
}

// executeWrite runs operation on the writer goroutine (SQLite) or inline (PostgreSQL)
func (m *Manager) executeWrite(ctx context.Context, operation func(*sql.DB) error) error {
	m.mu.RLock()
	closed := m.closed
	m.mu.RUnlock()
	if closed {
		return ErrManagerClosed
	}

	if m.writeChannel == nil {
		return operation(m.db)
	}

	result := make(chan error, 1)
	timeout := time.NewTimer(30 * time.Second)
	defer timeout.Stop()

	select {
	case m.writeChannel <- writeOperation{operation: operation, result: result}:
	case <-ctx.Done():
		return ctx.Err()
	case <-timeout.C:
		return ErrWriteTimeout
	case <-m.shutdown:
		return ErrManagerClosed
	}

	select {
	case err := <-result:
		return err
	case <-m.shutdown:
		return ErrManagerClosed
	}
}

// FindLiveSession returns a non-revoked, unexpired session
func (m *Manager) FindLiveSession(ctx context.Context, sessionID string, now time.Time) (*types.Session, error) {
	query, args, err := m.sb.
		Select("id", "user_id", "credential_hash", "user_agent", "created_at", "expires_at", "revoked_at").
		From("sessions").
		Where(sq.Eq{"id": sessionID}).
		Where(sq.Eq{"revoked_at": nil}).
		Where(sq.Gt{"expires_at": now.UnixMilli()}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build session query: %w", err)
	}

	var (
		session            types.Session
		createdAt, expires int64
		revokedAt          sql.NullInt64
	)
	err = m.db.QueryRowContext(ctx, query, args...).Scan(
		&session.ID,
		&session.UserID,
		&session.CredentialHash,
		&session.UserAgent,
		&createdAt,
		&expires,
		&revokedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, interfaces.ErrSessionNotFound
	}
	if err != nil {
		return nil, storeError("query session", err)
	}

	session.CreatedAt = fromMillis(createdAt)
	session.ExpiresAt = fromMillis(expires)
	session.RevokedAt = fromNullMillis(revokedAt)
	return &session, nil
}

// ConversationIDsForUser lists the conversations a user participates in
func (m *Manager) ConversationIDsForUser(ctx context.Context, userID string) ([]string, error) {
	query, args, err := m.sb.
		Select("conversation_id").
		From("conversation_participants").
		Where(sq.Eq{"user_id": userID}).
		OrderBy("conversation_id").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build membership query: %w", err)
	}

	rows, err := m.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storeError("query memberships", err)
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, storeError("scan membership row", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, storeError("iterate membership rows", err)
	}
	return ids, nil
}

// IsParticipant reports whether userID belongs to the conversation
func (m *Manager) IsParticipant(ctx context.Context, conversationID, userID string) (bool, error) {
	query, args, err := m.sb.
		Select("1").
		From("conversation_participants").
		Where(sq.Eq{"conversation_id": conversationID, "user_id": userID}).
		Limit(1).
		ToSql()
	if err != nil {
		return false, fmt.Errorf("build participant query: %w", err)
	}

	var one int
	err = m.db.QueryRowContext(ctx, query, args...).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, storeError("query participant", err)
	}
	return true, nil
}

// IncrementSequence bumps the conversation counter and returns the new value
// in one statement, so concurrent callers never observe the same value.
func (m *Manager) IncrementSequence(ctx context.Context, conversationID string) (int64, error) {
	query, args, err := m.sequenceUpdate(conversationID)
	if err != nil {
		return 0, err
	}

	var sequence int64
	err = m.executeWrite(ctx, func(db *sql.DB) error {
		return db.QueryRowContext(ctx, query, args...).Scan(&sequence)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return 0, types.ErrConversationNotFound
	}
	if err != nil {
		return 0, storeError("increment sequence", err)
	}
	return sequence, nil
}

// InsertMessage persists a sequenced message
func (m *Manager) InsertMessage(ctx context.Context, message *types.Message) error {
	query, args, err := m.messageInsert(message, message.Sequence)
	if err != nil {
		return err
	}

	err = m.executeWrite(ctx, func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, query, args...)
		return err
	})
	if err != nil {
		return insertError("insert message", err)
	}
	return nil
}

// AppendMessage reserves the next sequence and inserts the message in one
// transaction, then sets message.Sequence. A failed or cancelled insert rolls
// the counter back, so last_sequence always equals the stored message count.
func (m *Manager) AppendMessage(ctx context.Context, message *types.Message) error {
	seqQuery, seqArgs, err := m.sequenceUpdate(message.ConversationID)
	if err != nil {
		return err
	}

	var sequence int64
	err = m.executeWrite(ctx, func(db *sql.DB) error {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		if err := tx.QueryRowContext(ctx, seqQuery, seqArgs...).Scan(&sequence); err != nil {
			return err
		}

		insertQuery, insertArgs, err := m.messageInsert(message, sequence)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, insertQuery, insertArgs...); err != nil {
			return err
		}
		return tx.Commit()
	})
	if errors.Is(err, sql.ErrNoRows) {
		return types.ErrConversationNotFound
	}
	if err != nil {
		return insertError("append message", err)
	}

	message.Sequence = sequence
	return nil
}

func (m *Manager) sequenceUpdate(conversationID string) (string, []any, error) {
	query, args, err := m.sb.
		Update("conversations").
		Set("last_sequence", sq.Expr("last_sequence + 1")).
		Where(sq.Eq{"id": conversationID}).
		Suffix("RETURNING last_sequence").
		ToSql()
	if err != nil {
		return "", nil, fmt.Errorf("build sequence update: %w", err)
	}
	return query, args, nil
}

func (m *Manager) messageInsert(message *types.Message, sequence int64) (string, []any, error) {
	query, args, err := m.sb.
		Insert("messages").
		Columns("id", "conversation_id", "sender_id", "sequence", "content", "created_at").
		Values(
			message.ID,
			message.ConversationID,
			message.SenderID,
			sequence,
			message.Content,
			message.CreatedAt.UnixMilli(),
		).
		ToSql()
	if err != nil {
		return "", nil, fmt.Errorf("build message insert: %w", err)
	}
	return query, args, nil
}

func insertError(op string, err error) error {
	if isUniqueViolation(err) {
		return fmt.Errorf("%s: %w: %w", op, types.ErrStoreUnavailable, interfaces.ErrSequenceConflict)
	}
	return storeError(op, err)
}

// MessagesAfter returns non-deleted messages with sequence > after in ascending order
func (m *Manager) MessagesAfter(ctx context.Context, conversationID string, after int64, limit int) ([]*types.Message, error) {
	if limit <= 0 {
		limit = 500
	}

	query, args, err := m.sb.
		Select("id", "conversation_id", "sender_id", "sequence", "content", "created_at").
		From("messages").
		Where(sq.Eq{"conversation_id": conversationID}).
		Where(sq.Gt{"sequence": after}).
		Where(sq.Eq{"deleted_at": nil}).
		OrderBy("sequence ASC").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build sync query: %w", err)
	}

	rows, err := m.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storeError("query messages", err)
	}
	defer func() { _ = rows.Close() }()

	messages := make([]*types.Message, 0)
	for rows.Next() {
		var (
			message   types.Message
			createdAt int64
		)
		if err := rows.Scan(
			&message.ID,
			&message.ConversationID,
			&message.SenderID,
			&message.Sequence,
			&message.Content,
			&createdAt,
		); err != nil {
			return nil, storeError("scan message row", err)
		}
		message.CreatedAt = fromMillis(createdAt)
		messages = append(messages, &message)
	}
	if err := rows.Err(); err != nil {
		return nil, storeError("iterate message rows", err)
	}
	return messages, nil
}

// UpsertReadState stores sequence only when it is strictly above the stored
// watermark. The comparison happens inside the statement, so concurrent
// proposals cannot regress the value.
func (m *Manager) UpsertReadState(ctx context.Context, conversationID, userID string, sequence int64, now time.Time) (bool, error) {
	query, args, err := m.sb.
		Insert("read_states").
		Columns("conversation_id", "user_id", "last_read_sequence", "updated_at").
		Values(conversationID, userID, sequence, now.UnixMilli()).
		Suffix("ON CONFLICT (conversation_id, user_id) DO UPDATE " +
			"SET last_read_sequence = excluded.last_read_sequence, updated_at = excluded.updated_at " +
			"WHERE read_states.last_read_sequence < excluded.last_read_sequence").
		ToSql()
	if err != nil {
		return false, fmt.Errorf("build read state upsert: %w", err)
	}

	var affected int64
	err = m.executeWrite(ctx, func(db *sql.DB) error {
		result, err := db.ExecContext(ctx, query, args...)
		if err != nil {
			return err
		}
		affected, err = result.RowsAffected()
		return err
	})
	if err != nil {
		return false, storeError("upsert read state", err)
	}
	return affected > 0, nil
}

// CreateSession inserts a session row
func (m *Manager) CreateSession(ctx context.Context, session *types.Session) error {
	query, args, err := m.sb.
		Insert("sessions").
		Columns("id", "user_id", "credential_hash", "user_agent", "created_at", "expires_at").
		Values(
			session.ID,
			session.UserID,
			session.CredentialHash,
			session.UserAgent,
			session.CreatedAt.UnixMilli(),
			session.ExpiresAt.UnixMilli(),
		).
		ToSql()
	if err != nil {
		return fmt.Errorf("build session insert: %w", err)
	}

	err = m.executeWrite(ctx, func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, query, args...)
		return err
	})
	if err != nil {
		return storeError("insert session", err)
	}
	return nil
}

// RevokeSession marks a live session revoked. Revoking an unknown or already
// revoked session returns ErrSessionNotFound.
func (m *Manager) RevokeSession(ctx context.Context, sessionID string, at time.Time) error {
	query, args, err := m.sb.
		Update("sessions").
		Set("revoked_at", at.UnixMilli()).
		Where(sq.Eq{"id": sessionID, "revoked_at": nil}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build session revoke: %w", err)
	}

	var affected int64
	err = m.executeWrite(ctx, func(db *sql.DB) error {
		result, err := db.ExecContext(ctx, query, args...)
		if err != nil {
			return err
		}
		affected, err = result.RowsAffected()
		return err
	})
	if err != nil {
		return storeError("revoke session", err)
	}
	if affected == 0 {
		return interfaces.ErrSessionNotFound
	}
	return nil
}

// CreateConversation inserts a conversation and its participants atomically
func (m *Manager) CreateConversation(ctx context.Context, conversation *types.Conversation) error {
	if err := conversation.Validate(); err != nil {
		return err
	}

	convQuery, convArgs, err := m.sb.
		Insert("conversations").
		Columns("id", "type", "last_sequence", "created_at").
		Values(conversation.ID, conversation.Type, conversation.LastSequence, conversation.CreatedAt.UnixMilli()).
		ToSql()
	if err != nil {
		return fmt.Errorf("build conversation insert: %w", err)
	}

	participants := m.sb.Insert("conversation_participants").Columns("conversation_id", "user_id")
	for _, userID := range conversation.ParticipantIDs {
		participants = participants.Values(conversation.ID, userID)
	}
	partQuery, partArgs, err := participants.ToSql()
	if err != nil {
		return fmt.Errorf("build participant insert: %w", err)
	}

	err = m.executeWrite(ctx, func(db *sql.DB) error {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		if _, err := tx.ExecContext(ctx, convQuery, convArgs...); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, partQuery, partArgs...); err != nil {
			return err
		}
		return tx.Commit()
	})
	if err != nil {
		return storeError("create conversation", err)
	}
	return nil
}

// HealthCheck validates database connectivity and schema presence
func (m *Manager) HealthCheck(ctx context.Context) error {
	if err := m.db.PingContext(ctx); err != nil {
		return storeError("database ping", err)
	}

	var count int64
	if err := m.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM conversations").Scan(&count); err != nil {
		return storeError("database read test", err)
	}
	return nil
}

// DB returns the underlying pool
func (m *Manager) DB() *sql.DB {
	return m.db
}

// Dialect returns the SQL dialect in use
func (m *Manager) Dialect() dbconfig.Dialect {
	return m.dialect
}

// Close stops the writer and closes the pool. Safe to call more than once.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	close(m.shutdown)
	m.wg.Wait()

	if err := m.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}

// applySQLiteOptimizations applies connection pragmas
func applySQLiteOptimizations(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA cache_size = -64000",
		"PRAGMA temp_store = MEMORY",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute pragma %s: %w", pragma, err)
		}
	}
	return nil
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func fromNullMillis(ms sql.NullInt64) *time.Time {
	if !ms.Valid {
		return nil
	}
	t := fromMillis(ms.Int64)
	return &t
}
