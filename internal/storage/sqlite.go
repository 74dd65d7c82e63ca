package storage

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"courier/internal/models"
)

type SQLiteStorage struct {
	db *sql.DB
}

func NewSQLite(path string) (*SQLiteStorage, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	return &SQLiteStorage{db: db}, nil
}

func (s *SQLiteStorage) Migrate(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			payload_type TEXT NOT NULL,
			payload_data TEXT NOT NULL,
			requested_by TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS message_destinations (
			id TEXT PRIMARY KEY,
			message_id TEXT NOT NULL REFERENCES messages(id) ON DELETE CASCADE,
			messenger_type TEXT NOT NULL,
			chat_id TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'pending',
			retry_count INTEGER NOT NULL DEFAULT 0,
			last_attempt DATETIME,
			next_eligible_at DATETIME,
			sent_at DATETIME,
			error_message TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS message_attempts (
			id TEXT PRIMARY KEY,
			message_id TEXT NOT NULL REFERENCES messages(id) ON DELETE CASCADE,
			destination_id TEXT NOT NULL REFERENCES message_destinations(id) ON DELETE CASCADE,
			attempt_number INTEGER NOT NULL,
			status TEXT NOT NULL,
			status_reason TEXT NOT NULL DEFAULT '',
			requested_by TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS messenger_tokens (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			messenger TEXT NOT NULL,
			access_token TEXT NOT NULL,
			refresh_token TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL DEFAULT 'active',
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_destinations_status ON message_destinations(status)`,
		`CREATE INDEX IF NOT EXISTS idx_destinations_messenger ON message_destinations(messenger_type)`,
		`CREATE INDEX IF NOT EXISTS idx_destinations_retry ON message_destinations(retry_count, status)`,
		`CREATE INDEX IF NOT EXISTS idx_destinations_message ON message_destinations(message_id)`,
		`CREATE INDEX IF NOT EXISTS idx_attempts_message ON message_attempts(message_id)`,
		`CREATE INDEX IF NOT EXISTS idx_attempts_destination ON message_attempts(destination_id)`,
		`CREATE INDEX IF NOT EXISTS idx_tokens_user ON messenger_tokens(user_id, messenger, status)`,
	}

	for _, q := range queries {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// --- Messages ---

func (s *SQLiteStorage) CreateMessage(ctx context.Context, msg *models.Message, dests []models.Destination) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO messages (id, payload_type, payload_data, requested_by, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.PayloadType, msg.Payload, msg.RequestedBy, msg.CreatedAt, msg.UpdatedAt,
	); err != nil {
		return err
	}

	for _, d := range dests {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO message_destinations (id, message_id, messenger_type, chat_id, status, retry_count, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			d.ID, d.MessageID, d.Messenger, d.ChatID, d.Status, d.RetryCount, d.CreatedAt, d.UpdatedAt,
		); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (s *SQLiteStorage) GetMessage(ctx context.Context, id string) (*models.Message, error) {
	var msg models.Message
	err := s.db.QueryRowContext(ctx,
		`SELECT id, payload_type, payload_data, requested_by, created_at, updated_at FROM messages WHERE id = ?`, id,
	).Scan(&msg.ID, &msg.PayloadType, &msg.Payload, &msg.RequestedBy, &msg.CreatedAt, &msg.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return &msg, err
}

func (s *SQLiteStorage) ListMessages(ctx context.Context, limit, offset int) ([]models.Message, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, payload_type, payload_data, requested_by, created_at, updated_at FROM messages ORDER BY created_at DESC LIMIT ? OFFSET ?`,
		limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []models.Message
	for rows.Next() {
		var msg models.Message
		if err := rows.Scan(&msg.ID, &msg.PayloadType, &msg.Payload, &msg.RequestedBy, &msg.CreatedAt, &msg.UpdatedAt); err != nil {
			return nil, err
		}
		msgs = append(msgs, msg)
	}
	return msgs, rows.Err()
}

// --- Destinations ---

const destinationColumns = `id, message_id, messenger_type, chat_id, status, retry_count, last_attempt, next_eligible_at, sent_at, error_message, created_at, updated_at`

func (s *SQLiteStorage) scanDestination(row interface{ Scan(...interface{}) error }) (*models.Destination, error) {
	var d models.Destination
	err := row.Scan(&d.ID, &d.MessageID, &d.Messenger, &d.ChatID, &d.Status, &d.RetryCount,
		&d.LastAttemptAt, &d.NextEligibleAt, &d.SentAt, &d.ErrorMessage, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (s *SQLiteStorage) GetDestination(ctx context.Context, id string) (*models.Destination, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+destinationColumns+` FROM message_destinations WHERE id = ?`, id)
	d, err := s.scanDestination(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return d, err
}

func (s *SQLiteStorage) GetDestinationsByMessage(ctx context.Context, messageID string) ([]models.Destination, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+destinationColumns+` FROM message_destinations WHERE message_id = ? ORDER BY created_at`, messageID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var dests []models.Destination
	for rows.Next() {
		d, err := s.scanDestination(rows)
		if err != nil {
			return nil, err
		}
		dests = append(dests, *d)
	}
	return dests, rows.Err()
}

func (s *SQLiteStorage) GetEligibleDestinations(ctx context.Context, limit int, now time.Time, leaseTimeout time.Duration) ([]models.Destination, error) {
	leaseCutoff := now.Add(-leaseTimeout)
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+destinationColumns+`
		 FROM message_destinations
		 WHERE (status IN ('pending', 'retry_scheduled') AND (next_eligible_at IS NULL OR next_eligible_at <= ?))
		    OR (status = 'in_flight' AND last_attempt IS NOT NULL AND last_attempt <= ?)
		 ORDER BY COALESCE(next_eligible_at, created_at) ASC, created_at ASC
		 LIMIT ?`,
		now, leaseCutoff, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var dests []models.Destination
	for rows.Next() {
		d, err := s.scanDestination(rows)
		if err != nil {
			return nil, err
		}
		dests = append(dests, *d)
	}
	return dests, rows.Err()
}

func (s *SQLiteStorage) ClaimDestination(ctx context.Context, id string, now time.Time, leaseTimeout time.Duration) (bool, error) {
	leaseCutoff := now.Add(-leaseTimeout)
	res, err := s.db.ExecContext(ctx,
		`UPDATE message_destinations
		 SET status = 'in_flight', last_attempt = ?, updated_at = ?
		 WHERE id = ?
		   AND ((status IN ('pending', 'retry_scheduled') AND (next_eligible_at IS NULL OR next_eligible_at <= ?))
		     OR (status = 'in_flight' AND last_attempt IS NOT NULL AND last_attempt <= ?))`,
		now, now, id, now, leaseCutoff)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *SQLiteStorage) FinalizeAttempt(ctx context.Context, d *models.Destination, reason, actor string) (*models.Attempt, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	// Fenced on the lease stamp: only the worker whose claim wrote
	// last_attempt may finalize. A worker whose lease was reclaimed
	// mid-attempt loses here the same way it loses a claim, so a terminal
	// row can never be regressed and no post-terminal attempt is recorded.
	res, err := tx.ExecContext(ctx,
		`UPDATE message_destinations
		 SET status = ?, retry_count = ?, next_eligible_at = ?, sent_at = ?, error_message = ?, updated_at = ?
		 WHERE id = ? AND status = 'in_flight' AND last_attempt = ?`,
		d.Status, d.RetryCount, d.NextEligibleAt, d.SentAt, d.ErrorMessage, time.Now().UTC(), d.ID, d.LastAttemptAt,
	)
	if err != nil {
		return nil, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}

	var attemptNumber int
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(attempt_number), 0) + 1 FROM message_attempts WHERE destination_id = ?`, d.ID,
	).Scan(&attemptNumber); err != nil {
		return nil, err
	}

	attempt := &models.Attempt{
		ID:            models.NewID("att"),
		MessageID:     d.MessageID,
		DestinationID: d.ID,
		AttemptNumber: attemptNumber,
		Status:        d.Status,
		StatusReason:  reason,
		RequestedBy:   actor,
		CreatedAt:     time.Now().UTC(),
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO message_attempts (id, message_id, destination_id, attempt_number, status, status_reason, requested_by, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		attempt.ID, attempt.MessageID, attempt.DestinationID, attempt.AttemptNumber,
		attempt.Status, attempt.StatusReason, attempt.RequestedBy, attempt.CreatedAt,
	); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return attempt, nil
}

func (s *SQLiteStorage) RequeueFailedDestinations(ctx context.Context, messageID string, now time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE message_destinations
		 SET status = 'retry_scheduled', next_eligible_at = ?, error_message = '', updated_at = ?
		 WHERE message_id = ? AND status = 'failed'`,
		now, now, messageID)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// --- Attempts ---

const attemptColumns = `id, message_id, destination_id, attempt_number, status, status_reason, requested_by, created_at`

func (s *SQLiteStorage) GetAttemptsByDestination(ctx context.Context, destinationID string) ([]models.Attempt, error) {
	return s.queryAttempts(ctx,
		`SELECT `+attemptColumns+` FROM message_attempts WHERE destination_id = ? ORDER BY attempt_number`, destinationID)
}

func (s *SQLiteStorage) GetAttemptsByMessage(ctx context.Context, messageID string) ([]models.Attempt, error) {
	return s.queryAttempts(ctx,
		`SELECT `+attemptColumns+` FROM message_attempts WHERE message_id = ? ORDER BY created_at, attempt_number`, messageID)
}

func (s *SQLiteStorage) queryAttempts(ctx context.Context, query string, arg interface{}) ([]models.Attempt, error) {
	rows, err := s.db.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var attempts []models.Attempt
	for rows.Next() {
		var a models.Attempt
		if err := rows.Scan(&a.ID, &a.MessageID, &a.DestinationID, &a.AttemptNumber,
			&a.Status, &a.StatusReason, &a.RequestedBy, &a.CreatedAt); err != nil {
			return nil, err
		}
		attempts = append(attempts, a)
	}
	return attempts, rows.Err()
}

// --- Tokens ---

const tokenColumns = `id, user_id, messenger, access_token, refresh_token, status, created_at, updated_at`

func (s *SQLiteStorage) CreateToken(ctx context.Context, t *models.Token) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messenger_tokens (id, user_id, messenger, access_token, refresh_token, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.UserID, t.Messenger, t.AccessToken, t.RefreshToken, t.Status, t.CreatedAt, t.UpdatedAt,
	)
	return err
}

func (s *SQLiteStorage) scanToken(row interface{ Scan(...interface{}) error }) (*models.Token, error) {
	var t models.Token
	err := row.Scan(&t.ID, &t.UserID, &t.Messenger, &t.AccessToken, &t.RefreshToken, &t.Status, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *SQLiteStorage) GetToken(ctx context.Context, id string) (*models.Token, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+tokenColumns+` FROM messenger_tokens WHERE id = ?`, id)
	t, err := s.scanToken(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return t, err
}

func (s *SQLiteStorage) GetActiveToken(ctx context.Context, userID string, messenger models.MessengerType) (*models.Token, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+tokenColumns+` FROM messenger_tokens
		 WHERE user_id = ? AND messenger = ? AND status = 'active'
		 ORDER BY created_at DESC LIMIT 1`,
		userID, messenger)
	t, err := s.scanToken(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return t, err
}

func (s *SQLiteStorage) ListTokens(ctx context.Context, userID string) ([]models.Token, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+tokenColumns+` FROM messenger_tokens WHERE user_id = ? ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tokens []models.Token
	for rows.Next() {
		t, err := s.scanToken(rows)
		if err != nil {
			return nil, err
		}
		tokens = append(tokens, *t)
	}
	return tokens, rows.Err()
}

func (s *SQLiteStorage) UpdateTokenStatus(ctx context.Context, id string, status models.TokenStatus) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE messenger_tokens SET status = ?, updated_at = ? WHERE id = ?`,
		status, time.Now().UTC(), id,
	)
	return err
}

func (s *SQLiteStorage) UpdateTokenCredentials(ctx context.Context, id, accessToken, refreshToken string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE messenger_tokens SET access_token = ?, refresh_token = ?, status = 'active', updated_at = ? WHERE id = ?`,
		accessToken, refreshToken, time.Now().UTC(), id,
	)
	return err
}

// --- Stats ---

func (s *SQLiteStorage) GetStats(ctx context.Context) (*Stats, error) {
	stats := &Stats{ByMessenger: map[string]int64{}}

	s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages`).Scan(&stats.TotalMessages)
	s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM message_destinations`).Scan(&stats.TotalDestinations)
	s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM message_destinations WHERE status = 'sent'`).Scan(&stats.SentCount)
	s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM message_destinations WHERE status = 'failed'`).Scan(&stats.FailedCount)
	s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM message_destinations WHERE status IN ('pending', 'retry_scheduled')`).Scan(&stats.PendingCount)
	s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM message_destinations WHERE status = 'in_flight'`).Scan(&stats.InFlightCount)

	rows, err := s.db.QueryContext(ctx, `SELECT messenger_type, COUNT(*) FROM message_destinations GROUP BY messenger_type`)
	if err == nil {
		defer rows.Close()
		for rows.Next() {
			var m string
			var n int64
			if err := rows.Scan(&m, &n); err == nil {
				stats.ByMessenger[m] = n
			}
		}
	}

	if stats.TotalDestinations > 0 {
		stats.SuccessRate = float64(stats.SentCount) / float64(stats.TotalDestinations) * 100
	}

	return stats, nil
}
