package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/samber/oops"
)

// MaxRecentTurns bounds the per-user turn history. Inserting past the
// bound evicts the oldest turns in the same transaction as the insert.
const MaxRecentTurns = 10

type Context struct {
	UserID    string
	Intent    string
	Domain    string
	State     map[string]any
	UpdatedAt time.Time
}

type Turn struct {
	ID        int64
	UserID    string
	UserInput string
	Intent    string
	Domain    string
	Response  string
	Metadata  map[string]any
	Timestamp time.Time
}

type TurnData struct {
	UserInput string
	Intent    string
	Domain    string
	Response  string
	Metadata  map[string]any
}

// ContextUpdate carries a partial context mutation, nil fields are
// left untouched and State entries are merged key by key.
type ContextUpdate struct {
	Intent *string
	Domain *string
	State  map[string]any
}

func (sess *Session) GetContext(ctx context.Context, userID string) (*Context, error) {
	row := sess.conn.QueryRowContext(ctx,
		`SELECT user_id, intent, domain, state, updated_at
		 FROM conversation_contexts WHERE user_id = ?`, userID)

	result, err := scanContext(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}

	return result, err
}

// GetOrCreateContext is idempotent: the uniqueness constraint on
// user_id resolves concurrent first-access races at the storage layer.
func (sess *Session) GetOrCreateContext(ctx context.Context, userID string) (*Context, error) {
	_, err := sess.conn.ExecContext(ctx,
		`INSERT INTO conversation_contexts (user_id, state, updated_at)
		 VALUES (?, '{}', ?)
		 ON CONFLICT(user_id) DO NOTHING`,
		userID, time.Now().UnixNano())
	if err != nil {
		return nil, oops.Errorf("failed to create context: %w", err)
	}

	result, err := sess.GetContext(ctx, userID)
	if err != nil {
		return nil, err
	}
	if result == nil {
		return nil, oops.Errorf("context missing after upsert for user %q", userID)
	}

	return result, nil
}

func (sess *Session) UpdateContext(ctx context.Context, userID string, update ContextUpdate) (*Context, error) {
	current, err := sess.GetOrCreateContext(ctx, userID)
	if err != nil {
		return nil, err
	}

	if update.Intent != nil {
		current.Intent = *update.Intent
	}
	if update.Domain != nil {
		current.Domain = *update.Domain
	}
	for key, value := range update.State {
		current.State[key] = value
	}

	stateJSON, err := json.Marshal(current.State)
	if err != nil {
		return nil, oops.Errorf("failed to marshal context state: %w", err)
	}

	current.UpdatedAt = time.Now()

	_, err = sess.conn.ExecContext(ctx,
		`UPDATE conversation_contexts
		 SET intent = ?, domain = ?, state = ?, updated_at = ?
		 WHERE user_id = ?`,
		current.Intent, current.Domain, string(stateJSON), current.UpdatedAt.UnixNano(), userID)
	if err != nil {
		return nil, oops.Errorf("failed to update context: %w", err)
	}

	return current, nil
}

// AddTurn inserts a new turn and evicts everything beyond the most
// recent MaxRecentTurns in a single transaction, so the retained set
// is always a contiguous most-recent window.
func (sess *Session) AddTurn(ctx context.Context, userID string, data TurnData) (*Turn, error) {
	metadata := data.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}

	metaJSON, err := json.Marshal(metadata)
	if err != nil {
		return nil, oops.Errorf("failed to marshal turn metadata: %w", err)
	}

	now := time.Now()

	tx, err := sess.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, oops.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	result, err := tx.ExecContext(ctx,
		`INSERT INTO conversation_turns (user_id, user_input, intent, domain, response, metadata, timestamp)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		userID, data.UserInput, data.Intent, data.Domain, data.Response, string(metaJSON), now.UnixNano())
	if err != nil {
		return nil, oops.Errorf("failed to insert turn: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`DELETE FROM conversation_turns
		 WHERE user_id = ?
		   AND id NOT IN (
			SELECT id FROM conversation_turns
			WHERE user_id = ?
			ORDER BY timestamp DESC, id DESC
			LIMIT ?
		 )`,
		userID, userID, MaxRecentTurns)
	if err != nil {
		return nil, oops.Errorf("failed to evict old turns: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return nil, oops.Errorf("failed to commit turn: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, oops.Errorf("failed to read turn id: %w", err)
	}

	return &Turn{
		ID:        id,
		UserID:    userID,
		UserInput: data.UserInput,
		Intent:    data.Intent,
		Domain:    data.Domain,
		Response:  data.Response,
		Metadata:  metadata,
		Timestamp: now,
	}, nil
}

// RecentTurns returns up to limit turns, most recent first.
func (sess *Session) RecentTurns(ctx context.Context, userID string, limit int) ([]Turn, error) {
	if limit <= 0 || limit > MaxRecentTurns {
		limit = MaxRecentTurns
	}

	rows, err := sess.conn.QueryContext(ctx,
		`SELECT id, user_id, user_input, intent, domain, response, metadata, timestamp
		 FROM conversation_turns
		 WHERE user_id = ?
		 ORDER BY timestamp DESC, id DESC
		 LIMIT ?`,
		userID, limit)
	if err != nil {
		return nil, oops.Errorf("failed to query turns: %w", err)
	}
	defer rows.Close()

	var result []Turn

	for rows.Next() {
		var (
			turn     Turn
			metaJSON string
			ts       int64
		)

		if err = rows.Scan(&turn.ID, &turn.UserID, &turn.UserInput, &turn.Intent,
			&turn.Domain, &turn.Response, &metaJSON, &ts); err != nil {
			return nil, oops.Errorf("failed to scan turn: %w", err)
		}

		if err = json.Unmarshal([]byte(metaJSON), &turn.Metadata); err != nil {
			return nil, oops.Errorf("failed to unmarshal turn metadata: %w", err)
		}

		turn.Timestamp = time.Unix(0, ts)
		result = append(result, turn)
	}

	if err = rows.Err(); err != nil {
		return nil, oops.Errorf("turn iteration failed: %w", err)
	}

	return result, nil
}

// TurnCount reports the number of retained turns for a user.
func (sess *Session) TurnCount(ctx context.Context, userID string) (int, error) {
	var count int

	err := sess.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM conversation_turns WHERE user_id = ?`, userID).Scan(&count)
	if err != nil {
		return 0, oops.Errorf("failed to count turns: %w", err)
	}

	return count, nil
}

func scanContext(row *sql.Row) (*Context, error) {
	var (
		result    Context
		stateJSON string
		updatedAt int64
	)

	err := row.Scan(&result.UserID, &result.Intent, &result.Domain, &stateJSON, &updatedAt)
	if err != nil {
		return nil, err
	}

	if err = json.Unmarshal([]byte(stateJSON), &result.State); err != nil {
		return nil, oops.Errorf("failed to unmarshal context state: %w", err)
	}
	if result.State == nil {
		result.State = map[string]any{}
	}

	result.UpdatedAt = time.Unix(0, updatedAt)

	return &result, nil
}
