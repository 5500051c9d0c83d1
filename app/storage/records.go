package storage

import (
	"context"
	"time"

	"github.com/samber/oops"
)

type FinanceRecord struct {
	UserID     string
	RecordType string // "expense" or "income"
	Amount     float64
	Category   string
	Note       string
	RecordDate string // YYYY-MM-DD
}

type WorkRecord struct {
	UserID      string
	Hours       float64
	Description string
	WorkDate    string // YYYY-MM-DD
}

func (sess *Session) InsertFinanceRecord(ctx context.Context, record FinanceRecord) (int64, error) {
	result, err := sess.conn.ExecContext(ctx,
		`INSERT INTO finance_records (user_id, record_type, amount, category, note, record_date, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		record.UserID, record.RecordType, record.Amount, record.Category,
		record.Note, record.RecordDate, time.Now().UnixNano())
	if err != nil {
		return 0, oops.Errorf("failed to insert finance record: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, oops.Errorf("failed to read finance record id: %w", err)
	}

	return id, nil
}

func (sess *Session) InsertWorkRecord(ctx context.Context, record WorkRecord) (int64, error) {
	result, err := sess.conn.ExecContext(ctx,
		`INSERT INTO work_records (user_id, hours, description, work_date, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		record.UserID, record.Hours, record.Description, record.WorkDate, time.Now().UnixNano())
	if err != nil {
		return 0, oops.Errorf("failed to insert work record: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, oops.Errorf("failed to read work record id: %w", err)
	}

	return id, nil
}
