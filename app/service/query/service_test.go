package query

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"lifelog/app/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateRejectsMutatingKeywords(t *testing.T) {
	cases := []string{
		"SELECT * FROM finance_records WHERE user_id = {user_id}; DROP TABLE finance_records",
		"select * from finance_records where user_id = {user_id} and delete",
		"SELECT 1 WHERE user_id = {user_id} UNION UPDATE finance_records SET amount = 0",
		"SELECT insert FROM finance_records WHERE user_id = {user_id}",
		"SELECT * FROM finance_records WHERE user_id = {user_id} ALTER",
	}

	for _, sql := range cases {
		err := Validate(sql)
		require.Error(t, err, sql)

		var policyErr *PolicyError
		assert.ErrorAs(t, err, &policyErr, sql)
	}
}

func TestValidateRejectsNonSelect(t *testing.T) {
	err := Validate("WITH x AS (SELECT 1) SELECT * FROM x WHERE user_id = {user_id}")
	assert.Error(t, err)

	err = Validate("  update finance_records set amount = 0 where user_id = {user_id}")
	assert.Error(t, err)
}

func TestValidateRejectsChainingAndComments(t *testing.T) {
	cases := []string{
		"SELECT * FROM finance_records WHERE user_id = {user_id}; SELECT 1",
		"SELECT * FROM finance_records WHERE user_id = {user_id} -- comment",
		"SELECT * FROM finance_records /* hidden */ WHERE user_id = {user_id}",
	}

	for _, sql := range cases {
		assert.Error(t, Validate(sql), sql)
	}
}

func TestValidateRejectsMissingUserScope(t *testing.T) {
	err := Validate("SELECT SUM(amount) FROM finance_records")
	require.Error(t, err)

	var policyErr *PolicyError
	require.ErrorAs(t, err, &policyErr)
	assert.Contains(t, policyErr.Reason, "user_id")
}

func TestValidateAcceptsScopedSelect(t *testing.T) {
	assert.NoError(t, Validate(
		"SELECT record_date, SUM(amount) FROM finance_records WHERE user_id = {user_id} GROUP BY record_date"))
}

func TestExecuteBindsUserAndCapsRows(t *testing.T) {
	ctx := context.Background()

	store, err := storage.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	defer store.Shutdown()

	sess, err := store.Acquire(ctx)
	require.NoError(t, err)
	defer sess.Close()

	for i := 0; i < 5; i++ {
		_, err = sess.InsertFinanceRecord(ctx, storage.FinanceRecord{
			UserID:     "u1",
			RecordType: "expense",
			Amount:     float64(10 + i),
			Category:   "food",
			RecordDate: "2025-03-01",
		})
		require.NoError(t, err)
	}
	_, err = sess.InsertFinanceRecord(ctx, storage.FinanceRecord{
		UserID:     "u2",
		RecordType: "expense",
		Amount:     99,
		Category:   "food",
		RecordDate: "2025-03-01",
	})
	require.NoError(t, err)

	rows, _, err := Execute(ctx,
		sess, "SELECT amount FROM finance_records WHERE user_id = {user_id} ORDER BY amount", "u1", 3)
	require.NoError(t, err)
	assert.Len(t, rows, 3, "row cap should be appended when the statement has no LIMIT")
	assert.EqualValues(t, 10, rows[0]["amount"])
}

func TestExecuteReportsColumnsInSelectOrder(t *testing.T) {
	ctx := context.Background()

	store, err := storage.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	defer store.Shutdown()

	sess, err := store.Acquire(ctx)
	require.NoError(t, err)
	defer sess.Close()

	for i, category := range []string{"food", "transport"} {
		_, err = sess.InsertFinanceRecord(ctx, storage.FinanceRecord{
			UserID:     "u1",
			RecordType: "expense",
			Amount:     float64(10 * (i + 1)),
			Category:   category,
			RecordDate: "2025-03-01",
		})
		require.NoError(t, err)
	}

	rows, columns, err := Execute(ctx, sess,
		"SELECT category, SUM(amount) AS total FROM finance_records WHERE user_id = {user_id} GROUP BY category ORDER BY category",
		"u1", 10)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, []string{"category", "total"}, columns)

	markdown := FormatRows(rows, columns, "spending by category")
	lines := strings.Split(markdown, "\n")
	require.Greater(t, len(lines), 3)
	assert.Equal(t, "| category | total |", lines[2], "table headers keep SELECT order")
	assert.Equal(t, "| food | 10.00 |", lines[4])
}

func TestExecuteDistinguishesPolicyFromExecutionFailure(t *testing.T) {
	ctx := context.Background()

	store, err := storage.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	defer store.Shutdown()

	sess, err := store.Acquire(ctx)
	require.NoError(t, err)
	defer sess.Close()

	var policyErr *PolicyError

	_, _, err = Execute(ctx, sess, "DELETE FROM finance_records WHERE user_id = {user_id}", "u1", 10)
	require.Error(t, err)
	assert.True(t, errors.As(err, &policyErr), "rejected by policy")

	_, _, err = Execute(ctx, sess, "SELECT nope FROM no_such_table WHERE user_id = {user_id}", "u1", 10)
	require.Error(t, err)
	assert.False(t, errors.As(err, &policyErr), "execution failure is not a policy error")
}
