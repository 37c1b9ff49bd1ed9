package db

import (
	"context"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestEnsureSchema_ExecutesAllStatements(t *testing.T) {
	dbtx := new(mockDBTX)
	var executed []string
	dbtx.On("Exec", mock.Anything, mock.MatchedBy(func(sql string) bool {
		executed = append(executed, sql)
		return true
	}), mock.Anything).Return(pgconn.NewCommandTag(""), nil)

	err := EnsureSchema(context.Background(), dbtx, "schedule_wake")
	require.NoError(t, err)
	assert.Len(t, executed, len(schemaStatements)+len(notifyTriggerStatements))
}

func TestEnsureSchema_SubstitutesChannelPrefix(t *testing.T) {
	dbtx := new(mockDBTX)
	var trigger string
	dbtx.On("Exec", mock.Anything, mock.MatchedBy(func(sql string) bool {
		if strings.Contains(sql, "pg_notify") {
			trigger = sql
		}
		return true
	}), mock.Anything).Return(pgconn.NewCommandTag(""), nil)

	err := EnsureSchema(context.Background(), dbtx, "custom_prefix")
	require.NoError(t, err)
	require.NotEmpty(t, trigger, "notify trigger function must be installed")
	assert.Contains(t, trigger, "'custom_prefix_' || NEW.kind")
	assert.NotContains(t, trigger, "{{prefix}}")
}

func TestEnsureSchema_StatementsAreIdempotent(t *testing.T) {
	for _, stmt := range schemaStatements {
		assert.True(t,
			strings.Contains(stmt, "IF NOT EXISTS"),
			"schema statement must be re-runnable: %s", firstLine(stmt))
	}
	for _, stmt := range notifyTriggerStatements {
		ok := strings.Contains(stmt, "CREATE OR REPLACE") ||
			strings.Contains(stmt, "IF EXISTS") ||
			strings.Contains(stmt, "IF NOT EXISTS")
		assert.True(t, ok, "trigger statement must be re-runnable: %s", firstLine(stmt))
	}
}

func TestEnsureSchema_PendingEntriesUniquePerSessionAndKind(t *testing.T) {
	var found bool
	for _, stmt := range schemaStatements {
		if strings.Contains(stmt, "schedule_entries_pending_uniq") {
			found = true
			assert.Contains(t, stmt, "UNIQUE")
			assert.Contains(t, stmt, "WHERE processed = FALSE")
		}
	}
	assert.True(t, found, "pending uniqueness index must exist")
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
