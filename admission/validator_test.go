package admission

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func testQuotaConfig() QuotaConfig {
	return QuotaConfig{
		MaxQueryLength:  10000,
		MaxJoins:        3,
		MaxWindows:      2,
		BlockedKeywords: []string{"DELETE", "DROP", "INSERT", "UPDATE"},
	}
}

func TestValidateAdHoc(t *testing.T) {
	cfg := testQuotaConfig()

	tests := []struct {
		name         string
		sql          string
		wantAdmitted bool
		wantReason   string
		wantWarnings int
	}{
		{
			name:         "select with where, no warnings",
			sql:          "SELECT * FROM orders WHERE amount > 100;",
			wantAdmitted: true,
			wantWarnings: 0,
		},
		{
			name:         "select without where or limit warns",
			sql:          "SELECT * FROM orders;",
			wantAdmitted: true,
			wantWarnings: 1,
		},
		{
			name:         "empty query",
			sql:          "   \t\n ",
			wantAdmitted: false,
			wantReason:   "query cannot be empty",
		},
		{
			name:         "not a select",
			sql:          "DROP STREAM foo;",
			wantAdmitted: false,
			wantReason:   "query must be a SELECT statement",
		},
		{
			name:         "lowercase select accepted",
			sql:          "select id from orders where id = 1",
			wantAdmitted: true,
			wantWarnings: 0,
		},
		{
			name:         "blocked keyword inside select",
			sql:          "SELECT * FROM orders WHERE note = 'x'; DELETE FROM orders",
			wantAdmitted: false,
			wantReason:   "query contains blocked keyword: DELETE",
		},
		{
			name: "too many joins",
			sql: "SELECT * FROM a JOIN b ON a.id=b.id JOIN c ON b.id=c.id " +
				"JOIN d ON c.id=d.id JOIN e ON d.id=e.id WHERE a.id > 0",
			wantAdmitted: false,
			wantReason:   "query has 4 JOINs, the maximum allowed is 3",
		},
		{
			name:         "joins within limit warn",
			sql:          "SELECT * FROM a JOIN b ON a.id=b.id WHERE a.id > 0",
			wantAdmitted: true,
			wantWarnings: 1,
		},
		{
			name:         "join as substring of identifier does not count",
			sql:          "SELECT joined_at FROM memberships WHERE joined_at > 0",
			wantAdmitted: true,
			wantWarnings: 0,
		},
		{
			name:         "window within limit warns",
			sql:          "SELECT count(*) FROM clicks WINDOW TUMBLING (SIZE 1 MINUTE) WHERE region='eu' GROUP BY region",
			wantAdmitted: true,
			wantWarnings: 1,
		},
		{
			name:         "too many windows",
			sql:          "SELECT 1 FROM t WINDOW a WINDOW b WINDOW c WHERE x > 0",
			wantAdmitted: false,
			wantReason:   "query has 3 WINDOW clauses, the maximum allowed is 2",
		},
		{
			name:         "emit changes absence is not fatal",
			sql:          "SELECT * FROM orders WHERE amount > 100",
			wantAdmitted: true,
			wantWarnings: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := ValidateAdHoc(tt.sql, cfg)
			assert.Equal(t, tt.wantAdmitted, out.Admitted)
			if tt.wantReason != "" {
				assert.Equal(t, tt.wantReason, out.Reason)
			}
			if tt.wantAdmitted {
				assert.Len(t, out.Warnings, tt.wantWarnings)
				assert.Empty(t, out.Reason)
			}
		})
	}
}

func TestValidateAdHocLength(t *testing.T) {
	cfg := testQuotaConfig()
	cfg.MaxQueryLength = 30

	out := ValidateAdHoc("SELECT a_really_long_column FROM somewhere WHERE x > 0", cfg)
	assert.False(t, out.Admitted)
	assert.Equal(t, "query exceeds the maximum length of 30 characters", out.Reason)
}

func TestValidateAdHocRejectionIsFailFast(t *testing.T) {
	cfg := testQuotaConfig()

	// not a SELECT and also contains a blocked keyword: only the first
	// failed check is reported
	out := ValidateAdHoc("DELETE FROM orders", cfg)
	assert.False(t, out.Admitted)
	assert.Equal(t, "query must be a SELECT statement", out.Reason)
	assert.Empty(t, out.Warnings)
}

func TestValidatePersistent(t *testing.T) {
	cfg := testQuotaConfig()

	tests := []struct {
		name         string
		sql          string
		stream       string
		wantAdmitted bool
		wantReason   string
		wantWarnings int
	}{
		{
			name:         "valid persistent query",
			sql:          "SELECT * FROM orders WHERE amount > 100 EMIT CHANGES",
			stream:       "big_orders",
			wantAdmitted: true,
		},
		{
			name:       "stream name required",
			sql:        "SELECT * FROM orders WHERE amount > 100",
			stream:     "  ",
			wantReason: "stream name cannot be empty",
		},
		{
			name:       "limit is fatal",
			sql:        "SELECT * FROM orders WHERE amount > 100 LIMIT 10",
			stream:     "big_orders",
			wantReason: "LIMIT is not allowed in persistent queries, they run continuously",
		},
		{
			name:       "must be select",
			sql:        "TERMINATE query_1",
			stream:     "big_orders",
			wantReason: "query must be a SELECT statement",
		},
		{
			name: "excess joins warn instead of reject",
			sql: "SELECT * FROM a JOIN b ON a.id=b.id JOIN c ON b.id=c.id " +
				"JOIN d ON c.id=d.id JOIN e ON d.id=e.id",
			stream:       "fat_join",
			wantAdmitted: true,
			wantWarnings: 1,
		},
		{
			name:         "window count is not checked",
			sql:          "SELECT 1 FROM t WINDOW a WINDOW b WINDOW c",
			stream:       "windowed",
			wantAdmitted: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := ValidatePersistent(tt.sql, tt.stream, cfg)
			assert.Equal(t, tt.wantAdmitted, out.Admitted)
			if tt.wantReason != "" {
				assert.Equal(t, tt.wantReason, out.Reason)
			}
			if tt.wantAdmitted {
				assert.Len(t, out.Warnings, tt.wantWarnings)
			}
		})
	}
}

func TestHasEmitChanges(t *testing.T) {
	assert.True(t, HasEmitChanges("SELECT * FROM orders EMIT CHANGES"))
	assert.True(t, HasEmitChanges("select * from orders emit  changes;"))
	assert.False(t, HasEmitChanges("SELECT * FROM orders"))
	assert.False(t, HasEmitChanges("SELECT emitchanges FROM orders"))
}
