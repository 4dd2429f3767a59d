package postgres

import (
	"reflect"
	"testing"
	"time"

	"github.com/alanyoungcy/spotlight/internal/domain"
)

func TestAuditQuery(t *testing.T) {
	t.Parallel()

	since := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		name   string
		filter domain.AuditFilter
		query  string
		args   []any
	}{
		{
			name:   "unfiltered",
			filter: domain.AuditFilter{},
			query:  `SELECT id, event, pool_id, bid_id, actor, detail, created_at FROM audit_log ORDER BY created_at DESC, id DESC`,
		},
		{
			name: "pool history page",
			filter: domain.AuditFilter{
				ListOpts: domain.ListOpts{Limit: 20, Offset: 40, Since: &since},
				Event:    domain.AuditBidPlaced,
				PoolID:   "pool-1",
			},
			query: `SELECT id, event, pool_id, bid_id, actor, detail, created_at FROM audit_log` +
				` WHERE event = $1 AND pool_id = $2 AND created_at >= $3` +
				` ORDER BY created_at DESC, id DESC LIMIT $4 OFFSET $5`,
			args: []any{"bid.placed", "pool-1", since, 20, 40},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			query, args := auditQuery(tt.filter)
			if query != tt.query {
				t.Fatalf("query\n got %s\nwant %s", query, tt.query)
			}
			if !reflect.DeepEqual(args, tt.args) {
				t.Fatalf("args got %v, want %v", args, tt.args)
			}
		})
	}
}
