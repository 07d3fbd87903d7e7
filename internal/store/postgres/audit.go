package postgres

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/marketprism/ingest/internal/store/schema"
)

// AuditSchema verifies that every canonical table exists in db with
// exactly the column set internal/store/schema declares, in declared
// order. Both tiers are audited against the same source of truth, which
// is what makes hot/cold column-equivalence checkable at startup rather
// than discovered on the first failed insert.
func AuditSchema(ctx context.Context, db *sqlx.DB) error {
	for _, t := range schema.All() {
		var got []string
		err := db.SelectContext(ctx, &got, `
			SELECT column_name FROM information_schema.columns
			WHERE table_name = $1 AND table_schema = current_schema()
			ORDER BY ordinal_position`, t.Name)
		if err != nil {
			return fmt.Errorf("postgres: audit %s: %w", t.Name, err)
		}
		if len(got) == 0 {
			return fmt.Errorf("postgres: audit %s: table missing", t.Name)
		}
		if len(got) != len(t.Columns) {
			return fmt.Errorf("postgres: audit %s: %d columns, want %d", t.Name, len(got), len(t.Columns))
		}
		for i, c := range t.Columns {
			if got[i] != c.Name {
				return fmt.Errorf("postgres: audit %s: column %d is %q, want %q", t.Name, i, got[i], c.Name)
			}
		}
	}
	return nil
}
