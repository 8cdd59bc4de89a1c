package schema

import (
	"context"
	"database/sql"
	"sort"
	"strings"

	"github.com/lib/pq"
)

// LatestVersion is the highest schema version the default step set
// provisions to.
const LatestVersion = 4

// Step is one unit of forward and backward schema change, parameterized
// by a target namespace prefix. Steps are idempotent when re-applied to
// a store already at or above their version: all DDL uses defensive
// "create if not exists" / "drop if exists" semantics so that a store
// bootstrapped out-of-band does not fail a re-run.
type Step interface {
	// Version is the step's index in the contiguous 1..N sequence
	Version() int

	// Description is a short human-readable summary for log lines
	Description() string

	// Up applies the step's forward schema change on tx
	Up(ctx context.Context, tx *sql.Tx, prefix string) error

	// Down reverses exactly what Up introduced, in dependency order
	Down(ctx context.Context, tx *sql.Tx, prefix string) error
}

// DefaultSteps returns the built-in migration step set in ascending
// version order.
func DefaultSteps() []Step {
	steps := []Step{
		stepV01{},
		stepV02{},
		stepV03{},
		stepV04{},
	}
	sort.Slice(steps, func(i, j int) bool { return steps[i].Version() < steps[j].Version() })
	return steps
}

// renderSQL substitutes the namespace markers in a DDL template.
// "{schema}" becomes the quoted prefix for identifier positions and
// "{prefix}" the raw prefix for string literals (advisory lock keys).
func renderSQL(template, prefix string) string {
	out := strings.ReplaceAll(template, "{schema}", pq.QuoteIdentifier(prefix))
	return strings.ReplaceAll(out, "{prefix}", prefix)
}

// execAll renders and executes a sequence of DDL templates on tx
func execAll(ctx context.Context, tx *sql.Tx, prefix string, templates []string) error {
	for _, tmpl := range templates {
		if _, err := tx.ExecContext(ctx, renderSQL(tmpl, prefix)); err != nil {
			return err
		}
	}
	return nil
}
