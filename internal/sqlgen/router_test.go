package sqlgen

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/altiviz/datachat/internal/storage"
)

func TestRoute(t *testing.T) {
	analytic := []string{"ds_sales", "ds_inventory"}

	t.Run("known analytic table as whole word", func(t *testing.T) {
		assert.Equal(t, storage.EngineAnalytic,
			Route("SELECT COUNT(*) FROM ds_sales", analytic))
	})

	t.Run("known analytic table quoted", func(t *testing.T) {
		assert.Equal(t, storage.EngineAnalytic,
			Route(`SELECT * FROM "ds_inventory" LIMIT 5`, analytic))
	})

	t.Run("unknown tables route relational", func(t *testing.T) {
		assert.Equal(t, storage.EngineRelational,
			Route("SELECT COUNT(*) FROM documents", analytic))
	})

	t.Run("generated-table prefix heuristic wins without a known match", func(t *testing.T) {
		// Table created after the known list was cached.
		assert.Equal(t, storage.EngineAnalytic,
			Route(`SELECT * FROM ds_fresh_upload`, analytic))
		assert.Equal(t, storage.EngineAnalytic,
			Route(`SELECT * FROM ds_fresh_upload`, nil))
	})

	t.Run("substring of a table name is not a match", func(t *testing.T) {
		// "sales" alone must not match "ds_sales".
		assert.Equal(t, storage.EngineRelational,
			Route("SELECT * FROM sales", []string{"ds_salesfoo"}))
	})

	t.Run("case insensitive", func(t *testing.T) {
		assert.Equal(t, storage.EngineAnalytic,
			Route(`SELECT * FROM DS_SALES`, analytic))
	})
}
