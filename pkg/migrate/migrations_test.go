package migrate

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"testing/fstest"
)

func TestEmbeddedMigrationsAreValid(t *testing.T) {
	if err := ValidateEmbedded(); err != nil {
		t.Fatalf("embedded migrations invalid: %v", err)
	}
}

func TestValidateFSRejectsBadFiles(t *testing.T) {
	cases := map[string]fstest.MapFS{
		"bad name": {
			"m/create_things.sql": {Data: []byte("-- +goose Up\n-- +goose Down\n")},
		},
		"duplicate version": {
			"m/20260101000000_a.sql": {Data: []byte("-- +goose Up\n-- +goose Down\n")},
			"m/20260101000000_b.sql": {Data: []byte("-- +goose Up\n-- +goose Down\n")},
		},
		"missing down": {
			"m/20260101000000_a.sql": {Data: []byte("-- +goose Up\n")},
		},
	}
	for name, fsys := range cases {
		t.Run(name, func(t *testing.T) {
			if err := ValidateFS(fsys, "m"); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestSchemaCarriesStoreLevelGuards(t *testing.T) {
	all := readAllMigrations(t)
	checks := []string{
		"CONSTRAINT chk_products_stock_non_negative CHECK (stock_quantity >= 0)",
		"CREATE UNIQUE INDEX IF NOT EXISTS ux_user_item_offers_accepted_item ON user_item_offers (item_id) WHERE status = 'ACCEPTED'",
		"ON chat_conversations (item_id, buyer_user_id, seller_user_id) WHERE status = 'ACTIVE'",
		"CREATE UNIQUE INDEX IF NOT EXISTS ux_fee_configurations_active ON fee_configurations (is_active) WHERE is_active",
		"CREATE UNIQUE INDEX IF NOT EXISTS ux_transactions_event_type ON transactions (provider_event_id, type)",
		"CONSTRAINT chk_payments_single_target CHECK ((order_id IS NULL) <> (p2p_order_id IS NULL))",
		"CREATE UNIQUE INDEX IF NOT EXISTS ux_delivery_opportunities_order ON delivery_opportunities (order_id)",
		"CREATE UNIQUE INDEX IF NOT EXISTS ux_p2p_orders_offer ON p2p_orders (offer_id)",
		"address_line1 text NOT NULL",
	}
	for _, sub := range checks {
		if !strings.Contains(all, sub) {
			t.Errorf("missing expected statement %q", sub)
		}
	}
}

func TestCreateSQLMigrationWritesTemplate(t *testing.T) {
	dir := t.TempDir()
	path, err := CreateSQLMigration(dir, "Add Payout Batches!")
	if err != nil {
		t.Fatalf("create migration: %v", err)
	}
	if !strings.HasSuffix(path, "_add_payout_batches.sql") {
		t.Fatalf("unexpected filename %s", path)
	}
	if err := ValidateFS(os.DirFS(dir), "."); err != nil {
		t.Fatalf("created migration invalid: %v", err)
	}
	if _, err := CreateSQLMigration(dir, "!!!"); err == nil {
		t.Fatal("expected error for empty sanitized name")
	}
}

func readAllMigrations(t *testing.T) string {
	t.Helper()
	var b strings.Builder
	err := fs.WalkDir(Migrations, embeddedDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || filepath.Ext(p) != ".sql" {
			return err
		}
		data, err := fs.ReadFile(Migrations, p)
		if err != nil {
			return err
		}
		b.Write(data)
		return nil
	})
	if err != nil {
		t.Fatalf("walk migrations: %v", err)
	}
	return b.String()
}

func TestValidateFSReportsEveryProblem(t *testing.T) {
	fsys := fstest.MapFS{
		"m/bad.sql":              {Data: []byte("-- +goose Up\n-- +goose Down\n")},
		"m/20260101000000_a.sql": {Data: []byte("-- +goose Up\n")},
	}
	err := ValidateFS(fsys, "m")
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{"bad.sql", "-- +goose Down"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("error %q missing %q", err, want)
		}
	}
}
