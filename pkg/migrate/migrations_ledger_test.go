package migrate_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/angelmondragon/ledgergate-backend/pkg/migrate"
)

func readMigration(t *testing.T, suffix string) string {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join("migrations", "*_"+suffix+".sql"))
	if err != nil {
		t.Fatalf("glob migrations: %v", err)
	}
	if len(matches) == 0 {
		t.Fatalf("no %s migration file found", suffix)
	}
	data, err := os.ReadFile(matches[0])
	if err != nil {
		t.Fatalf("read migration file: %v", err)
	}
	return string(data)
}

func assertContains(t *testing.T, content string, checks []string) {
	t.Helper()
	for _, sub := range checks {
		if !strings.Contains(content, sub) {
			t.Errorf("missing expected statement %q", sub)
		}
	}
}

func TestLedgerMigrationContainsConstraints(t *testing.T) {
	assertContains(t, readMigration(t, "create_ledger"), []string{
		"CREATE TABLE IF NOT EXISTS ledger_entries",
		"CONSTRAINT chk_ledger_entries_amount_positive CHECK (amount > 0)",
		"NUMERIC(20,6)",
		"INSERT INTO ledger_streams (stream) VALUES ('capital'), ('revenue')",
		"FOREIGN KEY (entry_id) REFERENCES ledger_entries(id) ON DELETE RESTRICT",
		"DROP TABLE IF EXISTS ledger_entries",
	})
}

func TestApprovalMigrationHasSingleActiveRequestIndex(t *testing.T) {
	assertContains(t, readMigration(t, "create_approvals"), []string{
		"CREATE UNIQUE INDEX IF NOT EXISTS ux_approval_requests_active_entity",
		"WHERE status IN ('pending', 'escalated')",
		"CHECK (kind IN ('human', 'auto', 'system', 'bypass'))",
		"DROP TABLE IF EXISTS approval_requests",
	})
}

func TestAuditMigrationIsInsertOnly(t *testing.T) {
	assertContains(t, readMigration(t, "create_audit_logs"), []string{
		"CREATE TABLE IF NOT EXISTS audit_logs",
		"BEFORE UPDATE OR DELETE ON audit_logs",
		"checksum          CHAR(64)    NOT NULL",
	})
}

func TestMigrationDirValidates(t *testing.T) {
	if err := migrate.ValidateDir("migrations"); err != nil {
		t.Fatalf("ValidateDir: %v", err)
	}
}
