package vaultrepo

import (
	"context"
	"strings"
	"testing"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// newDryRunDB opens a gorm handle that builds SQL without touching a
// database. The lazy pgx connector never dials.
func newDryRunDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(postgres.Open("host=localhost user=recall dbname=recall"), &gorm.Config{
		DryRun:               true,
		DisableAutomaticPing: true,
	})
	if err != nil {
		t.Fatalf("Failed to open dry-run db: %v", err)
	}
	return db
}

func TestSearchQuery_OrdersByDistanceThenRecency(t *testing.T) {
	repo := NewRepository(newDryRunDB(t))

	var rows []struct {
		ID string
	}
	stmt := repo.searchQuery(context.Background(), "owner-1", embeddingToString([]float32{0.1, 0.2}), 0.4).
		Scan(&rows).Statement
	sql := stmt.SQL.String()

	orderIdx := strings.Index(sql, "ORDER BY embedding <=> $")
	if orderIdx < 0 {
		t.Fatalf("Generated SQL has no similarity ORDER BY: %s", sql)
	}
	if !strings.Contains(sql[orderIdx:], "created_at DESC") {
		t.Errorf("Generated SQL has no recency tie-break: %s", sql)
	}
	if whereIdx := strings.Index(sql, "WHERE"); whereIdx < 0 || whereIdx > orderIdx {
		t.Errorf("ORDER BY must follow the WHERE clause: %s", sql)
	}
}

func TestSearchQuery_SelectsSimilarityAndScopesOwner(t *testing.T) {
	repo := NewRepository(newDryRunDB(t))

	var rows []struct {
		ID string
	}
	stmt := repo.searchQuery(context.Background(), "owner-1", embeddingToString([]float32{0.1, 0.2}), 0.4).
		Scan(&rows).Statement
	sql := stmt.SQL.String()

	if !strings.Contains(sql, "1 - (embedding <=> $") || !strings.Contains(sql, "AS similarity") {
		t.Errorf("Generated SQL does not project similarity: %s", sql)
	}
	if !strings.Contains(sql, "owner_id = $") {
		t.Errorf("Generated SQL is not owner-scoped: %s", sql)
	}
	if !strings.Contains(sql, "embedding IS NOT NULL") {
		t.Errorf("Generated SQL does not skip unembedded rows: %s", sql)
	}
}
