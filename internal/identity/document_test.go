package identity

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/legacymind/cogmem/internal/store"
)

func setupTestDocuments(t *testing.T) (*Documents, func()) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	gw := store.NewFromClient(client, 5*time.Second, 10*time.Second)

	return NewDocuments(gw, nil), func() {
		gw.Close()
		mr.Close()
	}
}

func TestAddViewDeleteRoundTrip(t *testing.T) {
	docs, cleanup := setupTestDocuments(t)
	defer cleanup()
	ctx := context.Background()

	if _, err := docs.Add(ctx, "irene", TechnicalProfile, "preferred_languages", "Rust, TypeScript"); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	view, err := docs.View(ctx, "irene")
	if err != nil {
		t.Fatalf("View failed: %v", err)
	}
	langs, ok := view["technical_profile"]["preferred_languages"].([]interface{})
	if !ok || len(langs) != 2 || langs[0] != "Rust" || langs[1] != "TypeScript" {
		t.Fatalf("expected [Rust TypeScript], got %#v", view["technical_profile"]["preferred_languages"])
	}

	rust := "Rust"
	if err := docs.Delete(ctx, "irene", TechnicalProfile, "preferred_languages", &rust); err != nil {
		t.Fatalf("Delete(value) failed: %v", err)
	}
	view, err = docs.View(ctx, "irene")
	if err != nil {
		t.Fatalf("View after delete failed: %v", err)
	}
	langs, _ = view["technical_profile"]["preferred_languages"].([]interface{})
	if len(langs) != 1 || langs[0] != "TypeScript" {
		t.Fatalf("expected [TypeScript], got %#v", langs)
	}

	if err := docs.Delete(ctx, "irene", TechnicalProfile, "preferred_languages", nil); err != nil {
		t.Fatalf("Delete(field) failed: %v", err)
	}
	view, err = docs.View(ctx, "irene")
	if err != nil {
		t.Fatalf("View after field delete failed: %v", err)
	}
	if _, ok := view["technical_profile"]; ok {
		t.Fatalf("expected document to be removed once its last field was deleted, got %#v", view["technical_profile"])
	}
}

func TestModifyAlwaysReplaces(t *testing.T) {
	docs, cleanup := setupTestDocuments(t)
	defer cleanup()
	ctx := context.Background()

	if _, err := docs.Add(ctx, "jan", TechnicalProfile, "preferred_languages", "Go"); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if _, err := docs.Modify(ctx, "jan", TechnicalProfile, "preferred_languages", "Python"); err != nil {
		t.Fatalf("Modify failed: %v", err)
	}

	view, err := docs.View(ctx, "jan")
	if err != nil {
		t.Fatalf("View failed: %v", err)
	}
	langs, _ := view["technical_profile"]["preferred_languages"].([]interface{})
	if len(langs) != 1 || langs[0] != "Python" {
		t.Fatalf("expected modify to replace entirely with [Python], got %#v", langs)
	}
}

func TestInvalidCategoryRejected(t *testing.T) {
	docs, cleanup := setupTestDocuments(t)
	defer cleanup()
	ctx := context.Background()

	if _, err := docs.Add(ctx, "ken", Category("not_a_category"), "x", "y"); err == nil {
		t.Fatal("expected validation error for unknown category")
	}
}

func TestRelationshipFieldType(t *testing.T) {
	if got := FieldType(Relationships, "spouse"); got != "relationships:spouse" {
		t.Errorf("expected relationships:spouse, got %s", got)
	}
	if got := FieldType(TechnicalProfile, "preferred_languages"); got != "technical_profile" {
		t.Errorf("expected technical_profile, got %s", got)
	}
}

func TestNumericCoercion(t *testing.T) {
	docs, cleanup := setupTestDocuments(t)
	defer cleanup()
	ctx := context.Background()

	if _, err := docs.Modify(ctx, "lea", TechnicalProfile, "years_experience", "7.5"); err != nil {
		t.Fatalf("Modify failed: %v", err)
	}
	view, err := docs.View(ctx, "lea")
	if err != nil {
		t.Fatalf("View failed: %v", err)
	}
	if v := view["technical_profile"]["years_experience"]; v != float64(7.5) {
		t.Errorf("expected 7.5, got %#v", v)
	}

	if _, err := docs.Modify(ctx, "lea", TechnicalProfile, "years_experience", "not-a-number"); err != nil {
		t.Fatalf("expected a non-parseable string to pass through unchanged, got error: %v", err)
	}
	view, err = docs.View(ctx, "lea")
	if err != nil {
		t.Fatalf("View failed: %v", err)
	}
	if v := view["technical_profile"]["years_experience"]; v != "not-a-number" {
		t.Errorf("expected the non-parseable string to pass through unchanged, got %#v", v)
	}

	if _, err := docs.Modify(ctx, "lea", TechnicalProfile, "years_experience", "NaN"); err == nil {
		t.Fatal("expected validation error for non-finite number")
	}
}
