// Package identity implements the Identity Documents component: one JSON
// document per (instance, field_type), closed-set category validation,
// centralized type coercion, and migration off the legacy monolithic
// identity document.
package identity

import (
	"time"

	"github.com/legacymind/cogmem/internal/cogerr"
)

// Category is one of the closed set of eight valid identity categories.
type Category string

const (
	CoreInfo           Category = "core_info"
	Communication      Category = "communication"
	Relationships      Category = "relationships"
	WorkPreferences    Category = "work_preferences"
	BehavioralPatterns Category = "behavioral_patterns"
	TechnicalProfile   Category = "technical_profile"
	ContextAwareness   Category = "context_awareness"
	MemoryPreferences  Category = "memory_preferences"
)

var validCategories = map[Category]bool{
	CoreInfo: true, Communication: true, Relationships: true, WorkPreferences: true,
	BehavioralPatterns: true, TechnicalProfile: true, ContextAwareness: true, MemoryPreferences: true,
}

// ValidateCategory rejects any category outside the closed set.
func ValidateCategory(c Category) error {
	if !validCategories[c] {
		return cogerr.New(cogerr.KindValidation, "identity", "category", errInvalidCategory(c))
	}
	return nil
}

type errInvalidCategory Category

func (e errInvalidCategory) Error() string { return "invalid identity category: " + string(e) }

// Document is one identity document, keyed by (instance, field_type).
type Document struct {
	ID         string                 `json:"id"`
	Instance   string                 `json:"instance"`
	FieldType  string                 `json:"field_type"`
	Content    map[string]interface{} `json:"content"`
	Version    uint32                 `json:"version"`
	CreatedAt  time.Time              `json:"created_at"`
	AccessedAt time.Time              `json:"accessed_at"`
}

// FieldType determines the document key a (category, field) pair belongs
// to: relationship fields get their own per-name document, everything
// else shares one document per category.
func FieldType(category Category, field string) string {
	if field == "relationships" || category == Relationships {
		return "relationships:" + field
	}
	return string(category)
}
