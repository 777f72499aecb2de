package identity

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/legacymind/cogmem/internal/cogerr"
)

// migrateLegacy splits a legacy monolithic "<instance>:identity" document
// into per-field-type documents on first read. The legacy document is
// preserved (not deleted) until a caller explicitly removes it.
func (d *Documents) migrateLegacy(ctx context.Context, instance string) error {
	raw, err := d.gw.JSONGet(ctx, legacyKey(instance), "$")
	if err != nil {
		if cogerr.IsNotFound(err) {
			return nil
		}
		return err
	}
	if raw == "" {
		return nil
	}

	var legacy map[string]map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &legacy); err != nil {
		return cogerr.New(cogerr.KindInternal, "identity", "legacy_unmarshal", err)
	}

	for fieldType, content := range legacy {
		existing, err := d.loadDoc(ctx, instance, fieldType)
		if err != nil {
			return err
		}
		if existing != nil {
			continue // already migrated for this field_type
		}
		doc := &Document{
			ID: docID(instance, fieldType), Instance: instance, FieldType: fieldType,
			Content: content, Version: 1, CreatedAt: time.Now().UTC(), AccessedAt: time.Now().UTC(),
		}
		if err := d.save(ctx, doc); err != nil {
			return err
		}
	}
	log.Printf("[IDENTITY] migrated legacy monolithic document for instance=%s", instance)
	return nil
}
