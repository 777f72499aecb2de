package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/legacymind/cogmem/internal/cogerr"
	"github.com/legacymind/cogmem/internal/store"
)

// EventPublisher is the narrow publish surface Documents needs.
type EventPublisher interface {
	Publish(subject string, payload interface{}) error
}

// Documents implements the Identity Documents component.
type Documents struct {
	gw     *store.Gateway
	events EventPublisher
}

func NewDocuments(gw *store.Gateway, events EventPublisher) *Documents {
	return &Documents{gw: gw, events: events}
}

// identityNamespace scopes the deterministic per-document id derived below;
// an arbitrary fixed UUID, never persisted or compared against anything else.
var identityNamespace = uuid.MustParse("6f7e9b1a-2b3c-4d5e-8f90-1a2b3c4d5e6f")

// docID is deterministic in (instance, fieldType) rather than random: since a
// document's key must embed its own id, and there is exactly one document
// per (instance, fieldType), deriving the id from that pair lets load/save
// address the document directly instead of needing a separate lookup index.
func docID(instance, fieldType string) string {
	return uuid.NewSHA1(identityNamespace, []byte(instance+":"+fieldType)).String()
}

func docKey(instance, fieldType string) string {
	return instance + ":identity:" + fieldType + ":" + docID(instance, fieldType)
}
func legacyKey(instance string) string { return instance + ":identity" }

// load fetches a document, triggering a one-time legacy-document migration
// check first. Internal callers that must not recurse into migration
// (the migration itself) use loadDoc directly.
func (d *Documents) load(ctx context.Context, instance, fieldType string) (*Document, error) {
	if err := d.migrateLegacy(ctx, instance); err != nil {
		log.Printf("[IDENTITY] legacy migration check failed for %s: %v", instance, err)
	}
	return d.loadDoc(ctx, instance, fieldType)
}

func (d *Documents) loadDoc(ctx context.Context, instance, fieldType string) (*Document, error) {
	raw, err := d.gw.HGet(ctx, docKey(instance, fieldType), "doc")
	if err != nil {
		if cogerr.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	if raw == "" {
		return nil, nil
	}
	var doc Document
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, cogerr.New(cogerr.KindInternal, "identity", "unmarshal", err)
	}
	return &doc, nil
}

// save persists the document as a hash with a single "doc" field holding
// its JSON encoding, a core-command write so it needs no Redis Stack
// module (RedisJSON) the backing deployment, or miniredis in tests, may
// not carry.
func (d *Documents) save(ctx context.Context, doc *Document) error {
	body, err := json.Marshal(doc)
	if err != nil {
		return cogerr.New(cogerr.KindInternal, "identity", "marshal", err)
	}
	return d.gw.HSet(ctx, docKey(doc.Instance, doc.FieldType), "doc", string(body))
}

// Add pushes onto an array-append field, or sets a scalar field, creating
// the document if needed. Always bumps version and accessed_at.
func (d *Documents) Add(ctx context.Context, instance string, category Category, field string, value interface{}) (*Document, error) {
	if err := ValidateCategory(category); err != nil {
		return nil, err
	}
	fieldType := FieldType(category, field)

	doc, err := d.load(ctx, instance, fieldType)
	if err != nil {
		return nil, err
	}
	created := doc == nil
	if doc == nil {
		doc = &Document{
			ID: docID(instance, fieldType), Instance: instance, FieldType: fieldType,
			Content: map[string]interface{}{}, CreatedAt: time.Now().UTC(),
		}
	}

	if IsArrayAppendField(category, field) {
		coerced, err := coerceArrayValue(value)
		if err != nil {
			return nil, err
		}
		existing, _ := coerceArrayValue(valueOrEmpty(doc.Content[field]))
		doc.Content[field] = appendUnique(existing, coerced)
	} else {
		coerced, err := coerce(category, field, value)
		if err != nil {
			return nil, err
		}
		doc.Content[field] = coerced
	}

	doc.Version++
	doc.AccessedAt = time.Now().UTC()
	if err := d.save(ctx, doc); err != nil {
		return nil, err
	}

	event := "identity_updated"
	if created {
		event = "identity_document_saved"
	}
	d.publish(instance, event, doc)
	return doc, nil
}

// Modify always replaces the field value (never appends).
func (d *Documents) Modify(ctx context.Context, instance string, category Category, field string, value interface{}) (*Document, error) {
	if err := ValidateCategory(category); err != nil {
		return nil, err
	}
	fieldType := FieldType(category, field)

	doc, err := d.load(ctx, instance, fieldType)
	if err != nil {
		return nil, err
	}
	created := doc == nil
	if doc == nil {
		doc = &Document{
			ID: docID(instance, fieldType), Instance: instance, FieldType: fieldType,
			Content: map[string]interface{}{}, CreatedAt: time.Now().UTC(),
		}
	}

	coerced, err := coerce(category, field, value)
	if err != nil {
		return nil, err
	}
	doc.Content[field] = coerced
	doc.Version++
	doc.AccessedAt = time.Now().UTC()
	if err := d.save(ctx, doc); err != nil {
		return nil, err
	}

	event := "identity_updated"
	if created {
		event = "identity_document_saved"
	}
	d.publish(instance, event, doc)
	return doc, nil
}

// Delete removes a single array value (if value given), otherwise the
// whole field; deletes the document if it becomes empty.
func (d *Documents) Delete(ctx context.Context, instance string, category Category, field string, value *string) error {
	if err := ValidateCategory(category); err != nil {
		return err
	}
	fieldType := FieldType(category, field)

	doc, err := d.load(ctx, instance, fieldType)
	if err != nil {
		return err
	}
	if doc == nil {
		return cogerr.New(cogerr.KindNotFound, "identity", field, fmt.Errorf("no document for field %s", field))
	}

	if value != nil {
		arr, _ := coerceArrayValue(valueOrEmpty(doc.Content[field]))
		doc.Content[field] = removeOne(arr, *value)
	} else {
		delete(doc.Content, field)
	}

	if len(doc.Content) == 0 {
		if err := d.gw.Del(ctx, docKey(instance, fieldType)); err != nil {
			return err
		}
		d.publish(instance, "identity_document_deleted", doc)
		return nil
	}

	doc.Version++
	doc.AccessedAt = time.Now().UTC()
	if err := d.save(ctx, doc); err != nil {
		return err
	}
	d.publish(instance, "identity_updated", doc)
	return nil
}

// View concatenates every document for an instance into one object keyed
// by field_type.
func (d *Documents) View(ctx context.Context, instance string) (map[string]map[string]interface{}, error) {
	if err := d.migrateLegacy(ctx, instance); err != nil {
		log.Printf("[IDENTITY] legacy migration check failed for %s: %v", instance, err)
	}

	out := map[string]map[string]interface{}{}
	err := d.gw.Scan(ctx, instance+":identity:*", 100, func(keys []string) bool {
		for _, key := range keys {
			raw, err := d.gw.HGet(ctx, key, "doc")
			if err != nil || raw == "" {
				continue
			}
			var doc Document
			if json.Unmarshal([]byte(raw), &doc) == nil {
				out[doc.FieldType] = doc.Content
			}
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (d *Documents) publish(instance, event string, doc *Document) {
	if d.events == nil {
		return
	}
	_ = d.events.Publish(instance+":events", map[string]interface{}{
		"event": event, "instance": instance, "field_type": doc.FieldType, "version": doc.Version,
	})
}

func valueOrEmpty(v interface{}) interface{} {
	if v == nil {
		return []string{}
	}
	return v
}

func appendUnique(existing, additions []string) []string {
	seen := map[string]bool{}
	out := make([]string, 0, len(existing)+len(additions))
	for _, v := range existing {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	for _, v := range additions {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	return out
}

func removeOne(values []string, target string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v != target {
			out = append(out, v)
		}
	}
	return out
}
