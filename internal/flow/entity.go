package flow

import (
	"regexp"
	"strings"
)

// EntityKind classifies a detected entity.
type EntityKind string

const (
	EntitySystem   EntityKind = "System"
	EntityFilePath EntityKind = "FilePath"
	EntityError    EntityKind = "Error"
	EntityFunction EntityKind = "Function"
)

// Entity is one detected mention, deduped by (Text, Kind).
type Entity struct {
	Text       string     `json:"text"`
	Kind       EntityKind `json:"kind"`
	Confidence float64    `json:"confidence"`
	Context    string     `json:"context"`
}

// KnownEntity is a catalogued entity the detector can recognize by alias.
type KnownEntity struct {
	Name        string
	Kind        EntityKind
	Aliases     []string
	Description string
	Importance  float64
}

type entityPattern struct {
	kind EntityKind
	re   *regexp.Regexp
}

var patterns = []entityPattern{
	{EntityFilePath, regexp.MustCompile(`(?:[\w./-]+/)?[\w-]+\.(?:go|rs|py|js|ts|rb|java|c|cpp|h|yaml|yml|json|toml|md)\b`)},
	{EntityError, regexp.MustCompile(`(?i)\b\w*(?:Error|Exception|Panic|Timeout)\w*\b`)},
	{EntityFunction, regexp.MustCompile(`\b[a-zA-Z_][a-zA-Z0-9_]*\(\)`)},
}

// KnownEntities is a small seed catalogue; callers may extend it.
var KnownEntities = []KnownEntity{
	{Name: "Redis", Kind: EntitySystem, Aliases: []string{"redis", "redisstack"}, Description: "backing key/value and search store", Importance: 0.9},
	{Name: "NATS", Kind: EntitySystem, Aliases: []string{"nats"}, Description: "internal event bus", Importance: 0.6},
	{Name: "PostgreSQL", Kind: EntitySystem, Aliases: []string{"postgres", "postgresql"}, Description: "relational database", Importance: 0.7},
}

const contextWindow = 50

func surroundingContext(text, match string) string {
	idx := strings.Index(text, match)
	if idx == -1 {
		return ""
	}
	start := idx - contextWindow
	if start < 0 {
		start = 0
	}
	end := idx + len(match) + contextWindow
	if end > len(text) {
		end = len(text)
	}
	return text[start:end]
}

// DetectEntities applies every regex pattern and known-entity lookup to a
// message, deduping by (text, kind) and attaching a context window.
func DetectEntities(text string) []Entity {
	seen := map[string]bool{}
	var out []Entity

	for _, p := range patterns {
		for _, match := range p.re.FindAllString(text, -1) {
			key := match + "|" + string(p.kind)
			if seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, Entity{
				Text: match, Kind: p.kind, Confidence: 0.8,
				Context: surroundingContext(text, match),
			})
		}
	}

	lower := strings.ToLower(text)
	for _, known := range KnownEntities {
		for _, alias := range known.Aliases {
			if strings.Contains(lower, alias) {
				key := known.Name + "|" + string(known.Kind)
				if seen[key] {
					continue
				}
				seen[key] = true
				out = append(out, Entity{
					Text: known.Name, Kind: known.Kind, Confidence: known.Importance,
					Context: surroundingContext(text, alias),
				})
				break
			}
		}
	}

	return out
}

// EnrichmentStrategies returns the enrichment pipeline for an entity kind.
func EnrichmentStrategies(kind EntityKind) []string {
	switch kind {
	case EntityError:
		return []string{"QueryRecentIssues", "RetrieveDocumentation"}
	case EntitySystem:
		return []string{"FetchStatus", "QueryRecentIssues", "CheckDependencies"}
	case EntityFilePath:
		return []string{"FetchStatus", "GetConfiguration"}
	default:
		return nil
	}
}

// NeedsEnrichment reports whether an entity's confidence is below the
// enrichment threshold (0.7).
func NeedsEnrichment(e Entity) bool { return e.Confidence < 0.7 }
