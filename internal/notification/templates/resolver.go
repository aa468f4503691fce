// Package templates maps (event, recipient kind, context) onto rendered notification wording.
package templates

import (
	_ "embed"
	"errors"
	"fmt"
	"strings"

	"approval-notify/internal/common/validation"
	"approval-notify/internal/models"
	"approval-notify/pkg/registry"
)

//go:embed catalog.json
var defaultCatalog []byte

var catalogSchema = validation.MustCompile(registry.CatalogSchema)

// Rendered is the resolved wording for one recipient.
type Rendered struct {
	Title          string
	Message        string
	Priority       models.Priority
	ActionRequired bool
	ActionURL      string
	EmailSubject   string
}

// Pair is one (event, recipient kind) combination.
type Pair struct {
	Event models.EventType
	Kind  models.RecipientKind
}

func (p Pair) String() string {
	return string(p.Event) + "/" + string(p.Kind)
}

// Supports reports whether an event is ever delivered to a recipient kind.
// Every EventType must have a case; the catalog must cover exactly the pairs accepted here.
func Supports(event models.EventType, kind models.RecipientKind) bool {
	switch event {
	case models.EventRegistration,
		models.EventDHApproval,
		models.EventRevisionUploaded,
		models.EventComponentChanged:
		return kind == models.KindSubject || kind == models.KindAdministrator
	case models.EventDHReviewRequest,
		models.EventAdminApproval,
		models.EventRejection,
		models.EventUserDisabled,
		models.EventUserEnabled:
		return kind == models.KindSubject
	case models.EventAdminRegistration,
		models.EventAdminAccountApproval,
		models.EventAdminAccountRejection,
		models.EventAdminDisabled,
		models.EventAdminEnabled:
		return kind == models.KindAdministrator
	default:
		return false
	}
}

// SupportedPairs enumerates every pair accepted by Supports.
func SupportedPairs() []Pair {
	var pairs []Pair
	for _, event := range models.AllEventTypes {
		for _, kind := range []models.RecipientKind{models.KindSubject, models.KindAdministrator} {
			if Supports(event, kind) {
				pairs = append(pairs, Pair{Event: event, Kind: kind})
			}
		}
	}
	return pairs
}

// Resolver holds a validated catalog.
type Resolver struct {
	version string
	entries map[Pair]registry.TemplateEntry
}

// Default loads the embedded catalog.
func Default() (*Resolver, error) {
	return NewFromJSON(defaultCatalog)
}

// DefaultCatalogJSON returns the embedded catalog bytes.
func DefaultCatalogJSON() []byte {
	out := make([]byte, len(defaultCatalog))
	copy(out, defaultCatalog)
	return out
}

// Load reads a catalog override from path, or the embedded catalog when path is empty.
func Load(path string) (*Resolver, error) {
	if path == "" {
		return Default()
	}
	_, raw, err := registry.LoadCatalog(path)
	if err != nil {
		return nil, fmt.Errorf("load catalog %s: %w", path, err)
	}
	return NewFromJSON(raw)
}

// NewFromJSON validates raw catalog JSON against the catalog schema and builds a Resolver.
func NewFromJSON(raw []byte) (*Resolver, error) {
	if res := catalogSchema.ValidateJSON(raw); !res.Valid {
		return nil, fmt.Errorf("catalog schema violations: %s", strings.Join(res.GetErrorMessages(), "; "))
	}
	cat, err := registry.ParseCatalog(raw)
	if err != nil {
		return nil, err
	}
	return New(cat)
}

// New builds a Resolver, failing when the catalog misses a supported pair or names an unsupported one.
func New(cat *registry.Catalog) (*Resolver, error) {
	var errs []error
	entries := make(map[Pair]registry.TemplateEntry, len(cat.Templates))

	for _, entry := range cat.Templates {
		pair := Pair{Event: models.EventType(entry.Event), Kind: models.RecipientKind(entry.RecipientKind)}
		switch {
		case !pair.Event.Valid():
			errs = append(errs, fmt.Errorf("unknown event %q", entry.Event))
			continue
		case !pair.Kind.Valid():
			errs = append(errs, fmt.Errorf("unknown recipient kind %q", entry.RecipientKind))
			continue
		case !Supports(pair.Event, pair.Kind):
			errs = append(errs, fmt.Errorf("unsupported pair %s", pair))
			continue
		case !models.Priority(entry.Priority).Valid():
			errs = append(errs, fmt.Errorf("pair %s: invalid priority %q", pair, entry.Priority))
			continue
		}
		if _, dup := entries[pair]; dup {
			errs = append(errs, fmt.Errorf("duplicate pair %s", pair))
			continue
		}
		entries[pair] = entry
	}

	for _, pair := range SupportedPairs() {
		if _, ok := entries[pair]; !ok {
			errs = append(errs, fmt.Errorf("missing template for %s", pair))
		}
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return &Resolver{version: cat.Version, entries: entries}, nil
}

// Version of the loaded catalog.
func (r *Resolver) Version() string { return r.version }

// Resolve renders the template for (event, kind). ok is false when no template applies;
// callers send nothing in that case.
func (r *Resolver) Resolve(event models.EventType, kind models.RecipientKind, data map[string]interface{}) (Rendered, bool) {
	if !Supports(event, kind) {
		return Rendered{}, false
	}
	entry, ok := r.entries[Pair{Event: event, Kind: kind}]
	if !ok {
		return Rendered{}, false
	}

	rendered := Rendered{
		Title:          Render(entry.Title, data),
		Message:        Render(entry.Message, data),
		Priority:       models.Priority(entry.Priority),
		ActionRequired: entry.ActionRequired,
		ActionURL:      Render(entry.ActionURL, data),
	}
	rendered.EmailSubject = rendered.Title
	if entry.EmailSubject != "" {
		rendered.EmailSubject = Render(entry.EmailSubject, data)
	}
	return rendered, true
}

// Render substitutes {{key}} placeholders from data; unknown placeholders render empty.
func Render(tmpl string, data map[string]interface{}) string {
	result := tmpl

	for k, v := range data {
		placeholder := "{{" + k + "}}"
		if !strings.Contains(result, placeholder) {
			continue
		}
		value := ""
		switch tv := v.(type) {
		case string:
			value = tv
		case nil:
		default:
			value = fmt.Sprintf("%v", tv)
		}
		result = strings.ReplaceAll(result, placeholder, value)
	}

	for {
		start := strings.Index(result, "{{")
		if start == -1 {
			break
		}
		end := strings.Index(result[start:], "}}")
		if end == -1 {
			break
		}
		result = result[:start] + result[start+end+2:]
	}

	return strings.TrimSpace(result)
}
