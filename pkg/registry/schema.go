// pkg/registry/schema.go
package registry

// Catalog is the on-disk notification template catalog.
type Catalog struct {
	Version     string          `json:"version"`
	LastUpdated string          `json:"lastUpdated"`
	Templates   []TemplateEntry `json:"templates"`
}

// TemplateEntry is the wording for one (event, recipient kind) pair.
// Title, Message, ActionURL and EmailSubject may reference context data as {{key}}.
type TemplateEntry struct {
	Event          string `json:"event"`
	RecipientKind  string `json:"recipientKind"`
	Title          string `json:"title"`
	Message        string `json:"message"`
	Priority       string `json:"priority"`
	ActionRequired bool   `json:"actionRequired"`
	ActionURL      string `json:"actionUrl,omitempty"`
	EmailSubject   string `json:"emailSubject,omitempty"`
}

// Key identifies a template entry.
func (e TemplateEntry) Key() string {
	return e.Event + "/" + e.RecipientKind
}

// CatalogSchema is the JSON schema every catalog file must satisfy.
const CatalogSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["version", "templates"],
  "properties": {
    "version": {"type": "string", "minLength": 1},
    "lastUpdated": {"type": "string"},
    "templates": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["event", "recipientKind", "title", "message", "priority"],
        "additionalProperties": false,
        "properties": {
          "event": {"type": "string", "minLength": 1},
          "recipientKind": {"type": "string", "enum": ["subject", "administrator"]},
          "title": {"type": "string", "minLength": 1},
          "message": {"type": "string", "minLength": 1},
          "priority": {"type": "string", "enum": ["low", "medium", "high"]},
          "actionRequired": {"type": "boolean"},
          "actionUrl": {"type": "string"},
          "emailSubject": {"type": "string"}
        }
      }
    }
  }
}`
