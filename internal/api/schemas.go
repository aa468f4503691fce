package api

import (
	"approval-notify/internal/common/validation"
	"approval-notify/internal/models"
)

const maxEventsPerRequest = 500

func eventTypeNames() []interface{} {
	names := make([]interface{}, 0, len(models.AllEventTypes))
	for _, t := range models.AllEventTypes {
		names = append(names, string(t))
	}
	return names
}

var recipientKinds = []interface{}{string(models.KindSubject), string(models.KindAdministrator)}

var eventsSchema = validation.MustCompile(map[string]interface{}{
	"type":     "object",
	"required": []interface{}{"events"},
	"properties": map[string]interface{}{
		"events": map[string]interface{}{
			"type":     "array",
			"minItems": 1,
			"maxItems": maxEventsPerRequest,
			"items": map[string]interface{}{
				"type":                 "object",
				"required":             []interface{}{"type", "recipientId", "recipientKind"},
				"additionalProperties": false,
				"properties": map[string]interface{}{
					"type":          map[string]interface{}{"enum": eventTypeNames()},
					"recipientId":   map[string]interface{}{"type": "string", "minLength": 1},
					"recipientKind": map[string]interface{}{"enum": recipientKinds},
					"data":          map[string]interface{}{"type": "object"},
					"sendEmail":     map[string]interface{}{"type": "boolean"},
				},
			},
		},
	},
})

var subjectRegistrationSchema = validation.MustCompile(`{
  "type": "object",
  "required": ["name", "email", "role", "department", "designation"],
  "properties": {
    "name":        {"type": "string", "minLength": 1, "maxLength": 200},
    "email":       {"type": "string", "minLength": 3, "maxLength": 320},
    "phone":       {"type": "string", "maxLength": 32},
    "role":        {"type": "string", "minLength": 1},
    "department":  {"type": "string", "minLength": 1},
    "designation": {"type": "string", "minLength": 1}
  }
}`)

var adminRegistrationSchema = validation.MustCompile(`{
  "type": "object",
  "required": ["name", "email"],
  "properties": {
    "name":  {"type": "string", "minLength": 1, "maxLength": 200},
    "email": {"type": "string", "minLength": 3, "maxLength": 320},
    "phone": {"type": "string", "maxLength": 32}
  }
}`)

var reviewSchema = validation.MustCompile(`{
  "type": "object",
  "required": ["decision"],
  "properties": {
    "decision": {"enum": ["approve", "reject"]},
    "remark":   {"type": "string", "maxLength": 2000}
  }
}`)
