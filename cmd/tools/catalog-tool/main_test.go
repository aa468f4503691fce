package main

import (
	"testing"

	"approval-notify/pkg/registry"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleCatalog() *registry.Catalog {
	return &registry.Catalog{Version: "1", Templates: []registry.TemplateEntry{
		{Event: "admin_approval", RecipientKind: "subject", Title: "Approved", Message: "m", Priority: "high"},
	}}
}

func TestUpdateEntry(t *testing.T) {
	tests := []struct {
		name    string
		field   string
		value   string
		check   func(t *testing.T, e registry.TemplateEntry)
		wantErr string
	}{
		{name: "title", field: "title", value: "Welcome", check: func(t *testing.T, e registry.TemplateEntry) {
			assert.Equal(t, "Welcome", e.Title)
		}},
		{name: "priority", field: "priority", value: "low", check: func(t *testing.T, e registry.TemplateEntry) {
			assert.Equal(t, "low", e.Priority)
		}},
		{name: "action required", field: "actionRequired", value: "true", check: func(t *testing.T, e registry.TemplateEntry) {
			assert.True(t, e.ActionRequired)
		}},
		{name: "bad priority", field: "priority", value: "urgent", wantErr: "invalid priority"},
		{name: "bad bool", field: "actionRequired", value: "sometimes", wantErr: "invalid actionRequired"},
		{name: "unknown field", field: "color", value: "red", wantErr: "unknown field"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cat := sampleCatalog()
			err := updateEntry(cat, "admin_approval", "subject", tt.field, tt.value)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			tt.check(t, cat.Templates[0])
		})
	}
}

func TestUpdateEntry_MissingPair(t *testing.T) {
	err := updateEntry(sampleCatalog(), "rejection", "subject", "title", "x")
	assert.EqualError(t, err, "no template for rejection/subject")
}
