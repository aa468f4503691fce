package emailsend

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"

	"approval-notify/internal/models"
)

var layout = template.Must(template.New("notification").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="UTF-8"><title>{{.Title}}</title></head>
<body style="font-family:Arial,Helvetica,sans-serif;color:#222;background:#f5f5f5;margin:0;padding:24px;">
<table role="presentation" width="100%" style="max-width:600px;margin:0 auto;background:#ffffff;border-radius:6px;">
<tr><td style="padding:24px;">
{{if .Name}}<p>Hello {{.Name}},</p>{{end}}
<h2 style="margin-top:0;">{{.Title}}</h2>
<p style="line-height:1.5;">{{.Message}}</p>
{{if .ActionURL}}<p style="margin:24px 0;"><a href="{{.ActionURL}}" style="background:#1a73e8;color:#ffffff;padding:10px 18px;border-radius:4px;text-decoration:none;">{{if .ActionRequired}}Review now{{else}}Open{{end}}</a></p>{{end}}
</td></tr>
</table>
</body>
</html>`))

type layoutData struct {
	Name           string
	Title          string
	Message        string
	ActionURL      string
	ActionRequired bool
}

// Renderer turns a persisted notification into an outbound email.
type Renderer struct {
	baseURL string
}

func NewRenderer(baseURL string) *Renderer {
	return &Renderer{baseURL: strings.TrimRight(baseURL, "/")}
}

func (r *Renderer) actionURL(path string) string {
	if path == "" || r.baseURL == "" || strings.Contains(path, "://") {
		return path
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return r.baseURL + path
}

// Render builds the email for to. The subject falls back to the notification title.
func (r *Renderer) Render(n *models.Notification, to *models.Recipient, subject string) (*models.EmailPayload, error) {
	if to == nil || to.Email == "" {
		return nil, fmt.Errorf("recipient has no email address")
	}
	if subject == "" {
		subject = n.Title
	}

	data := layoutData{
		Name:           to.Name,
		Title:          n.Title,
		Message:        n.Message,
		ActionURL:      r.actionURL(n.ActionURL),
		ActionRequired: n.ActionRequired,
	}

	var html bytes.Buffer
	if err := layout.Execute(&html, data); err != nil {
		return nil, fmt.Errorf("render email: %w", err)
	}

	text := n.Title + "\n\n" + n.Message
	if data.ActionURL != "" {
		text += "\n\n" + data.ActionURL
	}

	return &models.EmailPayload{
		To:       to.Email,
		ToName:   to.Name,
		Subject:  subject,
		HTMLBody: html.String(),
		TextBody: text,
		Priority: n.Priority,
	}, nil
}
