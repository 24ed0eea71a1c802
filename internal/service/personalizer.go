// internal/service/personalizer.go
package service

import (
	"strings"

	"github.com/kanisahub/comms-backend/internal/model"
)

// RenderMessage substitutes the fixed placeholder set into a template for
// one recipient. Unknown tokens pass through verbatim. Rendering happens
// once at batch creation; the rendered text is what gets persisted and sent,
// so a template edit mid-flight never changes queued content.
func RenderMessage(template string, rec model.Recipient, churchName string) string {
	first := rec.FirstName
	if first == "" {
		first = "Member"
	}
	full := strings.TrimSpace(rec.Name)
	if full == "" {
		full = first
	}

	message := template
	message = strings.ReplaceAll(message, "{first_name}", first)
	message = strings.ReplaceAll(message, "{last_name}", rec.LastName)
	message = strings.ReplaceAll(message, "{full_name}", full)
	message = strings.ReplaceAll(message, "{church_name}", churchName)
	return message
}
