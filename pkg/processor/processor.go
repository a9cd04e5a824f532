package processor

import (
	"fmt"
	"strings"
	"time"

	"github.com/nifyacorp/notification-worker/pkg/types"
)

const (
	maxTitleLength   = 80
	maxSummaryLength = 200
	promptPrefixLen  = 30

	defaultSummary = "No hay resumen disponible."
)

// Processor is the per-tag capability: validate and coerce the documents of
// one envelope, then build the candidate notifications. Implementations are
// plain values registered once at startup.
type Processor interface {
	// Type returns the tag this processor handles, e.g. "boe".
	Type() string

	// RequiresDatabase reports whether the processor needs the store to be
	// reachable; used by the diagnostics surface.
	RequiresDatabase() bool

	// ValidateAndTransform coerces the envelope's documents against the
	// per-type schema. Documents whose required fields cannot be defaulted
	// are dropped and counted in SkippedDocuments.
	ValidateAndTransform(env *types.NormalizedEnvelope) (*types.SubscriptionResult, error)

	// BuildNotifications turns a validated result into candidate
	// notification records, one per document, in envelope order.
	BuildNotifications(result *types.SubscriptionResult) []*types.Notification
}

// schema describes the common per-document coercion knobs that differ
// between processors.
type schema struct {
	// defaultLink fills links.html when absent; empty means the document
	// is invalid without one.
	defaultLink string
	// extraFields are the processor-specific document keys copied into the
	// notification metadata.
	extraFields []string
}

// coerceDocument applies the shared document rules in place: link default,
// summary default and truncation, bidirectional title fill. It reports
// whether the document is usable.
func coerceDocument(doc types.Document, s schema) bool {
	links := doc.Map("links")
	htmlLink := ""
	if links != nil {
		if v, ok := links["html"].(string); ok {
			htmlLink = v
		}
	}
	if htmlLink == "" {
		if s.defaultLink == "" {
			return false
		}
		if links == nil {
			links = map[string]interface{}{}
			doc["links"] = links
		}
		links["html"] = s.defaultLink
	}

	if doc.Str("summary") == "" {
		doc["summary"] = defaultSummary
	}
	doc["summary"] = truncate(doc.Str("summary"), maxSummaryLength)

	// Fill title and notification_title from each other when one is missing.
	title := doc.Str("title")
	notificationTitle := doc.Str("notification_title")
	if title == "" && notificationTitle != "" {
		doc["title"] = notificationTitle
	}
	if notificationTitle == "" && title != "" {
		doc["notification_title"] = title
	}

	return true
}

// usableTitle reports whether a raw title field is worth showing: longer
// than three characters, not the placeholder literal "string", and not a
// leaked template string containing "notification".
func usableTitle(s string) bool {
	return len(s) > 3 && s != "string" && !strings.Contains(s, "notification")
}

// selectTitle picks the notification title for one document. The order is
// fixed: notification_title, title, a document_type composite, then a
// prompt-based fallback. The result never exceeds maxTitleLength runes.
func selectTitle(doc types.Document, processorType, prompt string) string {
	if nt := doc.Str("notification_title"); usableTitle(nt) {
		return truncate(nt, maxTitleLength)
	}

	if t := doc.Str("title"); usableTitle(t) {
		return truncate(t, maxTitleLength)
	}

	if docType := doc.Str("document_type"); docType != "" {
		title := docType
		if issuer := doc.Str("issuing_body"); issuer != "" {
			title += " de " + issuer
		}
		if date := doc.Str("publication_date"); date != "" {
			title += " (" + date + ")"
		}
		return truncate(title, maxTitleLength)
	}

	return truncate(fmt.Sprintf("Alerta %s: %q", processorType, promptPrefix(prompt)), maxTitleLength)
}

// promptPrefix trims the prompt and keeps its first promptPrefixLen runes,
// appending an ellipsis when it was longer.
func promptPrefix(prompt string) string {
	prompt = strings.TrimSpace(prompt)
	runes := []rune(prompt)
	if len(runes) <= promptPrefixLen {
		return prompt
	}
	return strings.TrimSpace(string(runes[:promptPrefixLen])) + "..."
}

// truncate shortens s to at most limit runes, ellipsising when needed.
func truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit-3]) + "..."
}

// entityType derives the stored entity_type tag for a document.
func entityType(processorType string, doc types.Document) string {
	docType := doc.Str("document_type")
	if docType == "" {
		docType = "document"
	}
	return processorType + ":" + strings.ToLower(docType)
}

// Keys consumed by the notification record itself; everything else on the
// document is preserved in the metadata blob.
var consumedKeys = map[string]bool{
	"title":              true,
	"notification_title": true,
	"summary":            true,
	"links":              true,
}

// buildMetadata assembles the flat metadata map for one document.
func buildMetadata(doc types.Document, s schema, processorType, prompt, traceID string) map[string]interface{} {
	metadata := map[string]interface{}{
		"prompt":         prompt,
		"processor_type": processorType,
		"trace_id":       traceID,
	}

	if v := doc.Float("relevance_score"); v != 0 {
		metadata["relevance"] = v
	}
	for _, key := range []string{"document_type", "publication_date", "issuing_body", "section", "department"} {
		if v := doc.Str(key); v != "" {
			metadata[key] = v
		}
	}
	if original := doc.Str("title"); original != "" {
		metadata["original_title"] = original
	}

	for _, key := range s.extraFields {
		if v, ok := doc[key]; ok && v != nil {
			metadata[key] = v
		}
	}

	// Unknown keys ride along so downstream consumers keep seeing them.
	known := map[string]bool{
		"document_type": true, "relevance_score": true, "publication_date": true,
		"issuing_body": true, "section": true, "department": true,
	}
	for _, key := range s.extraFields {
		known[key] = true
	}
	for key, value := range doc {
		if consumedKeys[key] || known[key] {
			continue
		}
		if _, taken := metadata[key]; taken {
			continue
		}
		metadata[key] = value
	}

	return metadata
}

// buildNotification assembles one candidate record from a coerced document.
func buildNotification(doc types.Document, s schema, result *types.SubscriptionResult, prompt string) *types.Notification {
	sourceURL := ""
	if links := doc.Map("links"); links != nil {
		if v, ok := links["html"].(string); ok {
			sourceURL = v
		}
	}

	now := time.Now().UTC()
	return &types.Notification{
		UserID:         result.UserID,
		SubscriptionID: result.SubscriptionID,
		Title:          selectTitle(doc, result.ProcessorType, prompt),
		Content:        doc.Str("summary"),
		SourceURL:      sourceURL,
		EntityType:     entityType(result.ProcessorType, doc),
		Metadata:       buildMetadata(doc, s, result.ProcessorType, prompt, result.TraceID),
		Status:         types.NotificationUnread,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// validateAndTransform is the shared implementation behind every processor's
// ValidateAndTransform: coerce each document, drop the unusable ones, keep
// the surrounding match.
func validateAndTransform(env *types.NormalizedEnvelope, tag string, s schema, warn func(doc types.Document)) (*types.SubscriptionResult, error) {
	if env.ProcessorType != tag {
		return nil, types.NewError(types.KindValidation,
			fmt.Sprintf("envelope tagged %q handed to the %s processor", env.ProcessorType, tag), nil).
			WithTrace(env.TraceID)
	}

	result := &types.SubscriptionResult{
		ProcessorType:  env.ProcessorType,
		TraceID:        env.TraceID,
		UserID:         env.UserID,
		SubscriptionID: env.SubscriptionID,
		Prompts:        env.Prompts,
	}

	for _, match := range env.Matches {
		kept := types.Match{Prompt: match.Prompt}
		for _, doc := range match.Documents {
			if !coerceDocument(doc, s) {
				result.SkippedDocuments++
				warn(doc)
				continue
			}
			kept.Documents = append(kept.Documents, doc)
		}
		if kept.Documents == nil {
			kept.Documents = []types.Document{}
		}
		result.Matches = append(result.Matches, kept)
	}

	return result, nil
}

// buildNotifications is the shared implementation behind every processor's
// BuildNotifications, preserving envelope order.
func buildNotifications(result *types.SubscriptionResult, s schema) []*types.Notification {
	var out []*types.Notification
	for _, match := range result.Matches {
		for _, doc := range match.Documents {
			out = append(out, buildNotification(doc, s, result, match.Prompt))
		}
	}
	return out
}
