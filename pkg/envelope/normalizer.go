package envelope

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/nifyacorp/notification-worker/pkg/log"
	"github.com/nifyacorp/notification-worker/pkg/types"
)

// defaultPrompt is used when an envelope carries no usable prompt at all
const defaultPrompt = "Default prompt"

// Recovery strategy labels, logged when the primary matches location is empty
const (
	strategyPrimary    = "results.matches"
	strategyLegacy     = "legacy location results.results[0].matches"
	strategyFlatten    = "flattened results.results[].matches"
	strategyResultsArr = "results.results as matches"
	strategySynthesize = "synthesized empty match"
)

// Normalize decodes raw pub/sub bytes into a NormalizedEnvelope, tolerating
// the historical payload layouts upstream services have emitted. It returns a
// tagged ParseError, ValidationError or UnknownProcessorTypeError when the
// envelope is structurally unusable.
func Normalize(data []byte) (*types.NormalizedEnvelope, error) {
	var raw map[string]interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, types.NewError(types.KindParse, "envelope is not valid JSON", err)
	}

	traceID := stringAt(raw, "trace_id")
	if traceID == "" {
		traceID = uuid.NewString()
		envLogger := log.WithComponent("envelope")
		envLogger.Info().
			Str("trace_id", traceID).
			Msg("envelope arrived without trace_id, synthesized one")
	}

	logger := log.WithTraceID(traceID)

	processorType := stringAt(raw, "processor_type")
	if processorType == "" {
		// Legacy envelopes carried the tag under "source".
		processorType = stringAt(raw, "source")
	}
	if processorType == "" {
		return nil, types.NewError(types.KindUnknownProcessor,
			"envelope carries neither processor_type nor source", nil).WithTrace(traceID)
	}

	request := mapAt(raw, "request")
	context := mapAt(raw, "context")

	userID := probeString("user_id", request, raw, context)
	subscriptionID := probeString("subscription_id", request, raw, context)
	if userID == "" || subscriptionID == "" {
		return nil, types.NewError(types.KindValidation,
			"envelope is missing user_id or subscription_id", nil).
			WithTrace(traceID).
			WithContext("user_id", userID).
			WithContext("subscription_id", subscriptionID)
	}

	prompts := stringSliceAt(request, "prompts")

	matches, strategy := locateMatches(raw, prompts)
	if strategy != strategyPrimary {
		logger.Warn().
			Str("strategy", strategy).
			Str("processor_type", processorType).
			Msg("matches recovered via " + strategy)
	}

	return &types.NormalizedEnvelope{
		Raw:            data,
		ProcessorType:  processorType,
		TraceID:        traceID,
		UserID:         userID,
		SubscriptionID: subscriptionID,
		Prompts:        prompts,
		Matches:        matches,
	}, nil
}

// Canonical renders a normalized envelope back into the primary wire layout.
// Normalizing the canonical form yields the same normalized envelope again.
func Canonical(n *types.NormalizedEnvelope) []byte {
	payload := map[string]interface{}{
		"processor_type": n.ProcessorType,
		"trace_id":       n.TraceID,
		"request": map[string]interface{}{
			"user_id":         n.UserID,
			"subscription_id": n.SubscriptionID,
			"prompts":         n.Prompts,
		},
		"results": map[string]interface{}{
			"matches": n.Matches,
		},
	}
	data, err := json.Marshal(payload)
	if err != nil {
		// Matches and prompts come from decoded JSON, so this cannot fire.
		panic(fmt.Sprintf("canonical envelope marshal: %v", err))
	}
	return data
}

// locateMatches applies the recovery ladder over the historical envelope
// layouts until one strategy yields a non-empty matches array. The final
// strategy always succeeds by synthesizing an empty match.
func locateMatches(raw map[string]interface{}, prompts []string) ([]types.Match, string) {
	results := mapAt(raw, "results")

	// (a) the current layout: results.matches
	if matches := parseMatches(sliceAt(results, "matches"), ""); len(matches) > 0 {
		return matches, strategyPrimary
	}

	inner := sliceAt(results, "results")

	// (b) first legacy layout: results.results[0].matches
	if len(inner) > 0 {
		if first, ok := inner[0].(map[string]interface{}); ok {
			if matches := parseMatches(sliceAt(first, "matches"), stringAt(first, "prompt")); len(matches) > 0 {
				return matches, strategyLegacy
			}
		}
	}

	// (c) second legacy layout: every results.results[i].matches, flattened,
	// with the per-result prompt copied onto each match
	if len(inner) > 0 {
		var flattened []types.Match
		for _, item := range inner {
			entry, ok := item.(map[string]interface{})
			if !ok {
				continue
			}
			prompt := stringAt(entry, "prompt")
			if prompt == "" {
				prompt = firstPrompt(prompts)
			}
			flattened = append(flattened, parseMatches(sliceAt(entry, "matches"), prompt)...)
		}
		if len(flattened) > 0 {
			return flattened, strategyFlatten
		}
	}

	// (d) results.results itself is the matches array
	if matches := parseMatches(inner, ""); len(matches) > 0 {
		return matches, strategyResultsArr
	}

	// (e) nothing usable: synthesize a single empty match
	return []types.Match{{Prompt: firstPrompt(prompts), Documents: []types.Document{}}}, strategySynthesize
}

// parseMatches converts a decoded JSON array into matches. Entries that are
// not objects are dropped. fallbackPrompt fills matches missing their own.
func parseMatches(items []interface{}, fallbackPrompt string) []types.Match {
	var matches []types.Match
	for _, item := range items {
		entry, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		prompt := stringAt(entry, "prompt")
		if prompt == "" {
			prompt = fallbackPrompt
		}
		var documents []types.Document
		for _, doc := range sliceAt(entry, "documents") {
			if m, ok := doc.(map[string]interface{}); ok {
				documents = append(documents, types.Document(m))
			}
		}
		// An entry with neither documents nor a prompt is noise, not a match.
		if documents == nil && prompt == "" {
			continue
		}
		if documents == nil {
			documents = []types.Document{}
		}
		matches = append(matches, types.Match{Prompt: prompt, Documents: documents})
	}
	return matches
}

func firstPrompt(prompts []string) string {
	if len(prompts) > 0 && prompts[0] != "" {
		return prompts[0]
	}
	return defaultPrompt
}

// probeString returns the first non-empty string under key across the given
// maps, in order. Nil maps are skipped.
func probeString(key string, maps ...map[string]interface{}) string {
	for _, m := range maps {
		if v := stringAt(m, key); v != "" {
			return v
		}
	}
	return ""
}

func stringAt(m map[string]interface{}, key string) string {
	if m == nil {
		return ""
	}
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

func mapAt(m map[string]interface{}, key string) map[string]interface{} {
	if m == nil {
		return nil
	}
	if v, ok := m[key].(map[string]interface{}); ok {
		return v
	}
	return nil
}

func sliceAt(m map[string]interface{}, key string) []interface{} {
	if m == nil {
		return nil
	}
	if v, ok := m[key].([]interface{}); ok {
		return v
	}
	return nil
}

func stringSliceAt(m map[string]interface{}, key string) []string {
	var out []string
	for _, v := range sliceAt(m, key) {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
