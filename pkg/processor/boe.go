package processor

import (
	"github.com/nifyacorp/notification-worker/pkg/log"
	"github.com/nifyacorp/notification-worker/pkg/types"
)

// TypeBOE is the tag for the government-bulletin processor
const TypeBOE = "boe"

// boeDefaultLink fills documents the scraper published without a link
const boeDefaultLink = "https://www.boe.es"

var boeSchema = schema{
	defaultLink: boeDefaultLink,
	extraFields: []string{"bulletin_type"},
}

// BOE processes matches coming from the government-bulletin scraper.
type BOE struct{}

// NewBOE creates the bulletin processor.
func NewBOE() *BOE {
	return &BOE{}
}

func (p *BOE) Type() string { return TypeBOE }

func (p *BOE) RequiresDatabase() bool { return true }

func (p *BOE) ValidateAndTransform(env *types.NormalizedEnvelope) (*types.SubscriptionResult, error) {
	logger := log.WithTraceID(env.TraceID)
	return validateAndTransform(env, TypeBOE, boeSchema, func(doc types.Document) {
		logger.Warn().
			Str("processor_type", TypeBOE).
			Str("document_title", doc.Str("title")).
			Msg("skipping bulletin document with no usable fields")
	})
}

func (p *BOE) BuildNotifications(result *types.SubscriptionResult) []*types.Notification {
	return buildNotifications(result, boeSchema)
}
