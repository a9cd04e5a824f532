package processor

import (
	"github.com/nifyacorp/notification-worker/pkg/log"
	"github.com/nifyacorp/notification-worker/pkg/types"
)

// TypeRealEstate is the tag for the real-estate processor
const TypeRealEstate = "real-estate"

var realEstateSchema = schema{
	// Listings without a link cannot be opened by the user, and there is no
	// sensible portal-wide fallback, so such documents are skipped.
	defaultLink: "",
	extraFields: []string{"price", "location", "property_type", "size", "rooms"},
}

// RealEstate processes matches coming from the real-estate scrapers.
type RealEstate struct{}

// NewRealEstate creates the real-estate processor.
func NewRealEstate() *RealEstate {
	return &RealEstate{}
}

func (p *RealEstate) Type() string { return TypeRealEstate }

func (p *RealEstate) RequiresDatabase() bool { return true }

func (p *RealEstate) ValidateAndTransform(env *types.NormalizedEnvelope) (*types.SubscriptionResult, error) {
	logger := log.WithTraceID(env.TraceID)
	return validateAndTransform(env, TypeRealEstate, realEstateSchema, func(doc types.Document) {
		logger.Warn().
			Str("processor_type", TypeRealEstate).
			Str("document_title", doc.Str("title")).
			Msg("skipping listing without a link")
	})
}

func (p *RealEstate) BuildNotifications(result *types.SubscriptionResult) []*types.Notification {
	return buildNotifications(result, realEstateSchema)
}
