package router

import (
	"synapse/internal/config"
	"synapse/internal/logging"
	"synapse/internal/store"
	"synapse/internal/types"
)

// =============================================================================
// ADAPTIVE FEEDBACK LOOP
// =============================================================================
// Weight updates blend a Laplace-smoothed success rate into the existing
// weight with an exponential moving average, so a single bad interaction
// never craters an established domain and a brand-new domain starts near
// neutral instead of at an extreme.

// FeedbackStore is the store surface the feedback loop mutates.
type FeedbackStore interface {
	GetHistoryEntry(id string) (types.RoutingHistoryEntry, error)
	AttachFeedback(routingID string, wasHelpful bool, rating *int) error
	UpdateWeight(domainID string, fn func(types.RoutingWeight) types.RoutingWeight) (types.RoutingWeight, error)
}

// Feedback applies interaction outcomes to routing weights.
type Feedback struct {
	store FeedbackStore
	cfg   config.RoutingConfig
}

// NewFeedback wires the feedback loop over the given store.
func NewFeedback(s FeedbackStore, cfg config.RoutingConfig) *Feedback {
	return &Feedback{store: s, cfg: cfg}
}

// weight bounds keep every domain permanently explorable and never fully
// trusted.
const (
	minWeight = 0.05
	maxWeight = 0.95
)

// Record attaches the outcome to the routing history entry and updates the
// weight of every domain that contributed to the decision. Unknown routing
// IDs surface as NotFoundError; the caller decides whether that matters.
func (f *Feedback) Record(routingID string, wasHelpful bool, rating *int) error {
	if rating != nil && (*rating < 1 || *rating > 5) {
		return &types.ValidationError{Field: "rating", Reason: "must be between 1 and 5"}
	}

	entry, err := f.store.GetHistoryEntry(routingID)
	if err != nil {
		return err
	}
	if err := f.store.AttachFeedback(routingID, wasHelpful, rating); err != nil {
		return err
	}

	for _, domainID := range entry.SelectedDomainIDs {
		updated, err := f.store.UpdateWeight(domainID, func(w types.RoutingWeight) types.RoutingWeight {
			if wasHelpful {
				w.SuccessCount++
			} else {
				w.FailureCount++
			}
			w.Weight = f.blend(w)
			return w
		})
		if err != nil {
			return err
		}
		logging.RouterDebug("Domain %s weight -> %.3f (%d success / %d failure)",
			domainID, updated.Weight, updated.SuccessCount, updated.FailureCount)
	}
	return nil
}

// blend computes the new weight: Laplace-smoothed success rate folded into
// the current weight by EMA, then clamped.
func (f *Feedback) blend(w types.RoutingWeight) float64 {
	smoothed := float64(w.SuccessCount+1) / float64(w.SuccessCount+w.FailureCount+2)
	next := (1-f.cfg.EMAAlpha)*w.Weight + f.cfg.EMAAlpha*smoothed
	if next < minWeight {
		return minWeight
	}
	if next > maxWeight {
		return maxWeight
	}
	return next
}

var _ FeedbackStore = (*store.LocalStore)(nil)
