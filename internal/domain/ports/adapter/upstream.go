package adapter

import (
	"context"

	"gpt-subscription-orchestrator/internal/domain/model"
)

// UpstreamActivator performs one (code, credential) redemption against the
// external activation system and normalizes its result. Implementations own
// transport-level retry and the submit/poll dance; the orchestrator only
// ever sees a single terminal ActivationOutcome.
//
// A non-nil error means the call could not be completed at all and must be
// treated like an ambiguous outcome: the key is not consumed.
type UpstreamActivator interface {
	Activate(ctx context.Context, code, credentialPayload string) (model.ActivationOutcome, error)
}
