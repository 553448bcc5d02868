package model

// Well-known upstream rejection reasons. The upstream client normalizes
// everything else into free text.
const (
	ReasonCodeAlreadyUsed = "code_already_used"
	ReasonInvalidSession  = "invalid_session"
	ReasonAmbiguous       = "ambiguous"
)

// ActivationOutcome is the normalized result of one upstream redemption.
// It is transient: logged and acted on, never persisted directly.
//
// Ambiguous marks transport-level uncertainty (timeout, connection lost
// mid-call): the real upstream outcome is unknown, so the caller must NOT
// consume the key. Bookkeeping treats it exactly like a failure; logs flag
// it separately for operator reconciliation.
type ActivationOutcome struct {
	Success   bool
	TaskID    string
	Reason    string // empty on success
	Ambiguous bool
}

func SuccessOutcome(taskID string) ActivationOutcome {
	return ActivationOutcome{Success: true, TaskID: taskID}
}

func RejectedOutcome(reason string) ActivationOutcome {
	return ActivationOutcome{Success: false, Reason: reason}
}

func AmbiguousOutcome() ActivationOutcome {
	return ActivationOutcome{Success: false, Reason: ReasonAmbiguous, Ambiguous: true}
}
