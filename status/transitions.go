package status

import "fmt"

// TransitionError reports a status change that is not on the allow-list.
type TransitionError struct {
	From string
	To   string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("status transition from %q to %q is not allowed", e.From, e.To)
}

// allowedTransitions is the fixed allow-list of internal status changes a
// sponsor contact may request. Closed and Withdrawn are terminal.
var allowedTransitions = map[string][]string{
	InSetup:           {OpenToRecruitment, Withdrawn},
	OpenToRecruitment: {Suspended, Closed, ClosedInFollowUp},
	Suspended:         {OpenToRecruitment, Closed, ClosedInFollowUp},
	ClosedInFollowUp:  {Closed},
}

// ValidateTransition checks a requested internal status change against the
// allow-list. A no-op change is always permitted. It never mutates state;
// the caller decides whether to abort or surface the error.
func ValidateTransition(from string, to string) error {
	if from == to {
		return nil
	}
	for _, allowed := range allowedTransitions[from] {
		if allowed == to {
			return nil
		}
	}
	return &TransitionError{From: from, To: to}
}
