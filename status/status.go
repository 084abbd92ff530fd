// Package status maps between the CPMS status vocabulary and the coarser
// internal vocabulary shown to sponsor contacts, and validates status
// transitions requested through the edit form.
package status

// Internal statuses are what the application displays and accepts on edit.
const (
	InSetup           = "In Setup"
	OpenToRecruitment = "Open to Recruitment"
	Suspended         = "Suspended"
	ClosedInFollowUp  = "Closed, in Follow Up"
	Closed            = "Closed"
	Withdrawn         = "Withdrawn"
)

// External statuses are the fine-grained CPMS vocabulary. Open and
// Suspended each split into two sub-states depending on whether the study
// had reached active recruitment.
const (
	ExtInSetup                          = "InSetup"
	ExtOpenToRecruitment                = "OpenToRecruitment"
	ExtOpenWithRecruitment              = "OpenWithRecruitment"
	ExtSuspendedFromOpenToRecruitment   = "SuspendedFromOpenToRecruitment"
	ExtSuspendedFromOpenWithRecruitment = "SuspendedFromOpenWithRecruitment"
	ExtClosedToRecruitment              = "ClosedToRecruitment"
	ExtClosedToRecruitmentInFollowUp    = "ClosedToRecruitmentInFollowUp"
	ExtWithdrawnDuringSetup             = "WithdrawnDuringSetup"
	ExtWithdrawnInPreSetup              = "WithdrawnInPreSetup"
)

var externalToInternal = map[string]string{
	ExtInSetup:                          InSetup,
	ExtOpenToRecruitment:                OpenToRecruitment,
	ExtOpenWithRecruitment:              OpenToRecruitment,
	ExtSuspendedFromOpenToRecruitment:   Suspended,
	ExtSuspendedFromOpenWithRecruitment: Suspended,
	ExtClosedToRecruitment:              Closed,
	ExtClosedToRecruitmentInFollowUp:    ClosedInFollowUp,
	ExtWithdrawnDuringSetup:             Withdrawn,
	ExtWithdrawnInPreSetup:              Withdrawn,
}

// ToInternal maps a CPMS status to the internal vocabulary. Unmapped
// values pass through unchanged so an unexpected upstream status is still
// displayable.
func ToInternal(external string) string {
	if internal, ok := externalToInternal[external]; ok {
		return internal
	}
	return external
}

// ToExternal maps an internal status back to the CPMS vocabulary. Open and
// Suspended are ambiguous on their own: which sub-state to pick depends on
// whether the study was previously in (or suspended from) active
// recruitment, so the current CPMS status is consulted. Unmapped values
// pass through unchanged.
func ToExternal(internal string, currentExternal string) string {
	switch internal {
	case InSetup:
		return ExtInSetup
	case OpenToRecruitment:
		if wasWithRecruitment(currentExternal) {
			return ExtOpenWithRecruitment
		}
		return ExtOpenToRecruitment
	case Suspended:
		if wasWithRecruitment(currentExternal) {
			return ExtSuspendedFromOpenWithRecruitment
		}
		return ExtSuspendedFromOpenToRecruitment
	case ClosedInFollowUp:
		return ExtClosedToRecruitmentInFollowUp
	case Closed:
		return ExtClosedToRecruitment
	case Withdrawn:
		return ExtWithdrawnDuringSetup
	default:
		return internal
	}
}

func wasWithRecruitment(currentExternal string) bool {
	return currentExternal == ExtOpenWithRecruitment ||
		currentExternal == ExtSuspendedFromOpenWithRecruitment
}
