package model

// ResolutionStatus is the terminal state of a resolution attempt.
type ResolutionStatus int

const (
	StatusResolved ResolutionStatus = iota
	StatusNotFound
	StatusInactive
	StatusExpired
	StatusPasswordRequired
	StatusPasswordMismatch
	StatusExhausted
)

var statusNames = [...]string{
	StatusResolved:         "resolved",
	StatusNotFound:         "not_found",
	StatusInactive:         "inactive",
	StatusExpired:          "expired",
	StatusPasswordRequired: "password_required",
	StatusPasswordMismatch: "password_mismatch",
	StatusExhausted:        "exhausted",
}

func (s ResolutionStatus) String() string {
	if s < 0 || int(s) >= len(statusNames) {
		return "unknown"
	}
	return statusNames[s]
}

// Outcome is the result of resolving a short code. TargetURL is only set
// when Status is StatusResolved.
type Outcome struct {
	Status    ResolutionStatus
	TargetURL string
	Link      *Link
}

// Resolved reports whether the caller should be redirected.
func (o Outcome) Resolved() bool {
	return o.Status == StatusResolved
}
