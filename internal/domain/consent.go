package domain

// Decision is the visitor's cookie consent state.
type Decision int

const (
	Undecided Decision = iota
	Accepted
	Declined
	// Recorded is a stored value that is neither "true" nor "false". The slot
	// is present, so the visitor is not asked again.
	Recorded
)

func (d Decision) String() string {
	switch d {
	case Accepted:
		return "accepted"
	case Declined:
		return "declined"
	case Recorded:
		return "recorded"
	default:
		return "undecided"
	}
}

// Decided reports whether a decision is on record.
func (d Decision) Decided() bool {
	return d == Accepted || d == Declined || d == Recorded
}

// SlotValue is the stored form of a decision. Undecided and Recorded have
// none.
func (d Decision) SlotValue() (string, bool) {
	switch d {
	case Accepted:
		return "true", true
	case Declined:
		return "false", true
	default:
		return "", false
	}
}

// ParseDecision reads a value found in the consent slot. Only an absent slot
// is undecided, so anything other than "true" or "false" is Recorded.
func ParseDecision(raw string) Decision {
	switch raw {
	case "true":
		return Accepted
	case "false":
		return Declined
	default:
		return Recorded
	}
}

// DecisionFromBool maps an accept/decline action to a decision.
func DecisionFromBool(accepted bool) Decision {
	if accepted {
		return Accepted
	}
	return Declined
}
