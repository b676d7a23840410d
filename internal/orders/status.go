package orders

type Status string

const (
	StatusConfirmed Status = "confirmed"
	StatusHighRisk  Status = "high_risk_pending_review"
	StatusApproved  Status = "approved"
	StatusShipped   Status = "shipped"
	StatusCancelled Status = "cancelled"
)

var validNext = map[Status]map[Status]bool{
	StatusConfirmed: {StatusHighRisk: true, StatusApproved: true, StatusShipped: true, StatusCancelled: true},
	StatusHighRisk:  {StatusApproved: true, StatusShipped: true, StatusCancelled: true},
	StatusApproved:  {StatusShipped: true, StatusCancelled: true},
	StatusShipped:   {},
	StatusCancelled: {},
}

// CanTransition reports whether from -> to belongs to the nominal order lifecycle.
// Nothing in this module enforces it; the change feed only uses it to label what it observes.
func CanTransition(from, to Status) bool {
	return validNext[from][to]
}

func (s Status) IsTerminal() bool {
	return s == StatusShipped || s == StatusCancelled
}

func (s Status) Valid() bool {
	_, ok := validNext[s]
	return ok
}

func ParseStatus(raw string) (Status, bool) {
	s := Status(raw)
	return s, s.Valid()
}

// FraudStatus is the verdict the fraud consumer attaches next to the lifecycle status.
type FraudStatus string

const (
	FraudHighRisk FraudStatus = FraudStatus(StatusHighRisk)
	FraudApproved FraudStatus = FraudStatus(StatusApproved)
)
