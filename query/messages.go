package query

const (
	TypeListPendingLeads = "leadrelay.query.queue.list"
	TypeHealth           = "leadrelay.query.health"
)

type ListPendingLeadsMessage struct {
	// Limit caps the number of entries returned; zero returns the whole queue.
	Limit int
}

func (ListPendingLeadsMessage) Type() string { return TypeListPendingLeads }

func (m ListPendingLeadsMessage) Validate() error {
	if m.Limit < 0 {
		return queryValidationError("limit", "limit must be >= 0")
	}
	return nil
}

type HealthMessage struct{}

func (HealthMessage) Type() string { return TypeHealth }

func (HealthMessage) Validate() error { return nil }
