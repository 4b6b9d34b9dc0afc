package store

import "time"

// ClientStatus is the closed set of pipeline stages a client can be in.
// Rows carrying any other value are a data-integrity violation and are
// dropped (and logged) on read, never coerced.
type ClientStatus string

const (
	StatusNew         ClientStatus = "new"
	StatusContacted   ClientStatus = "contacted"
	StatusInterested  ClientStatus = "interested"
	StatusVisit       ClientStatus = "visit_scheduled"
	StatusNegotiation ClientStatus = "negotiation"
	StatusClosedWon   ClientStatus = "closed_won"
	StatusClosedLost  ClientStatus = "closed_lost"
)

var validStatuses = map[ClientStatus]struct{}{
	StatusNew:         {},
	StatusContacted:   {},
	StatusInterested:  {},
	StatusVisit:       {},
	StatusNegotiation: {},
	StatusClosedWon:   {},
	StatusClosedLost:  {},
}

func ValidStatus(s ClientStatus) bool {
	_, ok := validStatuses[s]
	return ok
}

type Client struct {
	ID         string
	Name       string
	Status     ClientStatus
	Phone      string
	Email      string
	City       string
	Project    string
	Budget     string
	Campaign   string
	AssignedTo *string
	Comments   []string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

type Profile struct {
	ID          string
	DisplayName string
	Email       string
	Active      bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type Notification struct {
	ID        string
	UserID    string
	Title     string
	Body      string
	Read      bool
	CreatedAt time.Time
}
