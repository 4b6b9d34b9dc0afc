package search

// Result is a single client hit returned to the caller.
type Result struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Phone    string `json:"phone"`
	Status   string `json:"status"`
	Project  string `json:"project,omitempty"`
	City     string `json:"city,omitempty"`
	Campaign string `json:"campaign,omitempty"`
}

// Query describes a search request.
type Query struct {
	Text         string
	FilterStatus string // empty = all statuses
	Limit        int
	Offset       int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a client search.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}

// ClientRecord is the data we index for a client.
type ClientRecord struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Phone    string `json:"phone"`
	Email    string `json:"email,omitempty"`
	Status   string `json:"status"`
	Project  string `json:"project,omitempty"`
	City     string `json:"city,omitempty"`
	Campaign string `json:"campaign,omitempty"`
}
