package domain

// TicketStats summarizes ticket counts for dashboards.
type TicketStats struct {
	Total      int
	Open       int
	InProgress int
	Resolved   int
	Today      int
}
