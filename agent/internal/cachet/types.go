package cachet

import (
	"fmt"

	"github.com/pilot-net/cachet-agent/pkg/types"
)

// Group is a component group on the status page.
type Group struct {
	ID        int    `json:"id"`
	Name      string `json:"name"`
	Order     int    `json:"order,omitempty"`
	Collapsed int    `json:"collapsed,omitempty"`
}

// Component is a status page component.
type Component struct {
	ID          int    `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Status      int    `json:"status"`
	GroupID     int    `json:"group_id"`
	Enabled     bool   `json:"enabled,omitempty"`
}

// CreateGroupRequest is the body of POST /components/groups.
type CreateGroupRequest struct {
	Name string `json:"name"`
}

// CreateComponentRequest is the body of POST /components.
type CreateComponentRequest struct {
	Name    string `json:"name"`
	Status  int    `json:"status"`
	GroupID int    `json:"group_id"`
}

// UpdateComponentRequest is the body of PUT /components/{id}.
// Only status and description are ever changed by the agent.
type UpdateComponentRequest struct {
	Status      int    `json:"status"`
	Description string `json:"description"`
}

// Pagination is the meta block of list responses.
type Pagination struct {
	Total       int `json:"total"`
	Count       int `json:"count"`
	PerPage     int `json:"per_page"`
	CurrentPage int `json:"current_page"`
	TotalPages  int `json:"total_pages"`
}

// envelope is the common response wrapper: {"data": ..., "meta": ...}.
type envelope[T any] struct {
	Data T `json:"data"`
	Meta struct {
		Pagination *Pagination `json:"pagination,omitempty"`
	} `json:"meta"`
}

// wireStatus maps agent statuses to the status page's integers. This is the
// only place those integers appear.
var wireStatus = map[types.StatusCode]int{
	types.StatusOperational:       1,
	types.StatusPerformanceIssues: 2,
	types.StatusPartialOutage:     3,
	types.StatusMajorOutage:       4,
}

// WireStatus converts a status to its API integer.
func WireStatus(s types.StatusCode) (int, error) {
	v, ok := wireStatus[s]
	if !ok {
		return 0, fmt.Errorf("status %s cannot be sent to the status page", s)
	}
	return v, nil
}

// StatusFromWire converts an API integer back to a status.
func StatusFromWire(v int) types.StatusCode {
	for s, w := range wireStatus {
		if w == v {
			return s
		}
	}
	return types.StatusUnknown
}
