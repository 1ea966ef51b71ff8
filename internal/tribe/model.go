// Package tribe is the membership collaborator for the messaging subsystem.
// The chat gateway uses it as its access-control source; the full tribe
// feature set (join requests, rituals, analytics) lives elsewhere.
package tribe

import "time"

type Tribe struct {
	ID        int       `json:"id"`
	Name      string    `json:"name"`
	OwnerID   int       `json:"owner_id"`
	CreatedAt time.Time `json:"created_at"`
}

type CreateRequest struct {
	Name string `json:"name" validate:"required,max=100"`
}
