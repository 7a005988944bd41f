package domain

import "github.com/google/uuid"

// Purchaser is the authenticated caller identity trusted by the buyer-facing routes.
type Purchaser struct {
	ID    uuid.UUID
	Email string
	Admin bool
}
