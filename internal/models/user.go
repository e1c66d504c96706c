package models

import "time"

// User is a staff identity. Users are provisioned out-of-band and are
// read-only from the API's point of view.
type User struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"` // Never expose this to the client
	CreatedAt    time.Time `json:"createdAt"`
}
