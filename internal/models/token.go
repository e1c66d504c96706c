package models

import "time"

// Token is an opaque bearer credential bound to one identity. Value is only
// populated when the token is first issued; storage keeps its hash.
type Token struct {
	Value      string    `json:"token"`
	IdentityID string    `json:"-"`
	IssuedAt   time.Time `json:"issuedAt"`
}
