package models

import "time"

// AccessTokenKey is the single key under which the bearer token is stored.
const AccessTokenKey = "access_token"

// Credential is a key/value row in the local credential database. Tutorline
// only ever writes the AccessTokenKey row.
type Credential struct {
	Key       string `gorm:"primaryKey;size:64"`
	Value     string `gorm:"type:text;not null"`
	UpdatedAt time.Time
}
