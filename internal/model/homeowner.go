// Package model defines the domain types shared by the intake pipeline.
package model

import "time"

// Homeowner is a homeowner record as stored by the directory. Address is the
// canonical address used as the fuzzy-matching target.
type Homeowner struct {
	ID          string    `json:"id" db:"id"`
	Name        string    `json:"name" db:"name"`
	Email       string    `json:"email,omitempty" db:"email"`
	Phone       string    `json:"phone,omitempty" db:"phone"`
	Address     string    `json:"address" db:"address"`
	BuilderName string    `json:"builder_name,omitempty" db:"builder_name"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}
