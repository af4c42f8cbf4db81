package models

import "time"

const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

type User struct {
	ID          int       `json:"id" db:"id" example:"1"`
	Email       string    `json:"email" db:"email" example:"maria@example.com"`
	Name        string    `json:"name" db:"name" example:"Maria Souza"`
	PhoneNumber *string   `json:"phone_number,omitempty" db:"phone_number" example:"+5511988887777"`
	Role        string    `json:"role" db:"role" example:"user"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`
}
