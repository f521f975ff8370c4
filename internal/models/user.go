package models

// User is an operator account allowed to submit jobs and raw commands.
type User struct {
	ID           int    `json:"id"`
	Username     string `json:"username"`
	PasswordHash string `json:"-"`
}
