package models

type Driver struct {
	ID         string  `json:"id"`
	FullName   string  `json:"full_name"`
	Phone      string  `json:"phone"`
	Email      string  `json:"email"`
	AuthUserID *string `json:"auth_user_id,omitempty"`
}

// DriverRef is the embedded driver shape returned by join-fetches.
type DriverRef struct {
	ID       string `json:"id,omitempty"`
	FullName string `json:"full_name"`
	Phone    string `json:"phone,omitempty"`
	Email    string `json:"email,omitempty"`
}

type DriverSummary struct {
	ID       string `json:"id"`
	FullName string `json:"full_name"`
	Email    string `json:"email"`
}

type DriverCreateInput struct {
	FullName string `json:"full_name"`
	Email    string `json:"email"`
	Phone    string `json:"phone"`
	Password string `json:"password"`
}

type DriverPatch struct {
	FullName *string `json:"full_name"`
	Phone    *string `json:"phone"`
	Email    *string `json:"email"`
}

// UserCreate is what the auth backend needs to mint a driver credential.
type UserCreate struct {
	Email    string
	Password string
	FullName string
	Phone    string
	Role     string
}

const RoleDriver = "driver"
