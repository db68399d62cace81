package models

// User roles.
const (
	RoleCustomer = "customer"
	RolePartner  = "partner"
	RoleAdmin    = "admin"
)

// User represents an authenticated customer or staff member.
type User struct {
	BaseModel
	FirstName    string  `json:"first_name"`
	LastName     string  `json:"last_name"`
	Phone        string  `gorm:"uniqueIndex" json:"phone"`
	Email        string  `gorm:"index" json:"email"`
	DisplayName  string  `json:"display_name"`
	PasswordHash string  `json:"-"`
	Role         string  `gorm:"size:16;default:customer" json:"role"`
	Orders       []Order `json:"orders,omitempty"`
}
