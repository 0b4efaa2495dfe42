// Package customer holds the domain types shared by the auth client, the
// credential store and the wearable bridge.
package customer

import (
	"time"
)

// ProtectionDateFormat is the backend's timestamp layout for the protection
// window (ISO local date-time, no zone).
const ProtectionDateFormat = "2006-01-02T15:04:05"

// Info is the customer profile as returned by the backend.
type Info struct {
	ID                       int    `json:"id"`
	Name                     string `json:"name"`
	Surname                  string `json:"surname"`
	Phone                    string `json:"phone"`
	Pesel                    string `json:"pesel"`
	Email                    string `json:"email"`
	AccountDeleted           bool   `json:"account_deleted"`
	ProtectionExpirationDate string `json:"protection_expiration_date,omitempty"`
	Token                    string `json:"token,omitempty"`
}

// Credentials is the login request payload.
type Credentials struct {
	Login    string `json:"login"`
	Password string `json:"password"`
}

// EditRequest carries a profile update. Zero-valued optional fields are
// omitted from the payload; Password authorizes the change.
type EditRequest struct {
	Login       string `json:"login,omitempty"`
	Password    string `json:"password"`
	NewPassword string `json:"newPassword,omitempty"`
	Name        string `json:"name,omitempty"`
	Surname     string `json:"surname,omitempty"`
	Email       string `json:"email,omitempty"`
	Phone       string `json:"phone,omitempty"`
	Pesel       string `json:"pesel,omitempty"`
}

// FullName returns the customer's display name.
func (i Info) FullName() string {
	return i.Name + " " + i.Surname
}

// ProtectionActive reports whether the customer's protection window covers
// the given moment. A missing expiration date means no active protection.
func (i Info) ProtectionActive(now time.Time) bool {
	if i.ProtectionExpirationDate == "" {
		return false
	}
	exp, err := time.ParseInLocation(ProtectionDateFormat, i.ProtectionExpirationDate, now.Location())
	if err != nil {
		return false
	}
	return now.Before(exp)
}
