package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"gorm.io/gorm"
)

// User is an account as seen by the chat pipeline. Accounts are created by
// the auth service; the pipeline only maintains KnownContacts.
type User struct {
	ID       string `gorm:"primaryKey" json:"id"`
	Name     string `json:"name"`
	Email    string `gorm:"uniqueIndex" json:"email"`
	ImageURL string `json:"image"`
	// KnownContacts is the set of users this user shares a room with.
	KnownContacts pq.StringArray `gorm:"type:text[];not null;default:'{}'" json:"known_contacts"`
	CreatedAt     time.Time      `json:"created_at"`
}

// BeforeCreate is a GORM hook that assigns a UUID when ID is empty.
func (u *User) BeforeCreate(tx *gorm.DB) (err error) {
	if u.ID == "" {
		u.ID = uuid.New().String()
	}
	return
}

// Knows reports whether id is in the user's contact set.
func (u *User) Knows(id string) bool {
	for _, c := range u.KnownContacts {
		if c == id {
			return true
		}
	}
	return false
}
