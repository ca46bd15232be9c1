package models

import (
	"strings"
	"time"

	"github.com/segmentio/ksuid"
	"gorm.io/gorm"
)

const GuestIDPrefix = "guest:"

// Identity is the local participant as seen by other collaborators
type Identity struct {
	ID   string `json:"id" yaml:"id"`
	Name string `json:"name" yaml:"name"`
}

// IsGuest reports whether the identity was generated rather than authenticated
func (i Identity) IsGuest() bool {
	return strings.HasPrefix(i.ID, GuestIDPrefix)
}

/*
LEARNING: GUEST IDENTITY PERSISTENCE

A guest identity has to survive restarts of the client so that other
participants keep seeing the same name. It is keyed by profile so several
client profiles can share one database.
*/

// GuestIdentity stores a generated guest identity for a client profile
type GuestIdentity struct {
	ID         string         `gorm:"type:varchar(27);primaryKey" json:"id"`
	Profile    string         `gorm:"type:varchar(255);not null;uniqueIndex" json:"profile"`
	IdentityID string         `gorm:"type:varchar(64);not null" json:"identity_id"`
	Name       string         `gorm:"type:varchar(255);not null" json:"name"`
	CreatedAt  time.Time      `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time      `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
	DeletedAt  gorm.DeletedAt `gorm:"column:deleted_at;index" json:"deleted_at,omitempty"`
}

// BeforeCreate generates KSUID
func (g *GuestIdentity) BeforeCreate(tx *gorm.DB) error {
	if g.ID == "" {
		g.ID = ksuid.New().String()
	}
	return nil
}

// TableName override
func (GuestIdentity) TableName() string {
	return "guest_identities"
}

func (g *GuestIdentity) Identity() Identity {
	return Identity{ID: g.IdentityID, Name: g.Name}
}
