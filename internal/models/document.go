package models

import (
	"time"
)

// SharePermission is the access level granted by a share token
type SharePermission string

const (
	PermissionEdit SharePermission = "edit"
	PermissionView SharePermission = "view"
)

// DocumentMeta is the subset of document metadata the session needs
type DocumentMeta struct {
	ID         string     `json:"id"`
	Title      string     `json:"title"`
	Type       string     `json:"type,omitempty"`
	ArchivedAt *time.Time `json:"archived_at,omitempty"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// Archived reports whether the document has been moved to the archive
func (d *DocumentMeta) Archived() bool {
	return d != nil && d.ArchivedAt != nil
}

// ShareValidation is returned by the share token validation endpoint
type ShareValidation struct {
	DocumentID string          `json:"document_id"`
	Permission SharePermission `json:"permission"`
	Title      string          `json:"title,omitempty"`
	ExpiresAt  *time.Time      `json:"expires_at,omitempty"`
}
