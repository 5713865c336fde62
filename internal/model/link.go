package model

import (
	"time"
)

// Link represents a short code mapping
type Link struct {
	Code         string     `json:"code"`
	TargetURL    string     `json:"target_url"`
	Owner        string     `json:"owner,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
	MaxUses      *int64     `json:"max_uses,omitempty"`
	UseCount     int64      `json:"use_count"`
	LastUsedAt   *time.Time `json:"last_used_at,omitempty"`
	PasswordHash string     `json:"password_hash,omitempty"`
	Active       bool       `json:"active"`
	DeletedAt    *time.Time `json:"deleted_at,omitempty"`
}

// IsExpired reports whether the link has an expiry at or before now.
func (l *Link) IsExpired(now time.Time) bool {
	if l.ExpiresAt == nil {
		return false
	}
	return !now.Before(*l.ExpiresAt)
}

// IsExhausted reports whether every use slot has been consumed.
func (l *Link) IsExhausted() bool {
	return l.MaxUses != nil && l.UseCount >= *l.MaxUses
}

// IsDeleted reports whether the link has been soft-deleted.
func (l *Link) IsDeleted() bool {
	return l.DeletedAt != nil
}

// HasPassword reports whether resolution requires a credential.
func (l *Link) HasPassword() bool {
	return l.PasswordHash != ""
}

// IsResolvable checks if the link can currently be resolved.
func (l *Link) IsResolvable(now time.Time) bool {
	return l.Active && !l.IsDeleted() && !l.IsExpired(now) && !l.IsExhausted()
}

// LinkPatch carries the owner-mutable fields of a link. Nil pointers leave
// the field untouched; the Clear flags reset optional fields to "absent".
type LinkPatch struct {
	TargetURL      *string
	ExpiresAt      *time.Time
	ClearExpiresAt bool
	MaxUses        *int64
	ClearMaxUses   bool
	PasswordHash   *string
	ClearPassword  bool
	Active         *bool
}

// IsEmpty reports whether the patch changes nothing.
func (p LinkPatch) IsEmpty() bool {
	return p.TargetURL == nil && p.ExpiresAt == nil && !p.ClearExpiresAt &&
		p.MaxUses == nil && !p.ClearMaxUses && p.PasswordHash == nil &&
		!p.ClearPassword && p.Active == nil
}

// Apply returns a copy of link with the patch applied.
func (p LinkPatch) Apply(link Link) Link {
	if p.TargetURL != nil {
		link.TargetURL = *p.TargetURL
	}
	if p.ClearExpiresAt {
		link.ExpiresAt = nil
	} else if p.ExpiresAt != nil {
		t := *p.ExpiresAt
		link.ExpiresAt = &t
	}
	if p.ClearMaxUses {
		link.MaxUses = nil
	} else if p.MaxUses != nil {
		n := *p.MaxUses
		link.MaxUses = &n
	}
	if p.ClearPassword {
		link.PasswordHash = ""
	} else if p.PasswordHash != nil {
		link.PasswordHash = *p.PasswordHash
	}
	if p.Active != nil {
		link.Active = *p.Active
	}
	return link
}

// LinkFilter narrows link listings.
type LinkFilter struct {
	Owner  string
	Limit  int
	Offset int
}

// CreateLinkRequest represents the request body for creating a short link
type CreateLinkRequest struct {
	TargetURL     string     `json:"target_url" binding:"required"`
	RequestedCode string     `json:"requested_code,omitempty"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty"`
	ExpiresIn     string     `json:"expires_in,omitempty"` // e.g. "24h", "7d"
	MaxUses       *int64     `json:"max_uses,omitempty"`
	Password      string     `json:"password,omitempty"`
}

// CreateLinkResponse represents the response after creating a short link
type CreateLinkResponse struct {
	Code      string     `json:"code"`
	ShortURL  string     `json:"short_url"`
	TargetURL string     `json:"target_url"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	MaxUses   *int64     `json:"max_uses,omitempty"`
	Protected bool       `json:"password_protected"`
}

// UpdateLinkRequest is the PATCH body. Code and CreatedAt exist only so that
// attempts to change them can be rejected explicitly.
type UpdateLinkRequest struct {
	Code           *string    `json:"code,omitempty"`
	CreatedAt      *time.Time `json:"created_at,omitempty"`
	TargetURL      *string    `json:"target_url,omitempty"`
	ExpiresAt      *time.Time `json:"expires_at,omitempty"`
	ClearExpiresAt bool       `json:"clear_expires_at,omitempty"`
	MaxUses        *int64     `json:"max_uses,omitempty"`
	ClearMaxUses   bool       `json:"clear_max_uses,omitempty"`
	Password       *string    `json:"password,omitempty"`
	ClearPassword  bool       `json:"clear_password,omitempty"`
	Active         *bool      `json:"active,omitempty"`
}

// LinkResponse is the public view of a link; the password hash never leaves
// the service.
type LinkResponse struct {
	Code       string     `json:"code"`
	ShortURL   string     `json:"short_url"`
	TargetURL  string     `json:"target_url"`
	Owner      string     `json:"owner,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
	MaxUses    *int64     `json:"max_uses,omitempty"`
	UseCount   int64      `json:"use_count"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
	Protected  bool       `json:"password_protected"`
	Active     bool       `json:"active"`
}

// NewLinkResponse builds the public view of link under baseURL.
func NewLinkResponse(link *Link, baseURL string) LinkResponse {
	return LinkResponse{
		Code:       link.Code,
		ShortURL:   baseURL + "/" + link.Code,
		TargetURL:  link.TargetURL,
		Owner:      link.Owner,
		CreatedAt:  link.CreatedAt,
		UpdatedAt:  link.UpdatedAt,
		ExpiresAt:  link.ExpiresAt,
		MaxUses:    link.MaxUses,
		UseCount:   link.UseCount,
		LastUsedAt: link.LastUsedAt,
		Protected:  link.HasPassword(),
		Active:     link.Active,
	}
}
