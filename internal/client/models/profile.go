package models

import (
	"encoding/json"
	"fmt"
	"maps"
	"strings"
	"time"
)

// Role is the application role stored on a profile.
type Role string

const (
	RoleStudent Role = "student"
	RoleAdmin   Role = "admin"
)

// Document field names shared by every store adapter.
const (
	FieldUID          = "uid"
	FieldEmail        = "email"
	FieldDisplayName  = "displayName"
	FieldUserRole     = "userRole"
	FieldIsActive     = "isActive"
	FieldExamData     = "examData"
	FieldAdminNotes   = "adminNotes"
	FieldIsPremium    = "isPremium"
	FieldPremiumUntil = "premiumUntil"
	FieldCreatedAt    = "createdAt"
	FieldLastUpdated  = "lastUpdated"
	FieldUpdatedBy    = "updatedBy"
)

// ExamRecord is the registration data of one exam subject.
type ExamRecord struct {
	Rank      int       `json:"rank"`
	Verified  bool      `json:"verified"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Profile is the application-level user record. UID never changes and
// always equals the owning identity's UID.
type Profile struct {
	UID          string                `json:"uid"`
	Email        string                `json:"email"`
	DisplayName  string                `json:"displayName"`
	UserRole     Role                  `json:"userRole"`
	IsActive     bool                  `json:"isActive"`
	ExamData     map[string]ExamRecord `json:"examData,omitempty"`
	AdminNotes   string                `json:"adminNotes,omitempty"`
	IsPremium    bool                  `json:"isPremium,omitempty"`
	PremiumUntil *time.Time            `json:"premiumUntil,omitempty"`
	CreatedAt    time.Time             `json:"createdAt"`
	LastUpdated  time.Time             `json:"lastUpdated"`
	UpdatedBy    string                `json:"updatedBy,omitempty"`
}

// ProfileUpdate is a partial profile. Nil fields are absent. ExamData
// replaces the whole map when set, so a non-nil empty map clears every
// subject; it is encoded without omitempty to keep that distinction.
// UID is not part of the update surface.
type ProfileUpdate struct {
	Email        *string               `json:"email,omitempty"`
	DisplayName  *string               `json:"displayName,omitempty"`
	UserRole     *Role                 `json:"userRole,omitempty"`
	IsActive     *bool                 `json:"isActive,omitempty"`
	ExamData     map[string]ExamRecord `json:"examData"`
	AdminNotes   *string               `json:"adminNotes,omitempty"`
	IsPremium    *bool                 `json:"isPremium,omitempty"`
	PremiumUntil *time.Time            `json:"premiumUntil,omitempty"`
	UpdatedBy    *string               `json:"updatedBy,omitempty"`
}

// Ptr returns a pointer to v. Used to build ProfileUpdate literals.
func Ptr[T any](v T) *T { return &v }

// DefaultProfile synthesizes the profile of a first-time user.
func DefaultProfile(id *Identity, now time.Time) *Profile {
	return &Profile{
		UID:         id.UID,
		Email:       id.Email,
		DisplayName: displayNameOf(id),
		UserRole:    RoleStudent,
		IsActive:    true,
		ExamData:    map[string]ExamRecord{},
		CreatedAt:   now,
		LastUpdated: now,
	}
}

func displayNameOf(id *Identity) string {
	if id.DisplayName != "" {
		return id.DisplayName
	}
	if local, _, ok := strings.Cut(id.Email, "@"); ok && local != "" {
		return local
	}
	return "User"
}

// Clone returns a deep copy.
func (p *Profile) Clone() *Profile {
	if p == nil {
		return nil
	}
	c := *p
	c.ExamData = maps.Clone(p.ExamData)
	if p.PremiumUntil != nil {
		t := *p.PremiumUntil
		c.PremiumUntil = &t
	}
	return &c
}

// IsAdmin reports whether the profile carries the admin role.
func (p *Profile) IsAdmin() bool { return p != nil && p.UserRole == RoleAdmin }

// Apply overwrites the fields set in u.
func (p *Profile) Apply(u ProfileUpdate) {
	if u.Email != nil {
		p.Email = *u.Email
	}
	if u.DisplayName != nil {
		p.DisplayName = *u.DisplayName
	}
	if u.UserRole != nil {
		p.UserRole = *u.UserRole
	}
	if u.IsActive != nil {
		p.IsActive = *u.IsActive
	}
	if u.ExamData != nil {
		p.ExamData = maps.Clone(u.ExamData)
	}
	if u.AdminNotes != nil {
		p.AdminNotes = *u.AdminNotes
	}
	if u.IsPremium != nil {
		p.IsPremium = *u.IsPremium
	}
	if u.PremiumUntil != nil {
		t := *u.PremiumUntil
		p.PremiumUntil = &t
	}
	if u.UpdatedBy != nil {
		p.UpdatedBy = *u.UpdatedBy
	}
}

// Merge returns u overlaid with next: every field set in next wins,
// fields only set in u are kept.
func (u ProfileUpdate) Merge(next ProfileUpdate) ProfileUpdate {
	out := u
	if next.Email != nil {
		out.Email = next.Email
	}
	if next.DisplayName != nil {
		out.DisplayName = next.DisplayName
	}
	if next.UserRole != nil {
		out.UserRole = next.UserRole
	}
	if next.IsActive != nil {
		out.IsActive = next.IsActive
	}
	if next.ExamData != nil {
		out.ExamData = next.ExamData
	}
	if next.AdminNotes != nil {
		out.AdminNotes = next.AdminNotes
	}
	if next.IsPremium != nil {
		out.IsPremium = next.IsPremium
	}
	if next.PremiumUntil != nil {
		out.PremiumUntil = next.PremiumUntil
	}
	if next.UpdatedBy != nil {
		out.UpdatedBy = next.UpdatedBy
	}
	return out
}

// IsEmpty reports whether no field is set.
func (u ProfileUpdate) IsEmpty() bool {
	return len(u.Fields()) == 0
}

// Fields returns the set fields keyed by document field name.
func (u ProfileUpdate) Fields() map[string]any {
	f := map[string]any{}
	if u.Email != nil {
		f[FieldEmail] = *u.Email
	}
	if u.DisplayName != nil {
		f[FieldDisplayName] = *u.DisplayName
	}
	if u.UserRole != nil {
		f[FieldUserRole] = string(*u.UserRole)
	}
	if u.IsActive != nil {
		f[FieldIsActive] = *u.IsActive
	}
	if u.ExamData != nil {
		f[FieldExamData] = examDocument(u.ExamData)
	}
	if u.AdminNotes != nil {
		f[FieldAdminNotes] = *u.AdminNotes
	}
	if u.IsPremium != nil {
		f[FieldIsPremium] = *u.IsPremium
	}
	if u.PremiumUntil != nil {
		f[FieldPremiumUntil] = *u.PremiumUntil
	}
	if u.UpdatedBy != nil {
		f[FieldUpdatedBy] = *u.UpdatedBy
	}
	return f
}

// ToDocument renders the profile as a store document. Timestamps stay
// time.Time so adapters can store them natively.
func (p *Profile) ToDocument() map[string]any {
	doc := map[string]any{
		FieldUID:         p.UID,
		FieldEmail:       p.Email,
		FieldDisplayName: p.DisplayName,
		FieldUserRole:    string(p.UserRole),
		FieldIsActive:    p.IsActive,
		FieldExamData:    examDocument(p.ExamData),
		FieldAdminNotes:  p.AdminNotes,
		FieldIsPremium:   p.IsPremium,
		FieldCreatedAt:   p.CreatedAt,
		FieldLastUpdated: p.LastUpdated,
		FieldUpdatedBy:   p.UpdatedBy,
	}
	if p.PremiumUntil != nil {
		doc[FieldPremiumUntil] = *p.PremiumUntil
	}
	return doc
}

func examDocument(exams map[string]ExamRecord) map[string]any {
	out := make(map[string]any, len(exams))
	for subject, r := range exams {
		out[subject] = map[string]any{
			"rank":      r.Rank,
			"verified":  r.Verified,
			"createdAt": r.CreatedAt,
			"updatedAt": r.UpdatedAt,
		}
	}
	return out
}

// ProfileFromDocument decodes a store document. Timestamps may arrive as
// time.Time (native stores) or RFC 3339 strings (JSON stores).
func ProfileFromDocument(doc map[string]any) (*Profile, error) {
	b, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	p := &Profile{}
	if err := json.Unmarshal(b, p); err != nil {
		return nil, fmt.Errorf("decode profile: %w", err)
	}
	if p.ExamData == nil {
		p.ExamData = map[string]ExamRecord{}
	}
	return p, nil
}
