package model

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// Project is a read-only project record. At most one is selected at a time.
type Project struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// NoteState tags whether a field note is live or has been archived.
// Archived notes stay in storage but never collide and never render.
type NoteState string

const (
	NoteActive   NoteState = "active"
	NoteArchived NoteState = "archived"
)

// IsDeleted maps the state onto the is_deleted storage column.
func (s NoteState) IsDeleted() bool {
	return s == NoteArchived
}

// NoteStateFromDeleted is the inverse of IsDeleted.
func NoteStateFromDeleted(deleted bool) NoteState {
	if deleted {
		return NoteArchived
	}
	return NoteActive
}

// AssetType classifies the infrastructure a note is about.
type AssetType string

const (
	AssetHandHole  AssetType = "Hand Hole"
	AssetVault     AssetType = "Vault"
	AssetPedestal  AssetType = "Pedestal"
	AssetFlowerPot AssetType = "Flower Pot"
	AssetMST       AssetType = "MST"
)

// AssetTypes lists the closed set of selectable asset types in display order.
var AssetTypes = []AssetType{AssetHandHole, AssetVault, AssetPedestal, AssetFlowerPot, AssetMST}

// ErrUnknownAssetType is returned by ParseAssetType for values outside AssetTypes.
var ErrUnknownAssetType = eris.New("model: unknown asset type")

// ParseAssetType resolves s against the closed set. An empty (or blank)
// string means "unclassified" and returns nil without error.
func ParseAssetType(s string) (*AssetType, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	for _, a := range AssetTypes {
		if string(a) == s {
			at := a
			return &at, nil
		}
	}
	return nil, eris.Wrapf(ErrUnknownAssetType, "model: %q", s)
}

// FieldNote is a persisted, geolocated note attached to a project.
type FieldNote struct {
	ID            string     `json:"id"`
	ProjectID     string     `json:"project_id"`
	ProjectName   string     `json:"project_name"`
	CreatedBy     string     `json:"created_by"`
	CreatedByName string     `json:"created_by_name"`
	Latitude      float64    `json:"latitude"`
	Longitude     float64    `json:"longitude"`
	Notes         string     `json:"notes"`
	Photos        []string   `json:"photos"`
	AssetType     *AssetType `json:"asset_type,omitempty"`
	State         NoteState  `json:"state"`
	CreatedAt     time.Time  `json:"created_at"`
}

// Coordinate returns the note's position.
func (n FieldNote) Coordinate() Coordinate {
	return Coordinate{Latitude: n.Latitude, Longitude: n.Longitude}
}

// Active reports whether the note has not been archived.
func (n FieldNote) Active() bool {
	return n.State != NoteArchived
}

// NotePayload is the finalized output of the capture form.
// AssetType is nil, never empty, when the operator chose none.
type NotePayload struct {
	Notes     string     `json:"notes"`
	Photos    []string   `json:"photos"`
	AssetType *AssetType `json:"asset_type"`
}

// NotePatch lists the mutable columns of a field note. Nil fields are left
// untouched.
type NotePatch struct {
	State *NoteState
}

// Operator is the authenticated technician as reported by the auth proxy.
type Operator struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name,omitempty"`
	Email       string `json:"email,omitempty"`
}

// Name returns the denormalized author name stored on notes.
func (o Operator) Name() string {
	switch {
	case o.DisplayName != "":
		return o.DisplayName
	case o.Email != "":
		return o.Email
	default:
		return "Unknown"
	}
}
