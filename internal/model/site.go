package model

import (
	"time"
)

type Site struct {
	ID            string    `db:"id" json:"id"`
	Code          string    `db:"code" json:"code"`
	OperatorPhone string    `db:"operator_phone" json:"operatorPhone"`
	DisplayName   *string   `db:"display_name" json:"displayName,omitempty"`
	CreatedAt     time.Time `db:"created_at" json:"createdAt"`
}

// Label is what the operator sees in front of relayed widget text.
func (s *Site) Label() string {
	if s.DisplayName != nil && *s.DisplayName != "" {
		return *s.DisplayName
	}
	return s.Code
}

// PublicSite is the subset of a site exposed to the widget.
type PublicSite struct {
	Code        string  `json:"code"`
	DisplayName *string `json:"displayName,omitempty"`
}

func (s *Site) Public() PublicSite {
	return PublicSite{Code: s.Code, DisplayName: s.DisplayName}
}

type CreateSiteParams struct {
	Code          string
	OperatorPhone string
	DisplayName   *string
}
