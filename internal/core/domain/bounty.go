package domain

import (
	"time"
)

type BountyStatus string

const (
	BountyStatusOpen      BountyStatus = "open"
	BountyStatusClaimed   BountyStatus = "claimed"
	BountyStatusMatched   BountyStatus = "matched"
	BountyStatusFulfilled BountyStatus = "fulfilled"
	BountyStatusCancelled BountyStatus = "cancelled"
)

// Terminal reports whether no further transition is allowed out of s.
func (s BountyStatus) Terminal() bool {
	return s == BountyStatusFulfilled || s == BountyStatusCancelled
}

func (s BountyStatus) Valid() bool {
	switch s {
	case BountyStatusOpen, BountyStatusClaimed, BountyStatusMatched,
		BountyStatusFulfilled, BountyStatusCancelled:
		return true
	}
	return false
}

// bountyTransitions lists every permitted edge of the bounty state machine.
var bountyTransitions = map[BountyStatus][]BountyStatus{
	BountyStatusOpen:    {BountyStatusClaimed, BountyStatusMatched, BountyStatusCancelled},
	BountyStatusClaimed: {BountyStatusOpen, BountyStatusMatched, BountyStatusFulfilled, BountyStatusCancelled},
	BountyStatusMatched: {BountyStatusFulfilled, BountyStatusCancelled},
}

// CanTransition reports whether a bounty may move from one status to another.
func CanTransition(from, to BountyStatus) bool {
	for _, s := range bountyTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// SourcesOf returns every status from which to is reachable in one step.
func SourcesOf(to BountyStatus) []BountyStatus {
	var from []BountyStatus
	for _, s := range []BountyStatus{BountyStatusOpen, BountyStatusClaimed, BountyStatusMatched} {
		if CanTransition(s, to) {
			from = append(from, s)
		}
	}
	return from
}

type Category string

const (
	CategoryDigital  Category = "digital"
	CategoryPhysical Category = "physical"
)

func (c Category) Valid() bool {
	return c == CategoryDigital || c == CategoryPhysical
}

// BountyExpiry is how long a bounty stays open when created with an expiry.
const BountyExpiry = 30 * 24 * time.Hour

type Bounty struct {
	ID                 string       `json:"id" gorm:"primaryKey;type:varchar(36)"`
	PosterName         string       `json:"poster_name" gorm:"size:100;not null;index"`
	PosterCallbackURL  *string      `json:"poster_callback_url" gorm:"size:500"`
	PosterSecretHash   string       `json:"-" gorm:"size:64;not null"`
	Title              string       `json:"title" gorm:"size:200;not null"`
	Description        string       `json:"description" gorm:"type:text;not null"`
	Requirements       *string      `json:"requirements" gorm:"type:text"`
	Budget             float64      `json:"budget" gorm:"not null"`
	Category           Category     `json:"category" gorm:"size:20;default:digital;index:ix_bounties_status_category,priority:2"`
	Tags               *string      `json:"tags" gorm:"size:500"`
	Status             BountyStatus `json:"status" gorm:"size:20;default:open;index:ix_bounties_status_category,priority:1;index:ix_bounties_status_created_at,priority:1"`
	ClaimedBy          *string      `json:"claimed_by" gorm:"size:100"`
	ClaimerCallbackURL *string      `json:"claimer_callback_url" gorm:"size:500"`
	ClaimerSecretHash  *string      `json:"-" gorm:"size:64"`
	ClaimedAt          *time.Time   `json:"claimed_at"`
	MatchedServiceID   *string      `json:"matched_service_id" gorm:"size:36"`
	MatchedACPAgent    *string      `json:"matched_acp_agent" gorm:"column:matched_acp_agent;size:42"`
	MatchedACPJob      *string      `json:"matched_acp_job" gorm:"column:matched_acp_job;size:200"`
	MatchedAt          *time.Time   `json:"matched_at"`
	ACPJobID           *string      `json:"acp_job_id" gorm:"column:acp_job_id;size:100"`
	FulfilledAt        *time.Time   `json:"fulfilled_at"`
	ExpiresAt          *time.Time   `json:"expires_at" gorm:"index"`
	CreatedAt          time.Time    `json:"created_at" gorm:"index:ix_bounties_status_created_at,priority:2"`
	UpdatedAt          time.Time    `json:"updated_at"`
}

func (Bounty) TableName() string {
	return "bounties"
}

// Expired reports whether the bounty's expiry has been reached at now.
func (b *Bounty) Expired(now time.Time) bool {
	return b.ExpiresAt != nil && !b.ExpiresAt.After(now)
}

// ClearClaim drops every claimer field, returning the bounty to an unclaimed shape.
func (b *Bounty) ClearClaim() {
	b.ClaimedBy = nil
	b.ClaimerCallbackURL = nil
	b.ClaimerSecretHash = nil
	b.ClaimedAt = nil
}

// Notice is the subset of a bounty sent to webhook receivers.
func (b *Bounty) Notice() BountyNotice {
	return BountyNotice{
		ID:              b.ID,
		Title:           b.Title,
		Budget:          b.Budget,
		Status:          b.Status,
		ClaimedBy:       deref(b.ClaimedBy),
		MatchedACPAgent: deref(b.MatchedACPAgent),
		MatchedACPJob:   deref(b.MatchedACPJob),
		ACPJobID:        deref(b.ACPJobID),
	}
}

// BountyFilter narrows bounty listings. Zero values mean "no filter".
type BountyFilter struct {
	Status    BountyStatus
	Category  Category
	MinBudget float64
	MaxBudget float64
	Search    string
	Offset    int
	Limit     int
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// StringPtr returns nil for an empty string.
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func TimePtr(t time.Time) *time.Time {
	return &t
}
