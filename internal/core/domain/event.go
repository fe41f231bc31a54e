package domain

import "time"

// Bounty lifecycle event names, used for webhooks and the event bus.
const (
	EventBountyCreated   = "bounty.created"
	EventBountyClaimed   = "bounty.claimed"
	EventBountyUnclaimed = "bounty.unclaimed"
	EventBountyMatched   = "bounty.matched"
	EventBountyFulfilled = "bounty.fulfilled"
	EventBountyCancelled = "bounty.cancelled"
	EventBountyExpired   = "bounty.expired"
)

type BountyNotice struct {
	ID              string       `json:"id"`
	Title           string       `json:"title"`
	Budget          float64      `json:"budget_usdc"`
	Status          BountyStatus `json:"status"`
	ClaimedBy       string       `json:"claimed_by,omitempty"`
	MatchedACPAgent string       `json:"matched_acp_agent,omitempty"`
	MatchedACPJob   string       `json:"matched_acp_job,omitempty"`
	ACPJobID        string       `json:"acp_job_id,omitempty"`
}

// WebhookPayload is the JSON body POSTed to poster and claimer callback URLs.
type WebhookPayload struct {
	Event     string       `json:"event"`
	Bounty    BountyNotice `json:"bounty"`
	Timestamp time.Time    `json:"timestamp"`
}

// Event is a lifecycle change broadcast to live subscribers.
type Event struct {
	Type     string       `json:"type"`
	BountyID string       `json:"bounty_id"`
	Status   BountyStatus `json:"status"`
	At       time.Time    `json:"at"`
}

// DeadLetter records a webhook that exhausted its delivery attempts.
type DeadLetter struct {
	ID       string         `json:"id"`
	Event    string         `json:"event"`
	URL      string         `json:"url"`
	Payload  WebhookPayload `json:"payload"`
	Reason   string         `json:"reason"`
	FailedAt time.Time      `json:"failed_at"`
}
