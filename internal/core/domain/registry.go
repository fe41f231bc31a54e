package domain

import (
	"strings"
	"time"
)

// JobOffering is one priced job an external agent advertises.
type JobOffering struct {
	Name        string   `json:"name"`
	Price       *float64 `json:"price"`
	PriceType   string   `json:"price_type"`
	Description string   `json:"description"`
}

type AgentStats struct {
	TotalJobs        float64  `json:"total_jobs"`
	SuccessRate      float64  `json:"success_rate"`
	UniqueBuyers     float64  `json:"unique_buyers"`
	TransactionCount float64  `json:"transaction_count"`
	LastActive       *string  `json:"last_active"`
	Rating           *float64 `json:"rating"`
}

type AgentStatus struct {
	Online    bool `json:"online"`
	Graduated bool `json:"graduated"`
}

// Agent is a normalized entry of the external ACP registry.
type Agent struct {
	ID            string        `json:"id"`
	Name          string        `json:"name"`
	WalletAddress string        `json:"wallet_address"`
	Description   string        `json:"description"`
	Category      string        `json:"category"`
	Cluster       string        `json:"cluster"`
	Twitter       string        `json:"twitter"`
	ProfilePic    string        `json:"profile_pic"`
	JobOfferings  []JobOffering `json:"job_offerings"`
	Stats         AgentStats    `json:"stats"`
	Status        AgentStatus   `json:"status"`
}

// SearchText is the lowercase text searched and categorized for an agent:
// name, description and every offering's name and description.
func (a *Agent) SearchText() string {
	var b strings.Builder
	b.WriteString(a.Name)
	b.WriteByte(' ')
	b.WriteString(a.Description)
	for _, o := range a.JobOfferings {
		b.WriteByte(' ')
		b.WriteString(o.Name)
		b.WriteByte(' ')
		b.WriteString(o.Description)
	}
	return strings.ToLower(b.String())
}

// Snapshot is one generation of the registry cache. A snapshot is never
// mutated after it has been published; refreshes replace it whole.
type Snapshot struct {
	Agents      []Agent    `json:"agents"`
	LastUpdated *time.Time `json:"last_updated"`
	Error       []string   `json:"error"`
	TotalCount  int        `json:"total_count"`
}

func (s *Snapshot) Empty() bool {
	return s == nil || len(s.Agents) == 0
}

// Age returns how long ago the snapshot was fetched, false when never.
func (s *Snapshot) Age(now time.Time) (time.Duration, bool) {
	if s == nil || s.LastUpdated == nil {
		return 0, false
	}
	return now.Sub(*s.LastUpdated), true
}
