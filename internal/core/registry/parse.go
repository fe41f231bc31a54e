package registry

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"clawbounty.market/internal/core/domain"
)

// maxOfferingDescription caps job descriptions copied from the upstream record.
const maxOfferingDescription = 200

type rawAgent struct {
	ID               json.RawMessage      `json:"id"`
	Name             text                 `json:"name"`
	WalletAddress    text                 `json:"walletAddress"`
	Description      text                 `json:"description"`
	Category         text                 `json:"category"`
	Cluster          text                 `json:"cluster"`
	TwitterHandle    text                 `json:"twitterHandle"`
	ProfilePic       text                 `json:"profilePic"`
	TransactionCount number               `json:"transactionCount"`
	HasGraduated     flag                 `json:"hasGraduated"`
	Offerings        objects[rawOffering] `json:"offerings"`
	Jobs             objects[rawJob]      `json:"jobs"`
	Metrics          lenient[rawMetrics]  `json:"metrics"`
}

type rawOffering struct {
	Name     text   `json:"name"`
	PriceUSD number `json:"priceUsd"`
	Price    number `json:"price"`
}

type rawPriceV2 struct {
	Type text `json:"type"`
}

type rawJob struct {
	Name        text                `json:"name"`
	Price       number              `json:"price"`
	Description text                `json:"description"`
	PriceV2     lenient[rawPriceV2] `json:"priceV2"`
}

type rawMetrics struct {
	SuccessfulJobCount number `json:"successfulJobCount"`
	SuccessRate        number `json:"successRate"`
	UniqueBuyerCount   number `json:"uniqueBuyerCount"`
	LastActiveAt       text   `json:"lastActiveAt"`
	Rating             number `json:"rating"`
	IsOnline           flag   `json:"isOnline"`
}

// ParseAgent normalizes one upstream agent record. It reports false for
// records that are not JSON objects or carry no usable name. Fields of the
// wrong type are zeroed individually; they never drop the record.
func ParseAgent(data []byte) (domain.Agent, bool) {
	var raw rawAgent
	if err := json.Unmarshal(data, &raw); err != nil {
		return domain.Agent{}, false
	}
	name := string(raw.Name)
	if name == "" || name == "Unknown" {
		return domain.Agent{}, false
	}

	offerings := make([]domain.JobOffering, 0, len(raw.Offerings)+len(raw.Jobs))
	seen := make(map[string]bool, len(raw.Offerings))
	for _, o := range raw.Offerings {
		price := o.PriceUSD.ptr()
		if price == nil || *price == 0 {
			price = o.Price.ptr()
		}
		offerings = append(offerings, domain.JobOffering{
			Name:      string(o.Name),
			Price:     price,
			PriceType: "fixed",
		})
		seen[string(o.Name)] = true
	}
	for _, j := range raw.Jobs {
		if seen[string(j.Name)] {
			continue
		}
		priceType := string(j.PriceV2.Value.Type)
		if priceType == "" {
			priceType = "fixed"
		}
		offerings = append(offerings, domain.JobOffering{
			Name:        string(j.Name),
			Price:       j.Price.ptr(),
			PriceType:   priceType,
			Description: truncateRunes(string(j.Description), maxOfferingDescription),
		})
		seen[string(j.Name)] = true
	}

	m := raw.Metrics.Value
	var lastActive *string
	if m.LastActiveAt != "" {
		lastActive = domain.StringPtr(string(m.LastActiveAt))
	}

	return domain.Agent{
		ID:            rawID(raw.ID),
		Name:          name,
		WalletAddress: string(raw.WalletAddress),
		Description:   string(raw.Description),
		Category:      string(raw.Category),
		Cluster:       string(raw.Cluster),
		Twitter:       string(raw.TwitterHandle),
		ProfilePic:    string(raw.ProfilePic),
		JobOfferings:  offerings,
		Stats: domain.AgentStats{
			TotalJobs:        m.SuccessfulJobCount.value(),
			SuccessRate:      m.SuccessRate.value(),
			UniqueBuyers:     m.UniqueBuyerCount.value(),
			TransactionCount: raw.TransactionCount.value(),
			LastActive:       lastActive,
			Rating:           m.Rating.ptr(),
		},
		Status: domain.AgentStatus{
			Online:    bool(m.IsOnline),
			Graduated: bool(raw.HasGraduated),
		},
	}, true
}

func isNull(b []byte) bool {
	b = bytes.TrimSpace(b)
	return len(b) == 0 || bytes.Equal(b, []byte("null"))
}

// number is a JSON number or numeric string. Anything else leaves it unset.
type number struct {
	v   float64
	set bool
}

func (n *number) UnmarshalJSON(b []byte) error {
	*n = number{}
	if isNull(b) {
		return nil
	}
	var f float64
	if err := json.Unmarshal(b, &f); err == nil {
		*n = number{v: f, set: true}
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return nil
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	*n = number{v: f, set: true}
	return nil
}

func (n number) value() float64 { return n.v }

func (n number) ptr() *float64 {
	if !n.set {
		return nil
	}
	v := n.v
	return &v
}

// text is a JSON string; any other value decodes as empty.
type text string

func (t *text) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		s = ""
	}
	*t = text(s)
	return nil
}

// flag is a JSON bool or a "true"/"false" string.
type flag bool

func (f *flag) UnmarshalJSON(b []byte) error {
	*f = false
	var v bool
	if err := json.Unmarshal(b, &v); err == nil {
		*f = flag(v)
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		v, _ = strconv.ParseBool(strings.TrimSpace(s))
		*f = flag(v)
	}
	return nil
}

// objects decodes an array element by element, skipping elements that are
// not objects. A non-array value decodes as empty.
type objects[T any] []T

func (o *objects[T]) UnmarshalJSON(b []byte) error {
	*o = nil
	var items []json.RawMessage
	if err := json.Unmarshal(b, &items); err != nil {
		return nil
	}
	for _, item := range items {
		var v T
		if err := json.Unmarshal(item, &v); err == nil && !isNull(item) {
			*o = append(*o, v)
		}
	}
	return nil
}

// lenient decodes an object, leaving Value zero when the input is not one.
type lenient[T any] struct {
	Value T
}

func (l *lenient[T]) UnmarshalJSON(b []byte) error {
	var v T
	if err := json.Unmarshal(b, &v); err == nil {
		l.Value = v
	}
	return nil
}

// rawID accepts both numeric and string ids.
func rawID(id json.RawMessage) string {
	id = bytes.TrimSpace(id)
	if len(id) == 0 || bytes.Equal(id, []byte("null")) {
		return ""
	}
	var s string
	if err := json.Unmarshal(id, &s); err == nil {
		return s
	}
	return string(id)
}

func truncateRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}

// lowerContains is a case-insensitive substring test on already-lowered haystacks.
func lowerContains(haystack, needle string) bool {
	return strings.Contains(haystack, strings.ToLower(needle))
}
