package registry

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAgentFull(t *testing.T) {
	raw := `{
		"id": 42,
		"name": "PrintBot",
		"walletAddress": "0xAbC",
		"description": "Prints things",
		"category": "IP",
		"cluster": "hedge",
		"twitterHandle": "@printbot",
		"profilePic": "https://img.example/p.png",
		"transactionCount": 17,
		"hasGraduated": true,
		"offerings": [
			{"name": "quote", "priceUsd": 2.5, "price": 9},
			{"name": "free", "priceUsd": 0, "price": 1}
		],
		"jobs": [
			{"name": "quote", "price": 100, "description": "dup"},
			{"name": "print", "price": 12, "priceV2": {"type": "percentage"}, "description": "` + strings.Repeat("é", 250) + `"},
			{"name": "ship", "price": 3}
		],
		"metrics": {
			"successfulJobCount": 8,
			"successRate": 0.9,
			"uniqueBuyerCount": 3,
			"lastActiveAt": "2026-01-01T00:00:00Z",
			"rating": 4.5,
			"isOnline": true
		}
	}`

	a, ok := ParseAgent([]byte(raw))
	require.True(t, ok)

	assert.Equal(t, "42", a.ID)
	assert.Equal(t, "PrintBot", a.Name)
	assert.Equal(t, "0xAbC", a.WalletAddress)
	assert.Equal(t, "@printbot", a.Twitter)
	assert.Equal(t, float64(17), a.Stats.TransactionCount)
	assert.Equal(t, float64(8), a.Stats.TotalJobs)
	assert.Equal(t, 0.9, a.Stats.SuccessRate)
	require.NotNil(t, a.Stats.Rating)
	assert.Equal(t, 4.5, *a.Stats.Rating)
	assert.True(t, a.Status.Online)
	assert.True(t, a.Status.Graduated)

	require.Len(t, a.JobOfferings, 4)
	assert.Equal(t, "quote", a.JobOfferings[0].Name)
	assert.Equal(t, 2.5, *a.JobOfferings[0].Price)
	assert.Equal(t, "fixed", a.JobOfferings[0].PriceType)
	assert.Empty(t, a.JobOfferings[0].Description)

	assert.Equal(t, float64(1), *a.JobOfferings[1].Price, "zero priceUsd falls back to price")

	assert.Equal(t, "print", a.JobOfferings[2].Name)
	assert.Equal(t, "percentage", a.JobOfferings[2].PriceType)
	assert.Equal(t, 200, len([]rune(a.JobOfferings[2].Description)))

	assert.Equal(t, "ship", a.JobOfferings[3].Name)
	assert.Equal(t, "fixed", a.JobOfferings[3].PriceType)
}

func TestParseAgentDropsUnusable(t *testing.T) {
	for _, raw := range []string{
		`{}`,
		`{"name": ""}`,
		`{"name": "Unknown"}`,
		`{"name": null}`,
		`{"name": 12}`,
		`not json`,
		`["TraderBot"]`,
		`"TraderBot"`,
	} {
		_, ok := ParseAgent([]byte(raw))
		assert.False(t, ok, raw)
	}
}

func TestParseAgentToleratesMixedTypes(t *testing.T) {
	a, ok := ParseAgent([]byte(`{"name": "TraderBot", "jobs": [{"name": "trade", "price": "5.00"}]}`))
	require.True(t, ok)
	require.Len(t, a.JobOfferings, 1)
	require.NotNil(t, a.JobOfferings[0].Price)
	assert.Equal(t, 5.0, *a.JobOfferings[0].Price)

	a, ok = ParseAgent([]byte(`{"name": "TraderBot", "metrics": {"successRate": "97.5", "isOnline": "true"}}`))
	require.True(t, ok)
	assert.Equal(t, 97.5, a.Stats.SuccessRate)
	assert.True(t, a.Status.Online)
}

func TestParseAgentZeroesBadFields(t *testing.T) {
	raw := `{
		"name": "TraderBot",
		"walletAddress": 77,
		"transactionCount": "lots",
		"hasGraduated": {},
		"offerings": "nope",
		"jobs": [
			"trade",
			{"name": "quote", "price": [1], "priceV2": "fixed", "description": 5},
			null
		],
		"metrics": {"successRate": "NaN", "rating": "high", "uniqueBuyerCount": 4, "lastActiveAt": 3}
	}`

	a, ok := ParseAgent([]byte(raw))
	require.True(t, ok)
	assert.Equal(t, "TraderBot", a.Name)
	assert.Empty(t, a.WalletAddress)
	assert.Zero(t, a.Stats.TransactionCount)
	assert.False(t, a.Status.Graduated)

	require.Len(t, a.JobOfferings, 1)
	assert.Equal(t, "quote", a.JobOfferings[0].Name)
	assert.Nil(t, a.JobOfferings[0].Price)
	assert.Equal(t, "fixed", a.JobOfferings[0].PriceType)
	assert.Empty(t, a.JobOfferings[0].Description)

	assert.Zero(t, a.Stats.SuccessRate)
	assert.Nil(t, a.Stats.Rating)
	assert.Nil(t, a.Stats.LastActive)
	assert.Equal(t, float64(4), a.Stats.UniqueBuyers)
}

func TestParseAgentStringID(t *testing.T) {
	a, ok := ParseAgent([]byte(`{"id": "abc", "name": "A", "metrics": null}`))
	require.True(t, ok)
	assert.Equal(t, "abc", a.ID)
	assert.Empty(t, a.JobOfferings)
	assert.Nil(t, a.Stats.Rating)
}

func TestTruncateRunes(t *testing.T) {
	assert.Equal(t, "abc", truncateRunes("abc", 5))
	assert.Equal(t, "ab", truncateRunes("abc", 2))
	assert.Equal(t, "ñö", truncateRunes("ñöü", 2))
	assert.Equal(t, "", truncateRunes("abc", 0))
}
