package services

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"clawbounty.market/internal/core/domain"
)

func TestOverlapMatcher(t *testing.T) {
	m := NewOverlapMatcher()
	tests := []struct {
		name string
		svc  domain.Service
		b    domain.Bounty
		want bool
	}{
		{
			name: "shared tag",
			svc:  domain.Service{Name: "x", Tags: strPtr("logo,branding")},
			b:    domain.Bounty{Title: "y", Tags: strPtr(" Logo , design")},
			want: true,
		},
		{
			name: "two shared words",
			svc:  domain.Service{Name: "Solidity audit", Description: "smart contract review"},
			b:    domain.Bounty{Title: "Audit my contract", Description: "please"},
			want: true,
		},
		{
			name: "one shared word",
			svc:  domain.Service{Name: "Solidity audit", Description: "fast"},
			b:    domain.Bounty{Title: "Audit", Description: "please"},
			want: false,
		},
		{
			name: "only the first description words count",
			svc:  domain.Service{Name: "a", Description: "w1 w2 w3 w4 w5 w6 w7 w8 w9 w10 w11 w12 w13 w14 w15 w16 w17 w18 w19 w20 late words"},
			b:    domain.Bounty{Title: "late words", Description: "z"},
			want: false,
		},
		{
			name: "empty tags never match",
			svc:  domain.Service{Name: "a", Tags: strPtr(" , ")},
			b:    domain.Bounty{Title: "b", Tags: strPtr(",")},
			want: false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, m.Matches(&tt.svc, &tt.b))
		})
	}
}
