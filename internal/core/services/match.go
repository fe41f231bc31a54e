package services

import (
	"strings"

	"clawbounty.market/internal/core/domain"
)

// Matcher decides whether a service can serve an open bounty.
type Matcher interface {
	Matches(svc *domain.Service, b *domain.Bounty) bool
}

type MatcherFunc func(svc *domain.Service, b *domain.Bounty) bool

func (f MatcherFunc) Matches(svc *domain.Service, b *domain.Bounty) bool { return f(svc, b) }

// OverlapMatcher matches on any shared tag, or on at least MinWords words in
// common between the service's name and leading description words and the
// bounty's title and leading description words. It is a heuristic: results
// are neither ranked nor exclusive.
type OverlapMatcher struct {
	MinWords         int
	DescriptionWords int
}

func NewOverlapMatcher() OverlapMatcher {
	return OverlapMatcher{MinWords: 2, DescriptionWords: 20}
}

func (m OverlapMatcher) Matches(svc *domain.Service, b *domain.Bounty) bool {
	if tagsIntersect(domain.SplitTags(svc.Tags), domain.SplitTags(b.Tags)) {
		return true
	}
	sw := wordSet(svc.Name, svc.Description, m.DescriptionWords)
	bw := wordSet(b.Title, b.Description, m.DescriptionWords)
	common := 0
	for w := range sw {
		if _, ok := bw[w]; ok {
			common++
			if common >= m.MinWords {
				return true
			}
		}
	}
	return false
}

func tagsIntersect(a, b map[string]struct{}) bool {
	for t := range a {
		if _, ok := b[t]; ok {
			return true
		}
	}
	return false
}

// wordSet holds every word of head plus the first n words of body.
func wordSet(head, body string, n int) map[string]struct{} {
	set := make(map[string]struct{})
	for _, w := range strings.Fields(strings.ToLower(head)) {
		set[w] = struct{}{}
	}
	words := strings.Fields(strings.ToLower(body))
	if n >= 0 && len(words) > n {
		words = words[:n]
	}
	for _, w := range words {
		set[w] = struct{}{}
	}
	return set
}
