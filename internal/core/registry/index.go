package registry

import (
	"regexp"
	"slices"
	"strings"
	"sync"

	"clawbounty.market/internal/core/domain"
	"clawbounty.market/internal/core/logger"
)

var tokenPattern = regexp.MustCompile(`[a-z0-9]+`)

func tokenize(text string) []string {
	return tokenPattern.FindAllString(strings.ToLower(text), -1)
}

// Index is an inverted token index over one snapshot. It is only consulted
// for the exact snapshot it was built from; any other snapshot is searched
// linearly.
type Index struct {
	mu     sync.RWMutex
	source *domain.Snapshot
	tokens map[string][]int
}

func NewIndex() *Index {
	return &Index{}
}

// Rebuild indexes snap, replacing whatever was indexed before.
func (ix *Index) Rebuild(snap *domain.Snapshot) {
	tokens := make(map[string][]int)
	if snap != nil {
		for i := range snap.Agents {
			seen := make(map[string]bool)
			for _, tok := range tokenize(snap.Agents[i].SearchText()) {
				if seen[tok] {
					continue
				}
				seen[tok] = true
				tokens[tok] = append(tokens[tok], i)
			}
		}
	}

	ix.mu.Lock()
	ix.source = snap
	ix.tokens = tokens
	ix.mu.Unlock()

	agents := 0
	if snap != nil {
		agents = len(snap.Agents)
	}
	logger.Info("Rebuilt registry search index", "tokens", len(tokens), "agents", agents)
}

// BuiltFrom reports whether the index was built from exactly snap.
func (ix *Index) BuiltFrom(snap *domain.Snapshot) bool {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return snap != nil && ix.source == snap && len(ix.tokens) > 0
}

// Search returns agents of snap matching query. Through the index every
// query token must be a substring of some token of the agent; without it the
// whole lowercased query must appear in the agent's text.
func (ix *Index) Search(snap *domain.Snapshot, query string) []domain.Agent {
	if snap == nil {
		return nil
	}

	ix.mu.RLock()
	if ix.source == snap && len(ix.tokens) > 0 {
		defer ix.mu.RUnlock()
		return ix.searchIndexed(snap, query)
	}
	ix.mu.RUnlock()

	return linearSearch(snap, query)
}

// searchIndexed must be called with mu held for reading.
func (ix *Index) searchIndexed(snap *domain.Snapshot, query string) []domain.Agent {
	terms := tokenize(query)
	if len(terms) == 0 {
		return []domain.Agent{}
	}

	var result map[int]bool
	for _, term := range terms {
		matching := make(map[int]bool)
		for tok, positions := range ix.tokens {
			if strings.Contains(tok, term) {
				for _, p := range positions {
					matching[p] = true
				}
			}
		}
		if result == nil {
			result = matching
		} else {
			for p := range result {
				if !matching[p] {
					delete(result, p)
				}
			}
		}
		if len(result) == 0 {
			return []domain.Agent{}
		}
	}

	positions := make([]int, 0, len(result))
	for p := range result {
		positions = append(positions, p)
	}
	slices.Sort(positions)

	out := make([]domain.Agent, 0, len(positions))
	for _, p := range positions {
		out = append(out, snap.Agents[p])
	}
	return out
}

func linearSearch(snap *domain.Snapshot, query string) []domain.Agent {
	out := []domain.Agent{}
	for i := range snap.Agents {
		if lowerContains(snap.Agents[i].SearchText(), query) {
			out = append(out, snap.Agents[i])
		}
	}
	return out
}

// AgentByWallet finds an agent by wallet address, ignoring case.
func AgentByWallet(snap *domain.Snapshot, wallet string) (*domain.Agent, bool) {
	if snap == nil || wallet == "" {
		return nil, false
	}
	for i := range snap.Agents {
		if strings.EqualFold(snap.Agents[i].WalletAddress, wallet) {
			a := snap.Agents[i]
			return &a, true
		}
	}
	return nil, false
}
