package http

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"clawbounty.market/internal/core/domain"
	"clawbounty.market/internal/core/services"
)

type CreateBountyRequest struct {
	PosterName        string          `json:"poster_name"`
	PosterCallbackURL *string         `json:"poster_callback_url"`
	Title             string          `json:"title"`
	Description       string          `json:"description"`
	Requirements      *string         `json:"requirements"`
	Budget            float64         `json:"budget"`
	Category          domain.Category `json:"category"`
	Tags              *string         `json:"tags"`
}

type CreateBountyResponse struct {
	Bounty       *domain.Bounty            `json:"bounty"`
	PosterSecret string                    `json:"poster_secret"`
	ACPMatch     *services.ACPSearchResult `json:"acp_match"`
	Action       string                    `json:"action"`
	Message      string                    `json:"message"`
}

type ClaimRequest struct {
	ClaimerName        string  `json:"claimer_name"`
	ClaimerCallbackURL *string `json:"claimer_callback_url"`
}

type ClaimResponse struct {
	BountyID      string `json:"bounty_id"`
	ClaimedBy     string `json:"claimed_by"`
	ClaimerSecret string `json:"claimer_secret"`
	Message       string `json:"message"`
}

type MatchRequest struct {
	PosterSecret   string  `json:"poster_secret"`
	ServiceID      *string `json:"service_id"`
	ACPAgentWallet string  `json:"acp_agent_wallet"`
	ACPJobOffering string  `json:"acp_job_offering"`
}

type FulfillRequest struct {
	ACPJobID     string `json:"acp_job_id"`
	PosterSecret string `json:"poster_secret"`
}

type secretRequest struct {
	PosterSecret  string `json:"poster_secret"`
	ClaimerSecret string `json:"claimer_secret"`
	AgentSecret   string `json:"agent_secret"`
}

type OpenBounty struct {
	ID           string          `json:"id"`
	Title        string          `json:"title"`
	Description  string          `json:"description"`
	Requirements *string         `json:"requirements"`
	Budget       float64         `json:"budget_usdc"`
	Category     domain.Category `json:"category"`
	Tags         *string         `json:"tags"`
	PosterName   string          `json:"poster_name"`
	ExpiresAt    *time.Time      `json:"expires_at"`
	CreatedAt    time.Time       `json:"created_at"`
}

func (s *Server) handleCreateBounty(w http.ResponseWriter, r *http.Request) {
	var req CreateBountyRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	b, secret, err := s.bounties.Create(r.Context(), services.CreateBountyInput{
		PosterName:        req.PosterName,
		PosterCallbackURL: req.PosterCallbackURL,
		Title:             req.Title,
		Description:       req.Description,
		Requirements:      req.Requirements,
		Budget:            req.Budget,
		Category:          req.Category,
		Tags:              req.Tags,
		SetExpiry:         true,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	resp := CreateBountyResponse{
		Bounty:       b,
		PosterSecret: secret,
		Action:       "posted",
		Message:      "Bounty posted! SAVE YOUR poster_secret. You need it to modify or cancel this bounty.",
	}
	if s.registry != nil {
		match := s.registry.CheckACP(r.Context(), strings.TrimSpace(b.Title+" "+deref(b.Tags)))
		resp.ACPMatch = &match
		if match.Found {
			resp.Message += fmt.Sprintf(" Also found %d matching ACP agent(s) you may want to match with.", len(match.Agents))
		}
	}
	writeJSON(w, http.StatusCreated, resp)
}

func bountyFilterFrom(r *http.Request) (domain.BountyFilter, error) {
	q := r.URL.Query()
	f := domain.BountyFilter{
		Status:   domain.BountyStatus(q.Get("status")),
		Category: domain.Category(q.Get("category")),
		Search:   q.Get("search"),
	}
	var err error
	if f.MinBudget, err = queryFloat(r, "min_budget"); err != nil {
		return f, err
	}
	if f.MaxBudget, err = queryFloat(r, "max_budget"); err != nil {
		return f, err
	}
	if f.Offset, err = queryInt(r, "offset", 0); err != nil {
		return f, err
	}
	if f.Limit, err = queryInt(r, "limit", services.DefaultPageLimit); err != nil {
		return f, err
	}
	if f.Limit > services.MaxPageLimit {
		return f, fmt.Errorf("%w: limit must be at most %d", domain.ErrInvalidInput, services.MaxPageLimit)
	}
	return f, nil
}

func (s *Server) handleListBounties(w http.ResponseWriter, r *http.Request) {
	f, err := bountyFilterFrom(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	res, err := s.bounties.List(r.Context(), f)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"data":     res.Bounties,
		"meta":     PaginationMeta{Total: res.Total, Page: pageOf(res.Offset, res.Limit), PerPage: res.Limit},
		"bounties": res.Bounties,
		"total":    res.Total,
	})
}

func (s *Server) handleOpenBounties(w http.ResponseWriter, r *http.Request) {
	f, err := bountyFilterFrom(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	f.Status = domain.BountyStatusOpen
	f.Search, f.Offset = "", 0
	res, err := s.bounties.List(r.Context(), f)
	if err != nil {
		writeError(w, r, err)
		return
	}
	open := make([]OpenBounty, 0, len(res.Bounties))
	for _, b := range res.Bounties {
		open = append(open, OpenBounty{
			ID:           b.ID,
			Title:        b.Title,
			Description:  b.Description,
			Requirements: b.Requirements,
			Budget:       b.Budget,
			Category:     b.Category,
			Tags:         b.Tags,
			PosterName:   b.PosterName,
			ExpiresAt:    b.ExpiresAt,
			CreatedAt:    b.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"open_bounties": open, "count": len(open)})
}

// bountyETag changes whenever the bounty's status or update time does.
func bountyETag(b *domain.Bounty) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s-%s-%s", b.ID, b.Status, b.UpdatedAt.UTC().Format(time.RFC3339Nano))))
	return hex.EncodeToString(sum[:])
}

func (s *Server) handleGetBounty(w http.ResponseWriter, r *http.Request) {
	b, err := s.bounties.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err, domain.CodeBountyNotFound)
		return
	}
	etag := bountyETag(b)
	w.Header().Set("ETag", `"`+etag+`"`)
	if strings.Trim(r.Header.Get("If-None-Match"), `"`) == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (s *Server) handleClaimBounty(w http.ResponseWriter, r *http.Request) {
	var req ClaimRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	b, secret, err := s.bounties.Claim(r.Context(), chi.URLParam(r, "id"), services.ClaimInput{
		ClaimerName:        req.ClaimerName,
		ClaimerCallbackURL: req.ClaimerCallbackURL,
	})
	if err != nil {
		writeError(w, r, err, domain.CodeBountyNotFound)
		return
	}
	writeJSON(w, http.StatusOK, ClaimResponse{
		BountyID:      b.ID,
		ClaimedBy:     deref(b.ClaimedBy),
		ClaimerSecret: secret,
		Message:       "Bounty claimed! SAVE YOUR claimer_secret. You need it to unclaim.",
	})
}

func (s *Server) handleUnclaimBounty(w http.ResponseWriter, r *http.Request) {
	var req secretRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	b, err := s.bounties.Unclaim(r.Context(), chi.URLParam(r, "id"), req.ClaimerSecret)
	s.writeBounty(w, r, b, err)
}

func (s *Server) handleMatchBounty(w http.ResponseWriter, r *http.Request) {
	var req MatchRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	b, err := s.bounties.Match(r.Context(), chi.URLParam(r, "id"), services.MatchInput{
		PosterSecret:   req.PosterSecret,
		ServiceID:      req.ServiceID,
		ACPAgentWallet: req.ACPAgentWallet,
		ACPJobOffering: req.ACPJobOffering,
	})
	s.writeBounty(w, r, b, err)
}

func (s *Server) handleFulfillBounty(w http.ResponseWriter, r *http.Request) {
	var req FulfillRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if err := domain.CheckLength("acp_job_id", req.ACPJobID, 1, domain.MaxJobIDLength); err != nil {
		writeError(w, r, err)
		return
	}
	b, err := s.bounties.Fulfill(r.Context(), chi.URLParam(r, "id"), req.PosterSecret, req.ACPJobID)
	s.writeBounty(w, r, b, err)
}

func (s *Server) handleCancelBounty(w http.ResponseWriter, r *http.Request) {
	var req secretRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	b, err := s.bounties.Cancel(r.Context(), chi.URLParam(r, "id"), req.PosterSecret)
	s.writeBounty(w, r, b, err)
}

func (s *Server) writeBounty(w http.ResponseWriter, r *http.Request, b *domain.Bounty, err error) {
	if err != nil {
		writeError(w, r, err, domain.CodeBountyNotFound)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (s *Server) handleCheckACP(w http.ResponseWriter, r *http.Request) {
	query := strings.TrimSpace(r.URL.Query().Get("query"))
	if query == "" {
		writeError(w, r, fmt.Errorf("%w: query is required", domain.ErrInvalidInput))
		return
	}
	if s.registry == nil {
		writeError(w, r, fmt.Errorf("%w: registry disabled", domain.ErrUpstreamUnavailable))
		return
	}
	writeJSON(w, http.StatusOK, s.registry.CheckACP(r.Context(), query))
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
