package http

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"clawbounty.market/internal/core/domain"
	"clawbounty.market/internal/core/services"
)

type CreateServiceRequest struct {
	AgentName         string          `json:"agent_name"`
	Name              string          `json:"name"`
	Description       string          `json:"description"`
	Price             float64         `json:"price"`
	Category          domain.Category `json:"category"`
	Location          *string         `json:"location"`
	ShippingAvailable bool            `json:"shipping_available"`
	Tags              *string         `json:"tags"`
	ACPAgentWallet    *string         `json:"acp_agent_wallet"`
	ACPJobOffering    *string         `json:"acp_job_offering"`
}

type CreateServiceResponse struct {
	Service     *domain.Service `json:"service"`
	AgentSecret string          `json:"agent_secret"`
}

// UpdateServiceRequest only changes the fields that are present.
type UpdateServiceRequest struct {
	AgentSecret       string           `json:"agent_secret"`
	Name              *string          `json:"name"`
	Description       *string          `json:"description"`
	Price             *float64         `json:"price"`
	Category          *domain.Category `json:"category"`
	Location          *string          `json:"location"`
	ShippingAvailable *bool            `json:"shipping_available"`
	Tags              *string          `json:"tags"`
	ACPAgentWallet    *string          `json:"acp_agent_wallet"`
	ACPJobOffering    *string          `json:"acp_job_offering"`
}

func (s *Server) handleCreateService(w http.ResponseWriter, r *http.Request) {
	var req CreateServiceRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	svc, secret, err := s.listings.Create(r.Context(), services.CreateServiceInput{
		AgentName:         req.AgentName,
		Name:              req.Name,
		Description:       req.Description,
		Price:             req.Price,
		Category:          req.Category,
		Location:          req.Location,
		ShippingAvailable: req.ShippingAvailable,
		Tags:              req.Tags,
		ACPAgentWallet:    req.ACPAgentWallet,
		ACPJobOffering:    req.ACPJobOffering,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, CreateServiceResponse{Service: svc, AgentSecret: secret})
}

func (s *Server) handleListServices(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := domain.ServiceFilter{
		Category: domain.Category(q.Get("category")),
		Search:   q.Get("search"),
		Location: q.Get("location"),
	}
	var err error
	if f.MinPrice, err = queryFloat(r, "min_price"); err == nil {
		f.MaxPrice, err = queryFloat(r, "max_price")
	}
	if err == nil {
		f.ShippingAvailable, err = queryBool(r, "shipping_available")
	}
	var acpOnly *bool
	if err == nil {
		acpOnly, err = queryBool(r, "acp_only")
	}
	if err == nil {
		f.Offset, err = queryInt(r, "offset", 0)
	}
	if err == nil {
		f.Limit, err = queryInt(r, "limit", services.DefaultPageLimit)
	}
	if err == nil && f.Limit > services.MaxPageLimit {
		err = fmt.Errorf("%w: limit must be at most %d", domain.ErrInvalidInput, services.MaxPageLimit)
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	f.ACPOnly = acpOnly != nil && *acpOnly

	res, err := s.listings.List(r.Context(), f)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"data":     res.Services,
		"meta":     PaginationMeta{Total: res.Total, Page: pageOf(res.Offset, res.Limit), PerPage: res.Limit},
		"services": res.Services,
		"total":    res.Total,
	})
}

func (s *Server) handleGetService(w http.ResponseWriter, r *http.Request) {
	svc, err := s.listings.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err, domain.CodeServiceNotFound)
		return
	}
	writeJSON(w, http.StatusOK, svc)
}

func (s *Server) handleUpdateService(w http.ResponseWriter, r *http.Request) {
	var req UpdateServiceRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	svc, err := s.listings.Update(r.Context(), chi.URLParam(r, "id"), req.AgentSecret, domain.ServicePatch{
		Name:              req.Name,
		Description:       req.Description,
		Price:             req.Price,
		Category:          req.Category,
		Location:          req.Location,
		ShippingAvailable: req.ShippingAvailable,
		Tags:              req.Tags,
		ACPAgentWallet:    req.ACPAgentWallet,
		ACPJobOffering:    req.ACPJobOffering,
	})
	if err != nil {
		writeError(w, r, err, domain.CodeServiceNotFound)
		return
	}
	writeJSON(w, http.StatusOK, svc)
}

func (s *Server) handleDeleteService(w http.ResponseWriter, r *http.Request) {
	var req secretRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.listings.Deactivate(r.Context(), chi.URLParam(r, "id"), req.AgentSecret); err != nil {
		writeError(w, r, err, domain.CodeServiceNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Service deactivated"})
}
