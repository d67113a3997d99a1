package api

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/vertiqo/entitle/pkg/httputil"
	"github.com/vertiqo/entitle/pkg/tenants"
)

func (s *Server) createTenant(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name         string `json:"name"`
		BusinessType string `json:"business_type"`
		PlanCode     string `json:"plan_code"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.Name == "" {
		httputil.WriteBadRequest(w, "name is required")
		return
	}
	if req.BusinessType == "" {
		httputil.WriteBadRequest(w, "business_type is required")
		return
	}

	tenant := &tenants.Tenant{
		Name:         req.Name,
		BusinessType: req.BusinessType,
		PlanCode:     req.PlanCode,
	}
	if err := s.tenants.Create(r.Context(), tenant); err != nil {
		httputil.WriteInternalError(w, err)
		return
	}
	httputil.WriteCreated(w, tenant)
}

func (s *Server) getTenant(w http.ResponseWriter, r *http.Request) {
	tenant, err := s.tenants.Store().Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeTenantError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, tenant)
}

func (s *Server) setPlan(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PlanCode string `json:"plan_code"`
		Reason   string `json:"reason"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.PlanCode == "" {
		httputil.WriteBadRequest(w, "plan_code is required")
		return
	}

	if err := s.tenants.SetPlan(r.Context(), mux.Vars(r)["id"], req.PlanCode, actor(r), req.Reason); err != nil {
		s.writeTenantError(w, err)
		return
	}
	httputil.WriteSuccess(w, map[string]string{"plan_code": req.PlanCode})
}

func (s *Server) addAddon(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AddonCode string `json:"addon_code"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.AddonCode == "" {
		httputil.WriteBadRequest(w, "addon_code is required")
		return
	}

	if err := s.tenants.AddAddon(r.Context(), mux.Vars(r)["id"], req.AddonCode, actor(r)); err != nil {
		s.writeTenantError(w, err)
		return
	}
	httputil.WriteNoContent(w)
}

func (s *Server) removeAddon(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if err := s.tenants.RemoveAddon(r.Context(), vars["id"], vars["code"], actor(r)); err != nil {
		s.writeTenantError(w, err)
		return
	}
	httputil.WriteNoContent(w)
}

func (s *Server) assignRole(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID string `json:"user_id"`
		RoleID string `json:"role_id"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.UserID == "" || req.RoleID == "" {
		httputil.WriteBadRequest(w, "user_id and role_id are required")
		return
	}

	if err := s.tenants.AssignRole(r.Context(), mux.Vars(r)["id"], req.UserID, req.RoleID, actor(r)); err != nil {
		s.writeTenantError(w, err)
		return
	}
	httputil.WriteNoContent(w)
}

func (s *Server) removeRole(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if err := s.tenants.RemoveRole(r.Context(), vars["id"], vars["userID"], actor(r)); err != nil {
		s.writeTenantError(w, err)
		return
	}
	httputil.WriteNoContent(w)
}

func (s *Server) writeTenantError(w http.ResponseWriter, err error) {
	var notFound *tenants.NotFoundError
	if errors.As(err, &notFound) {
		httputil.WriteNotFoundError(w, err.Error())
		return
	}
	httputil.WriteInternalError(w, err)
}
