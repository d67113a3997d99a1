package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/vertiqo/entitle/pkg/httputil"
	"github.com/vertiqo/entitle/pkg/versioning"
)

type draftRequest struct {
	Modules     []versioning.SnapshotEntry `json:"modules"`
	Features    []versioning.SnapshotEntry `json:"features"`
	EffectiveAt *time.Time                 `json:"effective_at,omitempty"`
}

func (s *Server) createDraft(w http.ResponseWriter, r *http.Request) {
	businessType := mux.Vars(r)["businessType"]

	var req draftRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	v, err := s.versions.CreateDraft(r.Context(), businessType, req.Modules, req.Features, req.EffectiveAt, actor(r))
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}
	httputil.WriteCreated(w, v)
}

func (s *Server) updateDraft(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var req draftRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	v, err := s.versions.UpdateDraft(r.Context(), id, req.Modules, req.Features, req.EffectiveAt)
	if err != nil {
		s.writeVersionError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, v)
}

func (s *Server) publishVersion(w http.ResponseWriter, r *http.Request) {
	v, err := s.versions.Publish(r.Context(), mux.Vars(r)["id"], actor(r))
	if err != nil {
		s.writeVersionError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, v)
}

func (s *Server) retireVersion(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Reason string `json:"reason"`
		Force  bool   `json:"force"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	v, err := s.versions.Retire(r.Context(), mux.Vars(r)["id"], actor(r), req.Reason, versioning.RetireOptions{Force: req.Force})
	if err != nil {
		s.writeVersionError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, v)
}

func (s *Server) getVersion(w http.ResponseWriter, r *http.Request) {
	v, err := s.versions.Store().Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeVersionError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, v)
}

func (s *Server) listVersions(w http.ResponseWriter, r *http.Request) {
	list, err := s.versions.Store().List(r.Context(), mux.Vars(r)["businessType"])
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{"versions": list})
}

func (s *Server) getLatestVersion(w http.ResponseWriter, r *http.Request) {
	var number *int
	if n, err := httputil.ParseQueryInt(r, "number", 0); err == nil && n > 0 {
		number = &n
	}

	v, err := s.versions.GetPublishedVersion(r.Context(), mux.Vars(r)["businessType"], number)
	if err != nil {
		s.writeVersionError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, v)
}

func (s *Server) getBinding(w http.ResponseWriter, r *http.Request) {
	binding, err := s.versions.Store().GetBinding(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}
	if binding == nil {
		httputil.WriteNotFoundError(w, "tenant has no version binding")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, binding)
}

func (s *Server) rebindTenant(w http.ResponseWriter, r *http.Request) {
	var req struct {
		VersionID *string `json:"version_id"` // nil rebinds to floating
		Reason    string  `json:"reason"`
		Rollback  bool    `json:"rollback"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.Reason == "" {
		httputil.WriteBadRequest(w, "reason is required")
		return
	}

	entry, err := s.versions.Rebind(r.Context(), mux.Vars(r)["id"], req.VersionID, req.Reason, actor(r), versioning.RebindOptions{Rollback: req.Rollback})
	if err != nil {
		s.writeVersionError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, entry)
}

func (s *Server) getHistory(w http.ResponseWriter, r *http.Request) {
	entries, err := s.versions.Store().ListHistory(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{"history": entries})
}

func (s *Server) writeVersionError(w http.ResponseWriter, err error) {
	var notFound *versioning.VersionNotFoundError
	if errors.As(err, &notFound) {
		httputil.WriteNotFoundError(w, err.Error())
		return
	}

	var validation *versioning.PublishValidationError
	if errors.As(err, &validation) {
		httputil.WriteValidationError(w, err.Error())
		return
	}

	var transition *versioning.InvalidTransitionError
	if errors.As(err, &transition) {
		httputil.WriteConflict(w, err.Error())
		return
	}

	var retired *versioning.RetiredTargetError
	if errors.As(err, &retired) {
		httputil.WriteConflict(w, err.Error())
		return
	}

	httputil.WriteInternalError(w, err)
}
