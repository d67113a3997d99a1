package api

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/vertiqo/entitle/pkg/entitlement"
	"github.com/vertiqo/entitle/pkg/httputil"
)

func (s *Server) getEntitlements(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	tenantID := vars["tenantID"]
	userID := vars["userID"]

	view, err := s.builder.Build(r.Context(), tenantID, userID)
	if err != nil {
		var incomplete *entitlement.IncompleteEntitlementError
		if errors.As(err, &incomplete) {
			// Fail closed but report why: the zero view ships with the
			// diagnosis so support can see what record is missing
			httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
				"view":       view,
				"incomplete": incomplete.Missing,
			})
			return
		}
		s.log.WithError(err).WithField("tenant_id", tenantID).Error("Entitlement build failed")
		httputil.WriteInternalError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{"view": view})
}

// checkEntitlement answers a single yes/no gate question:
// ?permission=CODE, ?feature=CODE or ?module=CODE
func (s *Server) checkEntitlement(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	view, err := s.builder.Build(r.Context(), vars["tenantID"], vars["userID"])
	if err != nil {
		var incomplete *entitlement.IncompleteEntitlementError
		if !errors.As(err, &incomplete) {
			httputil.WriteInternalError(w, err)
			return
		}
	}

	q := r.URL.Query()
	var allowed bool
	switch {
	case q.Get("permission") != "":
		allowed = view.HasPermission(q.Get("permission"))
	case q.Get("feature") != "":
		allowed = view.FeatureEnabled(q.Get("feature"))
	case q.Get("module") != "":
		allowed = view.ModuleEnabled(q.Get("module"))
	default:
		httputil.WriteBadRequest(w, "one of permission, feature or module is required")
		return
	}

	httputil.WriteJSON(w, http.StatusOK, map[string]bool{"allowed": allowed})
}
