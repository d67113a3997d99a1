package api

import (
	"net/http"
	"time"

	"github.com/vertiqo/entitle/pkg/audit"
	"github.com/vertiqo/entitle/pkg/httputil"
)

func (s *Server) searchAuditEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	filter := audit.SearchFilter{
		Actor:        q.Get("actor"),
		TenantID:     q.Get("tenant_id"),
		ResourceType: audit.ResourceType(q.Get("resource_type")),
		ResourceID:   q.Get("resource_id"),
	}

	if raw := q.Get("start"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			httputil.WriteBadRequest(w, "start must be RFC3339")
			return
		}
		filter.StartTime = &t
	}
	if raw := q.Get("end"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			httputil.WriteBadRequest(w, "end must be RFC3339")
			return
		}
		filter.EndTime = &t
	}
	if raw := q.Get("event_type"); raw != "" {
		filter.EventTypes = []audit.EventType{audit.EventType(raw)}
	}
	if limit, err := httputil.ParseQueryInt(r, "limit", 0); err == nil && limit > 0 {
		filter.Limit = limit
	}

	events, err := s.auditSearch.Search(r.Context(), filter)
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}

	switch format := httputil.ParseQueryString(r, "format", "json"); format {
	case "json":
		httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{"events": events})
	case "csv", "ndjson":
		if format == "csv" {
			w.Header().Set("Content-Type", "text/csv")
		} else {
			w.Header().Set("Content-Type", "application/x-ndjson")
		}
		if err := audit.Export(w, events, audit.ExportFormat(format)); err != nil {
			s.log.WithError(err).Error("Audit export failed")
		}
	default:
		httputil.WriteBadRequest(w, "format must be json, csv or ndjson")
	}
}
