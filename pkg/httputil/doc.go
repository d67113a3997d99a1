// Package httputil provides helpers for consistent JSON request and
// response handling across the HTTP API.
//
// Response helpers set the Content-Type header and encode a body in a
// single call:
//
//	httputil.WriteJSON(w, http.StatusOK, data)
//	httputil.WriteCreated(w, resource)
//	httputil.WriteBadRequest(w, "code is required")
//
// Request helpers decode bodies and parse parameters, writing the 400
// response themselves on failure:
//
//	var req overrideRequest
//	if !httputil.ParseJSONOrError(w, r, &req) {
//		return
//	}
//	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
//
// Authentication and entitlement enforcement live in pkg/middleware.
package httputil
