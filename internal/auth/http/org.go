package http

import (
	"net/http"

	"github.com/ValueMelody/melody-auth-sub004/internal/auth/service"
	"github.com/ValueMelody/melody-auth-sub004/pkg/httpx"
)

// OrgHandler serves the org picker. Switching mid-flow runs against an open
// authorization code; changing after login runs against the bearer token.
type OrgHandler struct {
	Orgs      *service.OrgService
	Authorize *service.AuthorizeService
}

type switchOrgRequest struct {
	Code string `json:"code"`
	Slug string `json:"slug"`
}

// HandleSwitchOrg serves POST /process-switch-org. On success it returns
// the refreshed flow state so the hosted page can continue.
func (h *OrgHandler) HandleSwitchOrg(w http.ResponseWriter, r *http.Request) {
	var req switchOrgRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if err := h.Orgs.SwitchOrg(r.Context(), req.Code, req.Slug); err != nil {
		writeServiceError(w, r, err)
		return
	}
	res, err := h.Authorize.GetState(r.Context(), req.Code, deviceInfo(r))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httpx.NoCache(w)
	httpx.WriteJSON(w, http.StatusOK, res)
}

type changeOrgRequest struct {
	Slug string `json:"slug"`
}

// HandleChangeOrg serves POST /change-org for an authenticated user.
func (h *OrgHandler) HandleChangeOrg(w http.ResponseWriter, r *http.Request) {
	var req changeOrgRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	authID := httpx.UserIDFromContext(r.Context())
	if err := h.Orgs.ChangeOrgForAuthID(r.Context(), authID, req.Slug); err != nil {
		writeServiceError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// HandleListOrgs serves GET /orgs for an authenticated user.
func (h *OrgHandler) HandleListOrgs(w http.ResponseWriter, r *http.Request) {
	authID := httpx.UserIDFromContext(r.Context())
	list, err := h.Orgs.ListOrgsForAuthID(r.Context(), authID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, list)
}
