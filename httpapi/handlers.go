package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/MrEthical07/careauth"
	"github.com/MrEthical07/careauth/logger"
	"github.com/MrEthical07/careauth/middleware"
)

type handlers struct {
	svc Service
	log logger.Logger
}

type loginRequest struct {
	Email      string `json:"email"`
	Password   string `json:"password"`
	TOTPCode   string `json:"totp_code,omitempty"`
	BackupCode string `json:"backup_code,omitempty"`
	RememberMe bool   `json:"remember_me,omitempty"`
}

type loginResponse struct {
	Status    string                `json:"status"`
	Token     string                `json:"token,omitempty"`
	SessionID string                `json:"session_id,omitempty"`
	ExpiresAt *time.Time            `json:"expires_at,omitempty"`
	UserID    string                `json:"user_id,omitempty"`
	User      *careauth.UserSummary `json:"user,omitempty"`
}

func toLoginResponse(res careauth.LoginResult) loginResponse {
	out := loginResponse{
		Status:    res.Status.String(),
		Token:     res.Token,
		SessionID: res.SessionID,
		UserID:    res.UserID,
		User:      res.User,
	}
	if !res.ExpiresAt.IsZero() {
		exp := res.ExpiresAt
		out.ExpiresAt = &exp
	}
	return out
}

func (h *handlers) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	res, err := h.svc.Login(r.Context(), careauth.LoginRequest{
		Email:      req.Email,
		Password:   req.Password,
		TOTPCode:   req.TOTPCode,
		BackupCode: req.BackupCode,
		RememberMe: req.RememberMe,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toLoginResponse(res))
}

func (h *handlers) beginPasskey(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	ch, err := h.svc.BeginPasskeyLogin(r.Context(), req.Email)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ch)
}

func (h *handlers) completePasskey(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Reference string                    `json:"reference"`
		Assertion careauth.PasskeyAssertion `json:"assertion"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	res, err := h.svc.CompletePasskeyLogin(r.Context(), req.Reference, req.Assertion)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toLoginResponse(res))
}

// session is set by the guard for every handler below.
func session(r *http.Request) careauth.SessionInfo {
	info, _ := middleware.SessionFromContext(r.Context())
	return info
}

func (h *handlers) logout(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Logout(r.Context(), session(r).SessionID); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) logoutAll(w http.ResponseWriter, r *http.Request) {
	n, err := h.svc.LogoutAll(r.Context(), session(r).UserID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"revoked": n})
}

func (h *handlers) changePassword(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CurrentPassword string `json:"current_password"`
		NewPassword     string `json:"new_password"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.svc.ChangePassword(r.Context(), session(r).UserID, req.CurrentPassword, req.NewPassword); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type proofRequest struct {
	TOTPCode   string `json:"totp_code,omitempty"`
	BackupCode string `json:"backup_code,omitempty"`
}

func (p proofRequest) proof() careauth.SecondFactorProof {
	return careauth.SecondFactorProof{TOTPCode: p.TOTPCode, BackupCode: p.BackupCode}
}

type backupCodesResponse struct {
	BackupCodes []string `json:"backup_codes"`
}

func (h *handlers) beginTwoFactor(w http.ResponseWriter, r *http.Request) {
	setup, err := h.svc.BeginTwoFactorSetup(r.Context(), session(r).UserID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"secret": setup.SecretBase32,
		"uri":    setup.URI,
	})
}

func (h *handlers) confirmTwoFactor(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Code string `json:"code"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	codes, err := h.svc.ConfirmTwoFactorSetup(r.Context(), session(r).UserID, req.Code)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, backupCodesResponse{BackupCodes: codes})
}

func (h *handlers) disableTwoFactor(w http.ResponseWriter, r *http.Request) {
	var req proofRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.svc.DisableTwoFactor(r.Context(), session(r).UserID, req.proof()); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) regenerateBackupCodes(w http.ResponseWriter, r *http.Request) {
	var req proofRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	codes, err := h.svc.RegenerateBackupCodes(r.Context(), session(r).UserID, req.proof())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, backupCodesResponse{BackupCodes: codes})
}

func (h *handlers) remainingBackupCodes(w http.ResponseWriter, r *http.Request) {
	n, err := h.svc.RemainingBackupCodes(r.Context(), session(r).UserID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"remaining": n})
}

func (h *handlers) userStats(w http.ResponseWriter, r *http.Request) {
	window, err := parseRange(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	stats, err := h.svc.UserSecurityStats(r.Context(), session(r).UserID, window)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (h *handlers) organizationOverview(w http.ResponseWriter, r *http.Request) {
	orgID := chi.URLParam(r, "orgID")
	if orgID != session(r).OrganizationID {
		writeJSON(w, http.StatusForbidden, errorResponse{Error: careauth.KindState.String(), Message: "forbidden"})
		return
	}
	window, err := parseRange(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	overview, err := h.svc.OrganizationSecurityOverview(r.Context(), orgID, window)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, overview)
}

// requestEmergency grants break-glass access to the calling user within
// their own organization.
func (h *handlers) requestEmergency(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PatientID     string `json:"patient_id"`
		Reason        string `json:"reason"`
		AccessType    string `json:"access_type"`
		DurationHours int    `json:"duration_hours"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	info := session(r)
	grant, err := h.svc.RequestEmergencyAccess(r.Context(), careauth.EmergencyRequest{
		PatientID:      req.PatientID,
		GranteeID:      info.UserID,
		OrganizationID: info.OrganizationID,
		Reason:         req.Reason,
		AccessType:     req.AccessType,
		DurationHours:  req.DurationHours,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, grant)
}

func (h *handlers) revokeEmergency(w http.ResponseWriter, r *http.Request) {
	grant, err := h.svc.RevokeEmergencyAccess(r.Context(), chi.URLParam(r, "grantID"), session(r).UserID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, grant)
}

func (h *handlers) emergencyUsable(w http.ResponseWriter, r *http.Request) {
	ok, err := h.svc.IsEmergencyAccessUsable(r.Context(), chi.URLParam(r, "grantID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"usable": ok})
}

func (h *handlers) activeGrants(w http.ResponseWriter, r *http.Request) {
	grants, err := h.svc.ActiveEmergencyGrants(r.Context(), chi.URLParam(r, "patientID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if grants == nil {
		grants = []careauth.EmergencyGrant{}
	}
	writeJSON(w, http.StatusOK, map[string][]careauth.EmergencyGrant{"grants": grants})
}
