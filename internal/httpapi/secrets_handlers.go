package httpapi

import (
	"net/http"
	"strings"

	"projectscout-engine/internal/secrets"
)

type SecretsHandler struct {
	d Deps
}

type setPasswordReq struct {
	Password string `json:"password"`
}

func (h SecretsHandler) SetSMTPPassword(w http.ResponseWriter, r *http.Request) {
	h.set(w, r, secrets.SMTPAccount(h.d.config()))
}

func (h SecretsHandler) SetIMAPPassword(w http.ResponseWriter, r *http.Request) {
	h.set(w, r, secrets.IMAPAccount(h.d.config()))
}

func (h SecretsHandler) set(w http.ResponseWriter, r *http.Request, account string) {
	var req setPasswordReq
	if err := decodeStrict(w, r, &req, false); err != nil {
		WriteError(w, r, http.StatusBadRequest, "bad_request", "invalid JSON")
		return
	}
	if strings.TrimSpace(req.Password) == "" {
		WriteError(w, r, http.StatusBadRequest, "bad_request", "password is empty")
		return
	}
	if err := h.d.SetSecret(account, req.Password); err != nil {
		WriteError(w, r, http.StatusBadRequest, "keyring_failed", "failed to store password: "+err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
