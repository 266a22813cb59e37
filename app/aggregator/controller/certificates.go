package controller

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/canopy-network/certifier/pkg/chain"
	"github.com/canopy-network/certifier/pkg/entities"
	"github.com/gorilla/mux"
)

const defaultCertificatesLimit = 20

// HandleCertificatesList returns the newest certificates. ?limit=0 returns all of them.
func (c *Controller) HandleCertificatesList(w http.ResponseWriter, r *http.Request) {
	limit := defaultCertificatesLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	certs, err := c.App.Store.ListCertificates(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if certs == nil {
		certs = make([]entities.Certificate, 0)
	}
	writeJSON(w, http.StatusOK, certs)
}

func (c *Controller) HandleCertificateDetail(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var (
		cert *entities.Certificate
		err  error
	)
	if id == "latest" {
		cert, err = c.App.Store.GetLatestCertificate(r.Context())
	} else {
		cert, err = c.App.Store.GetCertificate(r.Context(), id)
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if cert == nil {
		writeError(w, http.StatusNotFound, "certificate not found")
		return
	}
	writeJSON(w, http.StatusOK, cert)
}

type verifyResponse struct {
	CertificateID string `json:"certificate_id"`
	Valid         bool   `json:"valid"`
	FailedAt      string `json:"failed_at,omitempty"`
	Check         string `json:"check,omitempty"`
	Error         string `json:"error,omitempty"`
}

// HandleCertificateVerify walks the chain from a certificate back to genesis.
func (c *Controller) HandleCertificateVerify(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	err := c.App.Verifier.VerifyChain(r.Context(), id)
	if err == nil {
		writeJSON(w, http.StatusOK, verifyResponse{CertificateID: id, Valid: true})
		return
	}

	var verr *chain.VerificationError
	switch {
	case errors.Is(err, chain.ErrCertificateNotFound) && errors.As(err, &verr) && verr.CertificateID == id:
		writeError(w, http.StatusNotFound, "certificate not found")
	case errors.As(err, &verr) && verr.Check != chain.CheckLookup:
		writeJSON(w, http.StatusUnprocessableEntity, verifyResponse{
			CertificateID: id,
			FailedAt:      verr.CertificateID,
			Check:         string(verr.Check),
			Error:         verr.Err.Error(),
		})
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}
