package controller

import (
	"errors"
	"net/http"

	"github.com/canopy-network/certifier/pkg/certifier"
	"github.com/canopy-network/certifier/pkg/entities"
	"github.com/go-jose/go-jose/v4/json"
	"go.uber.org/zap"
)

type registerSignaturesRequest struct {
	SignedEntityType entities.SignedEntityType `json:"signed_entity_type"`
	PartyID          entities.PartyID          `json:"party_id"`
	Signature        string                    `json:"signature"`
	LotteryIndexes   []uint64                  `json:"indexes"`
}

// HandleRegisterSignatures takes in one party's signature over the open message of a signed entity type.
func (c *Controller) HandleRegisterSignatures(w http.ResponseWriter, r *http.Request) {
	var req registerSignaturesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad json")
		return
	}
	if err := req.SignedEntityType.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	signedEntityType := req.SignedEntityType.Normalize()

	status, err := c.App.Certifier.RegisterSingleSignature(r.Context(), signedEntityType, entities.SingleSignature{
		PartyID:        req.PartyID,
		Signature:      req.Signature,
		LotteryIndexes: req.LotteryIndexes,
	})
	switch {
	case err == nil && status == certifier.SignatureBuffered:
		w.WriteHeader(http.StatusAccepted)
	case err == nil:
		w.WriteHeader(http.StatusCreated)
	case errors.Is(err, certifier.ErrNoOpenMessage):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, certifier.ErrAlreadyCertified):
		writeError(w, http.StatusGone, err.Error())
	case errors.Is(err, certifier.ErrInvalidSignature), errors.Is(err, certifier.ErrUnregisteredParty):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		c.App.Logger.Error("Signature registration failed",
			zap.String("signed_entity_type", signedEntityType.String()),
			zap.String("party_id", req.PartyID),
			zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}
