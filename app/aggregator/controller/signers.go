package controller

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/canopy-network/certifier/pkg/entities"
	"github.com/canopy-network/certifier/pkg/registration"
	"github.com/go-jose/go-jose/v4/json"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

type epochSettingsResponse struct {
	Epoch                    entities.Epoch              `json:"epoch"`
	CurrentProtocolParams    entities.ProtocolParameters `json:"protocol_parameters"`
	NextProtocolParams       entities.ProtocolParameters `json:"next_protocol_parameters"`
	UpcomingProtocolParams   entities.ProtocolParameters `json:"upcoming_protocol_parameters"`
	AllowedSignedEntityTypes []string                    `json:"signed_entity_types"`
}

// HandleEpochSettings tells signers the current epoch and the parameters they sign with.
func (c *Controller) HandleEpochSettings(w http.ResponseWriter, _ *http.Request) {
	epochs := c.App.Epochs
	e, err := epochs.Epoch()
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	resp := epochSettingsResponse{Epoch: e}
	if resp.CurrentProtocolParams, err = epochs.CurrentProtocolParameters(); err == nil {
		if resp.NextProtocolParams, err = epochs.NextProtocolParameters(); err == nil {
			resp.UpcomingProtocolParams, err = epochs.UpcomingProtocolParameters()
		}
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	allowed, err := epochs.AllowedSignedEntityTypes()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	for _, d := range allowed {
		resp.AllowedSignedEntityTypes = append(resp.AllowedSignedEntityTypes, d.String())
	}
	writeJSON(w, http.StatusOK, resp)
}

type registerSignerRequest struct {
	Epoch entities.Epoch `json:"epoch"`
	entities.Signer
}

// HandleRegisterSigner registers a signer in the open round. Registering the same
// party twice for an epoch is accepted.
func (c *Controller) HandleRegisterSigner(w http.ResponseWriter, r *http.Request) {
	var req registerSignerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad json")
		return
	}

	registered, err := c.App.Registerer.RegisterSigner(r.Context(), req.Epoch, req.Signer)
	var unexpected *registration.UnexpectedEpochError
	switch {
	case err == nil, registration.IsExistingSigner(err):
		writeJSON(w, http.StatusCreated, registered)
	case errors.Is(err, registration.ErrRoundNotOpened):
		writeError(w, StatusRoundNotOpened, err.Error())
	case errors.As(err, &unexpected):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, registration.ErrFailedSignerRegistration):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		c.App.Logger.Error("Signer registration failed",
			zap.String("party_id", req.PartyID),
			zap.Uint64("epoch", uint64(req.Epoch)),
			zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

type registeredSignersResponse struct {
	RegisteredAt  entities.Epoch             `json:"registered_at"`
	SigningAt     entities.Epoch             `json:"signing_at"`
	Registrations []entities.SignerWithStake `json:"registrations"`
}

// HandleRegisteredSigners lists signers recorded at an epoch; they sign messages of the next one.
func (c *Controller) HandleRegisteredSigners(w http.ResponseWriter, r *http.Request) {
	raw, err := strconv.ParseUint(mux.Vars(r)["epoch"], 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid epoch")
		return
	}
	e := entities.Epoch(raw)

	signers, err := c.App.Store.GetSigners(r.Context(), e)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if signers == nil {
		signers = make([]entities.SignerWithStake, 0)
	}
	writeJSON(w, http.StatusOK, registeredSignersResponse{
		RegisteredAt:  e,
		SigningAt:     e.Next(),
		Registrations: signers,
	})
}
