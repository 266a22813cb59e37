package controller

import (
	"net/http"

	"github.com/canopy-network/certifier/app/aggregator/runner"
	"github.com/canopy-network/certifier/pkg/entities"
	"github.com/gorilla/mux"
)

// HandleOpenMessage returns the open message of a signed entity type at the current chain position.
func (c *Controller) HandleOpenMessage(w http.ResponseWriter, r *http.Request) {
	d, err := entities.ParseSignedEntityTypeDiscriminant(mux.Vars(r)["type"])
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	tp, err := c.App.Observer.CurrentTimePoint(r.Context())
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	signedEntityType, err := runner.SignedEntityType(d, tp)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	msg, err := c.App.Certifier.GetOpenMessage(r.Context(), signedEntityType)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if msg == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, msg)
}

// HandleArtifacts lists the artifacts built for a signed entity type, newest first.
func (c *Controller) HandleArtifacts(w http.ResponseWriter, r *http.Request) {
	d, err := entities.ParseSignedEntityTypeDiscriminant(mux.Vars(r)["type"])
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, c.App.Artifacts.List(d))
}
