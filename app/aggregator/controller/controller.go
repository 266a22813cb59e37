package controller

import (
	"net/http"

	"github.com/canopy-network/certifier/app/aggregator/types"
	"github.com/go-jose/go-jose/v4/json"
	"github.com/gorilla/mux"
)

// StatusRoundNotOpened is answered while no signer registration round is open.
const StatusRoundNotOpened = 550

type Controller struct {
	App *types.App
}

// NewController returns a new controller.
func NewController(app *types.App) *Controller {
	return &Controller{App: app}
}

// WithCORS is a middleware that adds CORS headers to the response.
func WithCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Vary", "Origin")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		w.Header().Set("Access-Control-Allow-Methods", http.MethodGet+", "+http.MethodPost+", "+http.MethodOptions)

		// Fast-path the preflight
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// NewRouter returns a new router with all the routes of the aggregator API.
func (c *Controller) NewRouter() (*mux.Router, error) {
	r := mux.NewRouter()

	r.Handle("/api/health", http.HandlerFunc(c.HandleHealth)).Methods(http.MethodGet)
	r.HandleFunc("/api/epoch-settings", c.HandleEpochSettings).Methods(http.MethodGet)

	// Signers
	r.HandleFunc("/api/register-signer", c.HandleRegisterSigner).Methods(http.MethodPost)
	r.HandleFunc("/api/signers/registered/{epoch}", c.HandleRegisteredSigners).Methods(http.MethodGet)
	r.HandleFunc("/api/register-signatures", c.HandleRegisterSignatures).Methods(http.MethodPost)

	// Certificates
	r.HandleFunc("/api/certificates", c.HandleCertificatesList).Methods(http.MethodGet)
	r.HandleFunc("/api/certificates/{id}", c.HandleCertificateDetail).Methods(http.MethodGet)
	r.HandleFunc("/api/certificates/{id}/verify", c.HandleCertificateVerify).Methods(http.MethodGet)

	r.HandleFunc("/api/open-messages/{type}", c.HandleOpenMessage).Methods(http.MethodGet)
	r.HandleFunc("/api/artifacts/{type}", c.HandleArtifacts).Methods(http.MethodGet)

	return r, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
