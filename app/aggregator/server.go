package aggregator

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/canopy-network/certifier/app/aggregator/controller"
	"github.com/canopy-network/certifier/app/aggregator/types"
)

// NewServer creates the HTTP server of the signer-facing API.
func NewServer(app *types.App) error {
	ctler := controller.NewController(app)
	router, err := ctler.NewRouter()
	if err != nil {
		return err
	}

	app.Server = &http.Server{
		Addr:              app.Config.Addr,
		Handler:           controller.WithCORS(router),
		ReadHeaderTimeout: 10 * time.Second,
	}
	app.Logger.Info("Starting server", zap.String("addr", app.Config.Addr))

	return nil
}
