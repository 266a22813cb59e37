package controller

import (
	"net/http"

	"github.com/canopy-network/certifier/pkg/entities"
)

type healthResponse struct {
	Status string          `json:"status"`
	Epoch  *entities.Epoch `json:"epoch,omitempty"`
	Redis  string          `json:"redis,omitempty"`
}

func (c *Controller) HandleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok"}
	if e, ok := c.App.Runner.CurrentEpoch(); ok {
		resp.Epoch = &e
	}

	status := http.StatusOK
	if c.App.RedisClient != nil {
		resp.Redis = "ok"
		if err := c.App.RedisClient.Health(r.Context()); err != nil {
			resp.Status, resp.Redis = "degraded", err.Error()
			status = http.StatusServiceUnavailable
		}
	}
	writeJSON(w, status, resp)
}
