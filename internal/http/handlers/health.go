package handlers

import (
	"net/http"
)

type healthResponse struct {
	Status   string `json:"status"`
	Sessions int    `json:"sessions"`
}

func (a *App) Health(w http.ResponseWriter, r *http.Request) {
	a.json(w, http.StatusOK, healthResponse{Status: "ok", Sessions: a.Sessions.Len()})
}
