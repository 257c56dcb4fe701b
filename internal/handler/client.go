package handler

import (
	"net/http"

	"github.com/segyhp/microlend-ledger/pkg/response"
)

type ClientHandler struct {
	clients ClientService
}

func NewClientHandler(clients ClientService) *ClientHandler {
	return &ClientHandler{clients: clients}
}

// GetAggregate handles GET /api/v1/clients/{clientId}/aggregate
func (h *ClientHandler) GetAggregate(w http.ResponseWriter, r *http.Request) {
	agg, err := h.clients.Get(r.Context(), pathVar(r, "clientId"))
	if err != nil {
		response.FromError(w, err)
		return
	}
	response.Success(w, agg)
}

// Reconcile handles POST /api/v1/admin/clients/reconcile
func (h *ClientHandler) Reconcile(w http.ResponseWriter, r *http.Request) {
	healed, err := h.clients.Reconcile(r.Context())
	if err != nil {
		response.FromError(w, err)
		return
	}
	response.Success(w, map[string]int{"healed": healed})
}
