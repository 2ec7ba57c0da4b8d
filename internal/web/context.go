package web

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/zakakatz/embrTimeOff-sub000/internal/core"
)

// actorFrom returns the actor stored by the Actor middleware.
func actorFrom(r *http.Request) core.Actor {
	a, _ := core.ActorFromContext(r.Context())
	return a
}

// uuidParam parses a UUID path parameter.
func uuidParam(r *http.Request, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		return uuid.Nil, &core.Error{Code: core.CodeInvalidOptions, Message: "invalid " + name, Field: name}
	}
	return id, nil
}
