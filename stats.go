package main

import (
	"context"
	"net/http"

	"github.com/Seednode/quizbox/trivia"
	"github.com/julienschmidt/httprouter"
)

func serveStats(cfg *Config, registry *trivia.Registry, errs chan<- error) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		ctx, cancel := context.WithTimeout(r.Context(), timeout/2)
		defer cancel()

		_, err := writeJSON(cfg, w, http.StatusOK, registry.Stats(ctx))
		if err != nil {
			errs <- err

			return
		}
	}
}
