package main

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/Seednode/quizbox/trivia"
	"github.com/julienschmidt/httprouter"
	"github.com/skip2/go-qrcode"
)

// joinURL is the link players follow to join the lobby with this code.
func joinURL(cfg *Config, r *http.Request, code string) string {
	// Derive scheme (respecting TLS and X-Forwarded-Proto if present).
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}

	return scheme + "://" + r.Host + cfg.prefix + "/?code=" + code
}

// serveQR generates a PNG QR code for a lobby's join link using go-qrcode.
func serveQR(cfg *Config, logger *slog.Logger, registry *trivia.Registry) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		lobby, err := registry.FindByCode(ps.ByName("code"))
		if err != nil {
			http.Error(w, "unknown lobby", http.StatusNotFound)
			return
		}

		url := joinURL(cfg, r, strings.ToUpper(lobby.Code()))

		const qrSize = 320 // mobile-friendly size
		png, err := qrcode.Encode(url, qrcode.Medium, qrSize)
		if err != nil {
			logger.Error("SERVE: QR generation failed", "lobby", lobby.Code(), "error", err)
			http.Error(w, "qr generation failed", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "image/png")
		securityHeaders(cfg, w)
		_, _ = w.Write(png)
	}
}
