package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"

	"gwi.com/research-chat/internal/backend"
)

func NewRouter(apiHandler *APIHandler, metricsHandler http.Handler, allowedOrigins []string) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.StripSlashes)
	r.Use(cors.New(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
	}).Handler)

	if metricsHandler != nil {
		r.Handle("/metrics", metricsHandler)
	}

	r.Route("/api", func(r chi.Router) {
		// Public routes
		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(`{"status":"ok"}`))
		})
		r.Post("/auth/refresh", apiHandler.RefreshHandler)
		r.Post("/auth/logout", apiHandler.LogoutHandler)
		r.Post("/auth/validate-email", apiHandler.ValidateEmailHandler)

		// User-authenticated routes
		r.Group(func(r chi.Router) {
			r.Use(apiHandler.JWTAuthMiddleware)

			r.Post("/chats", apiHandler.CreateChatHandler)
			r.Get("/chats", apiHandler.ListChatsHandler)
			r.Get("/chats/{chatID}", apiHandler.GetChatHandler)
			r.Delete("/chats/{chatID}", apiHandler.DeleteChatHandler)
			r.Post("/chats/{chatID}/messages", apiHandler.PostMessageHandler)
			r.Post("/messages", apiHandler.PostMessageHandler)

			r.Route("/chats/{chatID}/exchange", func(r chi.Router) {
				r.Get("/", apiHandler.GetExchangeHandler)
				r.Put("/mode", apiHandler.SetModeHandler)
				r.Post("/select", apiHandler.SelectOptionHandler)
				r.Post("/score", apiHandler.ScoreOptionHandler)
				r.Post("/move", apiHandler.MoveOptionHandler)
				r.Post("/confirm", apiHandler.ConfirmRankingHandler)
			})

			r.Get("/prompts", apiHandler.GetPromptHandler)
			r.Put("/prompts", apiHandler.SavePromptHandler)
			r.Delete("/prompts", apiHandler.ResetPromptHandler)

			r.Post("/openrouter", apiHandler.OpenRouterHandler)

			// Backend proxies
			r.Get("/backends/health", apiHandler.BackendsHealthHandler)
			r.Get("/light/status", apiHandler.proxy(backend.Light, "/api/status", "Failed to get light server status"))
			r.Post("/light/research-scrape", apiHandler.proxy(backend.Light, "/api/research/scrape", "Failed to scrape research"))
			r.Post("/heavy/ingest-gdrive", apiHandler.proxy(backend.Heavy, "/api/ingest/gdrive", "Failed to ingest from Google Drive"))
			r.Post("/heavy/embed", apiHandler.proxy(backend.Heavy, "/api/embed", "Failed to generate embeddings"))
			r.Get("/database/whitelist", apiHandler.proxy(backend.Database, "/api/whitelist/get", "Failed to get whitelist"))
			r.Post("/database/whitelist/add", apiHandler.proxy(backend.Database, "/api/whitelist/add", "Failed to add to whitelist"))
			r.Post("/database/whitelist/remove", apiHandler.proxy(backend.Database, "/api/whitelist/remove", "Failed to remove from whitelist"))
		})
	})

	return r
}
