package httpserver

import (
	"log"
	"net/http"

	"github.com/scamshield/wa-gateway/internal/http/handlers"
	"github.com/scamshield/wa-gateway/internal/http/middleware"
)

type RouterDependencies struct {
	API            *handlers.API
	Logger         *log.Logger
	AuthToken      string
	CORSOrigins    []string
	RateLimitRPS   float64
	RateLimitBurst int
}

func NewRouter(deps RouterDependencies) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", deps.API.Health)
	mux.HandleFunc("/status", deps.API.Status)
	mux.HandleFunc("/init", deps.API.Init)
	mux.HandleFunc("/logout", deps.API.Logout)
	mux.HandleFunc("/usage/", deps.API.Usage)

	handler := http.Handler(mux)
	handler = middleware.Auth(deps.AuthToken)(handler)
	handler = middleware.RateLimit(deps.RateLimitRPS, deps.RateLimitBurst)(handler)
	handler = middleware.CORS(middleware.CORSConfig{
		AllowedOrigins: deps.CORSOrigins,
	})(handler)
	handler = middleware.Trace(deps.Logger)(handler)
	handler = middleware.RequestID(handler)

	return handler
}
