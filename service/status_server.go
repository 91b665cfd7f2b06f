package service

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/rs/cors"
)

// StatusReporter supplies the JSON status document served at /status.
type StatusReporter interface {
	GetStatusReport() map[string]any
}

type StatusServer struct {
	ctx      context.Context
	server   *http.Server
	reporter StatusReporter
}

func (s *StatusServer) Start(ctx context.Context, addr string, reporter StatusReporter) error {
	s.reporter = reporter
	hdlr := http.NewServeMux()
	hdlr.HandleFunc("/status", s.Handle)
	c := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
	})
	server := &http.Server{
		Handler: c.Handler(hdlr),
		Addr:    addr,
	}
	s.server = server
	s.ctx = ctx
	return s.server.ListenAndServe()
}

func (s *StatusServer) Shutdown() error {
	return s.server.Shutdown(s.ctx)
}

func (s *StatusServer) Handle(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.reporter.GetStatusReport()); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
