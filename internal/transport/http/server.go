package http

import (
	"context"
	"net/http"
	"time"

	"giftpool/internal/service"
)

type Server struct {
	srv *http.Server
}

func NewServer(addr string, svc service.GiftService) *Server {
	mux := http.NewServeMux()
	h := NewHandler(svc)
	h.Register(mux)

	return &Server{
		srv: &http.Server{
			Addr:    addr,
			Handler: mux,
			// Batches pace themselves between remote calls, so a full
			// 10-item request can legitimately take the better part of a
			// minute.
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 120 * time.Second,
			IdleTimeout:  120 * time.Second,
		},
	}
}

func (s *Server) Start(ctx context.Context) error {
	return s.srv.ListenAndServe()
}

func (s *Server) Stop(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
