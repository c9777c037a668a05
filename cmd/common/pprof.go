package common

import (
	"context"
	"net/http"
	"net/http/pprof"
	"time"

	"github.com/oasisprotocol/fairdraw/common"
	"github.com/oasisprotocol/fairdraw/log"
)

// PprofService serves the runtime profiling endpoints.
type PprofService struct {
	endpoint string
	logger   *log.Logger
}

// NewPprofService returns a profiling service listening on endpoint.
func NewPprofService(endpoint string, logger *log.Logger) *PprofService {
	return &PprofService{endpoint: endpoint, logger: logger.WithModule("pprof")}
}

// Name returns the service name.
func (s *PprofService) Name() string {
	return "pprof"
}

// Start serves until ctx is cancelled.
func (s *PprofService) Start(ctx context.Context) error {
	// A dedicated mux keeps pprof off the global multiplexer, where
	// pprof's init function registers by default.
	mux := http.NewServeMux()
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)

	server := &http.Server{
		Addr:              s.endpoint,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return common.RunServer(ctx, server, s.logger)
}
