// Package server exposes a dispatcher's specialization statistics over
// Connect, with a CBOR codec instead of generated protobuf types.
package server

import (
	"net/http"

	"connectrpc.com/connect"
	"github.com/tliron/commonlog"

	_ "github.com/tliron/commonlog/simple"

	"github.com/donBarbos/cpython/vm"
)

var log = commonlog.GetLogger("pyadapt.server")

// StatsServer serves the stats service for one registry.
type StatsServer struct {
	svc *StatsService
	mux *http.ServeMux
}

// New creates a StatsServer wrapping the given registry.
func New(reg *vm.Registry) *StatsServer {
	svc := NewStatsService(reg)
	mux := http.NewServeMux()

	opts := connect.WithCodec(cborCodec{})
	mux.Handle(SnapshotProcedure, connect.NewUnaryHandler(SnapshotProcedure, svc.Snapshot, opts))
	mux.Handle(ResetProcedure, connect.NewUnaryHandler(ResetProcedure, svc.Reset, opts))
	mux.Handle(FamiliesProcedure, connect.NewUnaryHandler(FamiliesProcedure, svc.Families, opts))

	return &StatsServer{svc: svc, mux: mux}
}

// Handler returns the HTTP handler, for mounting or for test servers.
func (s *StatsServer) Handler() http.Handler {
	return s.mux
}

// ListenAndServe starts the HTTP server on the given address.
// The address should be in the form "host:port" or ":port".
func (s *StatsServer) ListenAndServe(addr string) error {
	log.Noticef("stats service listening on %s", addr)
	log.Infof("  Connect (CBOR): http://%s%s", addr, SnapshotProcedure)
	return http.ListenAndServe(addr, s.mux)
}
