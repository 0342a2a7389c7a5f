// Package exohttp exposes a tiny read-only HTTP surface for inspecting
// a running kernel context: /captable (live capability counts per kind),
// /captable/dump (the full capability table text report), /arbitration
// and /dag. /arbitration reports only whether the context has reached
// the Running phase; it does not list arbitration table entries. /dag
// reports only the ready-queue length. This is purely observational —
// there are no mutation routes, and none of it is part of the syscall
// surface.
package exohttp

import (
	"encoding/json"
	"net/http"

	"github.com/arclight-os/exocore/cap"
	"github.com/arclight-os/exocore/kernel"
)

// Server wraps a *kernel.Context with the debug routes.
type Server struct {
	ctx *kernel.Context
	mux *http.ServeMux
}

// NewServer builds a Server for ctx. Call Handler to get an
// http.Handler suitable for http.Serve, or use ListenAndServe.
func NewServer(ctx *kernel.Context) *Server {
	s := &Server{ctx: ctx, mux: http.NewServeMux()}
	s.mux.HandleFunc("/captable", s.handleCapTable)
	s.mux.HandleFunc("/captable/dump", s.handleCapTableDump)
	s.mux.HandleFunc("/arbitration", s.handleArbitration)
	s.mux.HandleFunc("/dag", s.handleDAG)
	return s
}

// Handler returns the server's http.Handler.
func (s *Server) Handler() http.Handler { return s.mux }

// ListenAndServe starts the debug server on addr. It blocks until the
// server stops, same contract as net/http.Server.
func (s *Server) ListenAndServe(addr string) error {
	return http.ListenAndServe(addr, s.mux)
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

type capTableDump struct {
	PageCount     int `json:"page_count"`
	BlockCount    int `json:"block_count"`
	IOPortCount   int `json:"ioport_count"`
	IRQCount      int `json:"irq_count"`
	DMACount      int `json:"dma_count"`
	ContextCount  int `json:"context_count"`
	EndpointCount int `json:"endpoint_count"`
}

func (s *Server) handleCapTable(w http.ResponseWriter, r *http.Request) {
	t := s.ctx.Table
	writeJSON(w, capTableDump{
		PageCount:     t.Count(cap.Page),
		BlockCount:    t.Count(cap.Block),
		IOPortCount:   t.Count(cap.IOPort),
		IRQCount:      t.Count(cap.IRQ),
		DMACount:      t.Count(cap.DMA),
		ContextCount:  t.Count(cap.Context),
		EndpointCount: t.Count(cap.Endpoint),
	})
}

// handleCapTableDump serves cap.Table.Dump's full per-capability text
// report (spec §7's "diagnostic dump of the offending structure"),
// letting an operator pull the live capability table without waiting
// for a panic to print one.
func (s *Server) handleCapTableDump(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte(s.ctx.Table.Dump()))
}

type arbitrationDump struct {
	Running bool `json:"running"`
}

func (s *Server) handleArbitration(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, arbitrationDump{Running: s.ctx.Phase.IsRunning()})
}

type dagDump struct {
	ReadyLen int `json:"ready_len"`
}

func (s *Server) handleDAG(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, dagDump{ReadyLen: s.ctx.Scheduler.Len()})
}
