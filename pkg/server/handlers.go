// Copyright 2026 The Praxis Authors
//
// Use of this source code is governed by the MIT license
// found in the LICENSE file.

package server

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/praxislang/praxis/pkg/agent"
	"github.com/praxislang/praxis/pkg/dsl"
	"github.com/praxislang/praxis/pkg/plan"
	"github.com/praxislang/praxis/pkg/resultcache"
	"github.com/praxislang/praxis/pkg/skills"
)

// RunRequest starts one agent run. Content is the block program source.
type RunRequest struct {
	Name    string `json:"name"`
	Content string `json:"content"`
	Query   string `json:"query"`
	Stream  string `json:"stream,omitempty"`
}

type ValidateRequest struct {
	Content string `json:"content"`
}

type ValidateResponse struct {
	Status string `json:"status"`
	Blocks int    `json:"blocks,omitempty"`
	Error  string `json:"error,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleRun executes the posted program and streams envelope items as SSE.
func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	var req RunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Name == "" {
		req.Name = "default"
	}
	if req.Content == "" {
		writeError(w, http.StatusBadRequest, "content is required")
		return
	}

	mode := agent.StreamFull
	if req.Stream == string(agent.StreamDelta) {
		mode = agent.StreamDelta
	}

	registry, err := s.buildRegistry()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	ag, err := agent.New(agent.Options{
		Name:     req.Name,
		Content:  req.Content,
		Config:   s.cfg,
		LLM:      s.llm,
		Registry: registry,
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ch, err := ag.ARun(r.Context(), req.Query, mode)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for item := range ch {
		data, err := json.Marshal(item)
		if err != nil {
			continue
		}
		fmt.Fprintf(w, "data: %s\n\n", data)
		flusher.Flush()
	}
	fmt.Fprint(w, "event: done\ndata: {}\n\n")
	flusher.Flush()
}

// handleValidate parses the program without running it.
func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	var req ValidateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Content == "" {
		writeError(w, http.StatusBadRequest, "content is required")
		return
	}

	blocks, err := dsl.Parse(req.Content)
	if err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, ValidateResponse{
			Status: "invalid",
			Error:  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, ValidateResponse{Status: "valid", Blocks: len(blocks)})
}

// buildRegistry assembles the per-run skill registry with the plan kit.
func (s *Server) buildRegistry() (*skills.Registry, error) {
	opts := []resultcache.Option{}
	if s.cfg.Cache.ByteBudget > 0 {
		opts = append(opts, resultcache.WithByteBudget(int(s.cfg.Cache.ByteBudget)))
	}
	if s.cfg.Cache.Directory != "" {
		opts = append(opts, resultcache.WithDirectory(s.cfg.Cache.Directory))
	}
	cache, err := resultcache.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to build result cache: %w", err)
	}
	registry := skills.NewRegistry(cache)
	if err := registry.Register(plan.New(s.cfg.Plan).Kit()); err != nil {
		return nil, fmt.Errorf("failed to register plan kit: %w", err)
	}
	return registry, nil
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
