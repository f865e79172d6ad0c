package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/coverbot/policyqa"
	"github.com/coverbot/policyqa/types"
)

type server struct {
	sys  *policyqa.System
	http *http.Server
}

func newServer(sys *policyqa.System, addr string) *server {
	s := &server{sys: sys}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /answer", s.handleAnswer)
	mux.HandleFunc("POST /answer/stream", s.handleAnswerStream)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.HandlerFor(sys.Registry, promhttp.HandlerOpts{}))

	s.http = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// run serves until ctx is canceled, then drains in-flight requests.
func (s *server) run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	s.sys.Logger.Info("shutting down")
	return s.http.Shutdown(shutdownCtx)
}

type answerRequest struct {
	Question string       `json:"question"`
	Domain   types.Domain `json:"domain,omitempty"`
}

func (s *server) handleAnswer(w http.ResponseWriter, r *http.Request) {
	var req answerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	resp, err := s.sys.Answer(r.Context(), req.Question, req.Domain)
	if err != nil {
		s.writeAnswerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleAnswerStream delivers generated text as server-sent events, followed
// by one final event carrying the full verified response.
func (s *server) handleAnswerStream(w http.ResponseWriter, r *http.Request) {
	var req answerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")

	resp, err := s.sys.AnswerStream(r.Context(), req.Question, req.Domain, func(delta string) error {
		data, err := json.Marshal(delta)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "event: delta\ndata: %s\n\n", data); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	})
	if err != nil {
		data, _ := json.Marshal(userMessage(err))
		fmt.Fprintf(w, "event: error\ndata: %s\n\n", data)
		flusher.Flush()
		return
	}

	data, err := json.Marshal(resp)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: result\ndata: %s\n\n", data)
	flusher.Flush()
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.sys.Health(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "index unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// writeAnswerError maps pipeline errors onto HTTP statuses. Guardrail
// violations are client faults; everything else is a 503 with a safe message.
func (s *server) writeAnswerError(w http.ResponseWriter, err error) {
	switch types.GetErrorCode(err) {
	case types.ErrInvalidInput, types.ErrInputTooLong, types.ErrUnsafeInput:
		writeError(w, http.StatusBadRequest, userMessage(err))
	default:
		s.sys.Logger.Error("answer failed", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, types.MsgServiceUnavailable)
	}
}

// userMessage extracts text safe to show a user from an error.
func userMessage(err error) string {
	var typed *types.Error
	if errors.As(err, &typed) {
		return typed.Message
	}
	return types.MsgServiceUnavailable
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
