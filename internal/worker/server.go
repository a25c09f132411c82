package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/voicegrid/voicegrid/internal/engine"
	"github.com/voicegrid/voicegrid/internal/types"
)

// maxAudioUpload bounds reference audio uploads on extraction.
const maxAudioUpload = 32 << 20 // 32 MB

// Router builds the worker's local HTTP surface. The gateway talks to
// these endpoints; they are not meant to be exposed publicly.
func (w *Worker) Router(version string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/health", w.handleHealth(version))
	r.Get("/info", w.handleInfo)
	r.Get("/metrics", w.handleMetrics)
	r.Post("/command", w.handleCommand)
	r.Post("/synthesize", w.handleSynthesize)
	r.Post("/extract_voice", w.handleExtractVoice)

	return r
}

// Serve runs the worker HTTP server until ctx is cancelled or a stop
// command arrives, then performs the graceful stop sequence.
func (w *Worker) Serve(ctx context.Context, version string) error {
	srv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", w.host, w.port),
		Handler: w.Router(version),
	}

	errCh := make(chan error, 1)
	go func() {
		w.logger.Info("worker listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	hbCtx, cancelHB := context.WithCancel(ctx)
	defer cancelHB()
	w.Start(ctx)
	go w.RunHeartbeat(hbCtx)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	case <-w.StopRequested():
		w.logger.Info("stop command received")
	}

	cancelHB()

	stopCtx, cancel := context.WithTimeout(context.Background(), w.stopTimeout)
	defer cancel()
	w.Stop(stopCtx)

	shutCtx, cancelShut := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShut()
	return srv.Shutdown(shutCtx)
}

func (w *Worker) handleHealth(version string) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		w.mu.Lock()
		status, loaded := w.status, w.modelLoaded
		w.mu.Unlock()

		health := "degraded"
		if status == types.StatusReady {
			health = "healthy"
		}
		modelState := "not_loaded"
		if loaded {
			modelState = "loaded"
		}

		writeJSON(rw, http.StatusOK, types.HealthCheck{
			Status:        health,
			Version:       version,
			UptimeSeconds: time.Since(w.startTime).Seconds(),
			Timestamp:     types.Now(),
			Components: map[string]any{
				"model": map[string]string{
					"status": modelState,
					"engine": string(w.engine.Type()),
				},
			},
		})
	}
}

func (w *Worker) handleInfo(rw http.ResponseWriter, r *http.Request) {
	writeJSON(rw, http.StatusOK, w.NodeInfo())
}

func (w *Worker) handleMetrics(rw http.ResponseWriter, r *http.Request) {
	writeJSON(rw, http.StatusOK, w.Metrics())
}

// commandResult is the /command response body.
type commandResult struct {
	Success bool   `json:"success"`
	Status  string `json:"status,omitempty"`
	Error   string `json:"error,omitempty"`
}

func (w *Worker) handleCommand(rw http.ResponseWriter, r *http.Request) {
	var cmd types.Command
	if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil {
		writeJSON(rw, http.StatusBadRequest, commandResult{Success: false, Error: "invalid command body"})
		return
	}

	switch strings.ToLower(cmd.Command) {
	case "activate", "load_model":
		err := w.Activate(r.Context())
		writeJSON(rw, http.StatusOK, commandResult{Success: err == nil, Status: string(w.Status())})

	case "standby", "unload_model":
		err := w.Standby(r.Context())
		writeJSON(rw, http.StatusOK, commandResult{Success: err == nil, Status: string(w.Status())})

	case "stop":
		w.requestStop()
		writeJSON(rw, http.StatusOK, commandResult{Success: true, Status: string(w.Status())})

	default:
		writeJSON(rw, http.StatusOK, commandResult{
			Success: false,
			Error:   fmt.Sprintf("unknown command: %s", cmd.Command),
		})
	}
}

func (w *Worker) handleSynthesize(rw http.ResponseWriter, r *http.Request) {
	w.mu.Lock()
	loaded := w.modelLoaded
	w.mu.Unlock()
	if !loaded {
		writeJSON(rw, http.StatusServiceUnavailable, map[string]string{"error": "model not loaded"})
		return
	}

	w.currentConcurrent.Add(1)
	defer w.currentConcurrent.Add(-1)
	start := time.Now()

	var req types.SynthesizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.errorCount.Add(1)
		writeJSON(rw, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	req.Normalize()
	if err := req.Validate(); err != nil {
		w.errorCount.Add(1)
		writeJSON(rw, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	audio, err := w.engine.Synthesize(r.Context(), req)
	if err != nil {
		w.errorCount.Add(1)
		w.logger.Error("synthesize failed", zap.Error(err))
		writeJSON(rw, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	elapsed := float64(time.Since(start).Microseconds()) / 1000.0
	w.recordResponse(elapsed)

	rw.Header().Set("Content-Type", "audio/wav")
	rw.Header().Set("X-Node-Id", w.nodeID)
	rw.Header().Set("X-Response-Time", fmt.Sprintf("%.2fms", elapsed))
	rw.WriteHeader(http.StatusOK)
	rw.Write(audio)
}

func (w *Worker) handleExtractVoice(rw http.ResponseWriter, r *http.Request) {
	w.mu.Lock()
	loaded := w.modelLoaded
	w.mu.Unlock()
	if !loaded {
		writeJSON(rw, http.StatusServiceUnavailable, map[string]string{"error": "model not loaded"})
		return
	}

	w.currentConcurrent.Add(1)
	defer w.currentConcurrent.Add(-1)

	if err := r.ParseMultipartForm(maxAudioUpload); err != nil {
		w.errorCount.Add(1)
		writeJSON(rw, http.StatusBadRequest, map[string]string{"error": "invalid multipart form"})
		return
	}

	file, _, err := r.FormFile("audio")
	if err != nil {
		w.errorCount.Add(1)
		writeJSON(rw, http.StatusBadRequest, map[string]string{"error": "missing audio file"})
		return
	}
	defer file.Close()

	audio, err := io.ReadAll(file)
	if err != nil {
		w.errorCount.Add(1)
		writeJSON(rw, http.StatusBadRequest, map[string]string{"error": "read audio file"})
		return
	}

	voiceID := r.FormValue("voice_id")
	if voiceID == "" {
		voiceID = types.NewID()
	}

	info, err := w.engine.ExtractVoice(r.Context(), audio, engine.ExtractParams{
		VoiceID:    voiceID,
		VoiceName:  r.FormValue("voice_name"),
		PromptText: r.FormValue("prompt_text"),
		PromptLang: r.FormValue("prompt_lang"),
	})
	if err != nil {
		w.errorCount.Add(1)
		w.logger.Error("extract voice failed", zap.Error(err))
		writeJSON(rw, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	w.requestCount.Add(1)
	writeJSON(rw, http.StatusOK, types.ExtractVoiceResponse{
		Success:   true,
		VoiceID:   info.VoiceID,
		VoiceName: info.Name,
		Engine:    string(w.engine.Type()),
	})
}

func writeJSON(rw http.ResponseWriter, status int, body any) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	_ = json.NewEncoder(rw).Encode(body)
}
