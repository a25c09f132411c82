package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"

	"go.uber.org/zap"

	"github.com/voicegrid/voicegrid/internal/registry"
	"github.com/voicegrid/voicegrid/internal/types"
)

// handleSynthesize is POST /api/synthesize. The request is validated,
// a ready node for the engine is selected round-robin, and the request
// body is forwarded to the worker's /synthesize endpoint.
//
// Successful forwards stream the audio back with X-Node-Id and X-Engine
// headers. Routing and worker failures come back as 200 responses with
// success false, so callers distinguish "your request is bad" (4xx) from
// "the cluster could not serve it right now".
func (g *Gateway) handleSynthesize(w http.ResponseWriter, r *http.Request) {
	var req types.SynthesizeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.Normalize()
	if err := req.Validate(); err != nil {
		writeDomainError(w, err)
		return
	}

	engine := req.Engine
	if engine == "" {
		engine = g.defaultEngine()
	}

	node, err := g.registry.Select(engine, registry.StrategyRoundRobin)
	if err != nil {
		writeJSON(w, http.StatusOK, types.SynthesizeResponse{Success: false, Message: err.Error()})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), g.cfg.Gateway.RequestTimeout())
	defer cancel()

	audio, err := g.forwardSynthesize(ctx, node, req)
	if err != nil {
		g.metrics.ForwardErrors.WithLabelValues(string(engine)).Inc()
		g.logger.Error("synthesize forward failed",
			zap.String("node_id", node.NodeID),
			zap.Error(err),
		)
		writeJSON(w, http.StatusOK, types.SynthesizeResponse{Success: false, Message: err.Error()})
		return
	}

	w.Header().Set("Content-Type", "audio/wav")
	w.Header().Set("X-Node-Id", node.NodeID)
	w.Header().Set("X-Engine", string(engine))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(audio)
}

// forwardSynthesize posts the request to a worker and returns the audio.
func (g *Gateway) forwardSynthesize(ctx context.Context, node types.Node, req types.SynthesizeRequest) ([]byte, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	url := fmt.Sprintf("http://%s/synthesize", node.Address())
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || ctx.Err() == context.DeadlineExceeded {
			return nil, types.RequestTimeout(fmt.Sprintf("synthesis timed out on node %s", node.NodeID))
		}
		return nil, fmt.Errorf("forward to %s: %w", node.NodeID, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read node response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("node error: %s", string(data))
	}
	return data, nil
}

// handleBatchSynthesize is POST /api/batch_synthesize. Items run
// sequentially, each selecting a node independently so the batch spreads
// over the pool. Per-item failures are recorded, not raised; the batch
// succeeds only when every item did.
func (g *Gateway) handleBatchSynthesize(w http.ResponseWriter, r *http.Request) {
	var req types.BatchSynthesizeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if len(req.Texts) == 0 {
		writeError(w, http.StatusBadRequest, "texts is required", types.CodeInvalidRequest)
		return
	}
	if req.VoiceID == "" {
		writeError(w, http.StatusBadRequest, "voice_id is required", types.CodeInvalidRequest)
		return
	}

	engine := req.Engine
	if engine == "" {
		engine = g.defaultEngine()
	}

	ctx, cancel := context.WithTimeout(r.Context(), g.cfg.Gateway.BatchTimeout())
	defer cancel()

	results := make([]types.BatchItemResult, 0, len(req.Texts))
	succeeded, failed := 0, 0

	for i, text := range req.Texts {
		item := types.SynthesizeRequest{
			Text:     text,
			VoiceID:  req.VoiceID,
			Language: req.Language,
		}
		item.Normalize()

		audio, err := g.batchItem(ctx, engine, item)
		if err != nil {
			results = append(results, types.BatchItemResult{Index: i, Success: false, Error: err.Error()})
			failed++
			continue
		}
		results = append(results, types.BatchItemResult{Index: i, Success: true, Size: len(audio)})
		succeeded++
	}

	writeJSON(w, http.StatusOK, types.BatchSynthesizeResponse{
		Success:   failed == 0,
		Message:   fmt.Sprintf("batch completed: %d/%d", succeeded, len(req.Texts)),
		Results:   results,
		Total:     len(req.Texts),
		Succeeded: succeeded,
		Failed:    failed,
	})
}

// batchItem forwards one batch entry under the single-request timeout,
// so one stalled node cannot eat the whole batch window.
func (g *Gateway) batchItem(ctx context.Context, engine types.Engine, req types.SynthesizeRequest) ([]byte, error) {
	node, err := g.registry.Select(engine, registry.StrategyRoundRobin)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, g.cfg.Gateway.RequestTimeout())
	defer cancel()
	audio, err := g.forwardSynthesize(ctx, node, req)
	if err != nil {
		g.metrics.ForwardErrors.WithLabelValues(string(engine)).Inc()
	}
	return audio, err
}

// handleExtractVoice is POST /api/extract_voice. The multipart upload is
// rebuilt and forwarded to a selected worker, whose JSON result is
// returned verbatim.
func (g *Gateway) handleExtractVoice(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxExtractUpload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form", types.CodeInvalidRequest)
		return
	}

	file, header, err := r.FormFile("audio")
	if err != nil {
		writeError(w, http.StatusBadRequest, "audio file is required", types.CodeInvalidRequest)
		return
	}
	defer file.Close()

	engine := g.defaultEngine()
	if v := r.FormValue("engine"); v != "" {
		engine, err = types.ParseEngine(v)
		if err != nil {
			writeDomainError(w, err)
			return
		}
	}

	node, err := g.registry.Select(engine, registry.StrategyRoundRobin)
	if err != nil {
		writeJSON(w, http.StatusOK, types.ExtractVoiceResponse{Success: false, Message: err.Error()})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), g.cfg.Gateway.BatchTimeout())
	defer cancel()

	result, err := g.forwardExtract(ctx, node, file, header.Filename, r.Form)
	if err != nil {
		g.metrics.ForwardErrors.WithLabelValues(string(engine)).Inc()
		g.logger.Error("extract forward failed",
			zap.String("node_id", node.NodeID),
			zap.Error(err),
		)
		writeJSON(w, http.StatusOK, types.ExtractVoiceResponse{Success: false, Message: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// maxExtractUpload bounds reference audio uploads, matching the worker's
// own limit.
const maxExtractUpload = 32 << 20 // 32 MB

// extractFormFields are the multipart fields forwarded alongside the
// audio file.
var extractFormFields = []string{"voice_id", "voice_name", "prompt_text", "prompt_lang"}

func (g *Gateway) forwardExtract(ctx context.Context, node types.Node, audio io.Reader, filename string, form map[string][]string) (types.ExtractVoiceResponse, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	part, err := mw.CreateFormFile("audio", filename)
	if err != nil {
		return types.ExtractVoiceResponse{}, fmt.Errorf("build upload: %w", err)
	}
	if _, err := io.Copy(part, audio); err != nil {
		return types.ExtractVoiceResponse{}, fmt.Errorf("copy audio: %w", err)
	}
	for _, field := range extractFormFields {
		if vs := form[field]; len(vs) > 0 && vs[0] != "" {
			if err := mw.WriteField(field, vs[0]); err != nil {
				return types.ExtractVoiceResponse{}, fmt.Errorf("write field %s: %w", field, err)
			}
		}
	}
	if err := mw.Close(); err != nil {
		return types.ExtractVoiceResponse{}, fmt.Errorf("finish upload: %w", err)
	}

	url := fmt.Sprintf("http://%s/extract_voice", node.Address())
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &buf)
	if err != nil {
		return types.ExtractVoiceResponse{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := g.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || ctx.Err() == context.DeadlineExceeded {
			return types.ExtractVoiceResponse{}, types.RequestTimeout(fmt.Sprintf("extraction timed out on node %s", node.NodeID))
		}
		return types.ExtractVoiceResponse{}, fmt.Errorf("forward to %s: %w", node.NodeID, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return types.ExtractVoiceResponse{}, fmt.Errorf("read node response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return types.ExtractVoiceResponse{}, fmt.Errorf("node error: %s", string(data))
	}

	var result types.ExtractVoiceResponse
	if err := json.Unmarshal(data, &result); err != nil {
		return types.ExtractVoiceResponse{}, fmt.Errorf("decode node response: %w", err)
	}
	return result, nil
}
