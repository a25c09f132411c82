package engine

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/voicegrid/voicegrid/internal/types"
	"github.com/voicegrid/voicegrid/internal/voicestore"
)

// upstreamEngine adapts a model service that follows the uniform contract:
//
//	GET  /health         liveness
//	POST /extract_voice  raw audio in, opaque voice blob out
//	POST /synthesize     JSON {text, language, speed, pitch, voice} in,
//	                     WAV bytes out (voice is the base64 blob)
//
// Both the XTTS and OpenVoice services expose this surface, so they share
// the adapter and differ only in engine tag and default address.
type upstreamEngine struct {
	engine types.Engine
	url    string
	store  *voicestore.Store
	client *http.Client
	loaded atomic.Bool
	logger *zap.Logger
}

func newUpstreamEngine(engine types.Engine, url string, store *voicestore.Store, logger *zap.Logger) *upstreamEngine {
	return &upstreamEngine{
		engine: engine,
		url:    strings.TrimRight(url, "/"),
		store:  store,
		client: &http.Client{Timeout: 120 * time.Second},
		logger: logger.Named(string(engine)),
	}
}

func (e *upstreamEngine) Type() types.Engine { return e.engine }

// Load verifies the model service is reachable. The service owns the
// actual model weights; reachable means ready.
func (e *upstreamEngine) Load(ctx context.Context) error {
	e.logger.Info("connecting to model service", zap.String("url", e.url))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.url+"/health", nil)
	if err != nil {
		return types.EngineError(fmt.Sprintf("build health request: %v", err))
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return types.EngineError(fmt.Sprintf("cannot connect to %s model service at %s: %v", e.engine, e.url, err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return types.EngineError(fmt.Sprintf("%s model service unhealthy: status %d", e.engine, resp.StatusCode))
	}

	e.loaded.Store(true)
	e.logger.Info("model service connected")
	return nil
}

func (e *upstreamEngine) Unload(ctx context.Context) error {
	e.loaded.Store(false)
	e.logger.Info("model service detached")
	return nil
}

// synthesizeRequest is the uniform upstream synthesis body.
type synthesizeRequest struct {
	Text     string  `json:"text"`
	Language string  `json:"language"`
	Speed    float64 `json:"speed"`
	Pitch    float64 `json:"pitch"`
	Voice    string  `json:"voice"`
}

func (e *upstreamEngine) Synthesize(ctx context.Context, req types.SynthesizeRequest) ([]byte, error) {
	if !e.loaded.Load() {
		return nil, types.ModelNotLoaded(e.engine)
	}

	_, blob, err := e.store.Load(req.VoiceID)
	if err != nil {
		return nil, err
	}

	body, err := json.Marshal(synthesizeRequest{
		Text:     req.Text,
		Language: req.Language,
		Speed:    req.Speed,
		Pitch:    req.Pitch,
		Voice:    base64.StdEncoding.EncodeToString(blob),
	})
	if err != nil {
		return nil, types.EngineError(fmt.Sprintf("marshal synthesis request: %v", err))
	}

	audio, err := e.post(ctx, "/synthesize", "application/json", body)
	if err != nil {
		return nil, err
	}
	return audio, nil
}

func (e *upstreamEngine) ExtractVoice(ctx context.Context, audio []byte, params ExtractParams) (types.VoiceInfo, error) {
	if !e.loaded.Load() {
		return types.VoiceInfo{}, types.ModelNotLoaded(e.engine)
	}

	blob, err := e.post(ctx, "/extract_voice", "application/octet-stream", audio)
	if err != nil {
		return types.VoiceInfo{}, err
	}

	name := params.VoiceName
	if name == "" {
		name = params.VoiceID
	}
	info := types.VoiceInfo{
		VoiceID:   params.VoiceID,
		Name:      name,
		Engine:    string(e.engine),
		CreatedAt: types.Now(),
	}
	if err := e.store.Save(info, blob); err != nil {
		return types.VoiceInfo{}, err
	}
	return info, nil
}

// post sends body to the upstream and returns the raw response bytes,
// mapping failures to engine errors.
func (e *upstreamEngine) post(ctx context.Context, path, contentType string, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.url+path, bytes.NewReader(body))
	if err != nil {
		return nil, types.EngineError(fmt.Sprintf("build request: %v", err))
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := e.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, types.RequestTimeout(fmt.Sprintf("%s model service: %v", e.engine, ctx.Err()))
		}
		return nil, types.EngineError(fmt.Sprintf("%s model service: %v", e.engine, err))
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, types.EngineError(fmt.Sprintf("read model service response: %v", err))
	}
	if resp.StatusCode != http.StatusOK {
		return nil, types.EngineError(fmt.Sprintf("%s model service error: %s", e.engine, strings.TrimSpace(string(data))))
	}
	return data, nil
}
