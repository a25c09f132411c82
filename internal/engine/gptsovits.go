package engine

import (
	"bytes"
	"context"
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

// DefaultGPTSoVITSURL is the default address of the GPT-SoVITS api_v2
// server.
const DefaultGPTSoVITSURL = "http://127.0.0.1:9880"

// gptSoVITS proxies the GPT-SoVITS api_v2 server. The model service keeps
// its own weights; extraction just stores the reference audio plus its
// transcript, and synthesis posts to the native /tts endpoint.
type gptSoVITS struct {
	url    string
	store  *voicestore.Store
	client *http.Client
	loaded atomic.Bool
	logger *zap.Logger
}

// NewGPTSoVITS creates the GPT-SoVITS adapter.
func NewGPTSoVITS(url string, store *voicestore.Store, logger *zap.Logger) Engine {
	if url == "" {
		url = DefaultGPTSoVITSURL
	}
	return &gptSoVITS{
		url:    strings.TrimRight(url, "/"),
		store:  store,
		client: &http.Client{Timeout: 120 * time.Second},
		logger: logger.Named("gpt-sovits"),
	}
}

func (e *gptSoVITS) Type() types.Engine { return types.EngineGPTSoVITS }

// Load checks that the api_v2 server answers. The root path of that
// server returns 404, so /docs is probed instead.
func (e *gptSoVITS) Load(ctx context.Context) error {
	e.logger.Info("connecting to gpt-sovits api", zap.String("url", e.url))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.url+"/docs", nil)
	if err != nil {
		return types.EngineError(fmt.Sprintf("build probe request: %v", err))
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return types.EngineError(fmt.Sprintf("cannot connect to gpt-sovits api at %s: %v", e.url, err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return types.EngineError(fmt.Sprintf("gpt-sovits api returned status %d", resp.StatusCode))
	}

	e.loaded.Store(true)
	e.logger.Info("gpt-sovits api connected")
	return nil
}

func (e *gptSoVITS) Unload(ctx context.Context) error {
	e.loaded.Store(false)
	e.logger.Info("gpt-sovits api detached")
	return nil
}

// ttsRequest is the api_v2 /tts body.
type ttsRequest struct {
	Text         string  `json:"text"`
	TextLang     string  `json:"text_lang"`
	RefAudioPath string  `json:"ref_audio_path"`
	PromptText   string  `json:"prompt_text"`
	PromptLang   string  `json:"prompt_lang"`
	Speed        float64 `json:"speed"`
}

func (e *gptSoVITS) Synthesize(ctx context.Context, req types.SynthesizeRequest) ([]byte, error) {
	if !e.loaded.Load() {
		return nil, types.ModelNotLoaded(types.EngineGPTSoVITS)
	}

	info, err := e.store.Info(req.VoiceID)
	if err != nil {
		return nil, err
	}
	refPath, err := e.store.BlobPath(req.VoiceID)
	if err != nil {
		return nil, err
	}

	promptLang := info.PromptLang
	if promptLang == "" {
		promptLang = "zh"
	}
	body, err := json.Marshal(ttsRequest{
		Text:         req.Text,
		TextLang:     mapLanguage(req.Language),
		RefAudioPath: refPath,
		PromptText:   info.PromptText,
		PromptLang:   promptLang,
		Speed:        req.Speed,
	})
	if err != nil {
		return nil, types.EngineError(fmt.Sprintf("marshal tts request: %v", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, e.url+"/tts", bytes.NewReader(body))
	if err != nil {
		return nil, types.EngineError(fmt.Sprintf("build tts request: %v", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, types.RequestTimeout(fmt.Sprintf("gpt-sovits api: %v", ctx.Err()))
		}
		return nil, types.EngineError(fmt.Sprintf("gpt-sovits api: %v", err))
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, types.EngineError(fmt.Sprintf("read gpt-sovits response: %v", err))
	}
	if resp.StatusCode != http.StatusOK {
		return nil, types.EngineError(fmt.Sprintf("gpt-sovits api error: %s", strings.TrimSpace(string(data))))
	}
	return data, nil
}

// ExtractVoice stores the reference audio as the voice blob together with
// its transcript. No upstream call is needed — the model reads the
// reference at synthesis time.
func (e *gptSoVITS) ExtractVoice(ctx context.Context, audio []byte, params ExtractParams) (types.VoiceInfo, error) {
	name := params.VoiceName
	if name == "" {
		name = params.VoiceID
	}
	promptLang := params.PromptLang
	if promptLang == "" {
		promptLang = "zh"
	}

	info := types.VoiceInfo{
		VoiceID:    params.VoiceID,
		Name:       name,
		Engine:     string(types.EngineGPTSoVITS),
		CreatedAt:  types.Now(),
		PromptText: params.PromptText,
		PromptLang: promptLang,
	}
	if err := e.store.Save(info, audio); err != nil {
		return types.VoiceInfo{}, err
	}
	return info, nil
}

// mapLanguage converts common language tags to the codes the gpt-sovits
// api understands. Unknown tags fall back to zh.
func mapLanguage(language string) string {
	switch strings.ToLower(language) {
	case "zh", "zh-cn", "zh-tw":
		return "zh"
	case "en", "en-us", "en-gb":
		return "en"
	case "ja", "jp":
		return "ja"
	case "ko", "kr":
		return "ko"
	case "yue":
		return "yue"
	case "auto":
		return "auto"
	default:
		return "zh"
	}
}
