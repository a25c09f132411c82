package engine

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"

	"github.com/voicegrid/voicegrid/internal/types"
	"github.com/voicegrid/voicegrid/internal/voicestore"
)

func newTestStore(t *testing.T) *voicestore.Store {
	t.Helper()
	s, err := voicestore.New(t.TempDir(), zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	return s
}

// fakeModelService implements the uniform upstream contract.
func fakeModelService(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/extract_voice", func(w http.ResponseWriter, r *http.Request) {
		audio, _ := io.ReadAll(r.Body)
		w.Write(append([]byte("embedding:"), audio...))
	})
	mux.HandleFunc("/synthesize", func(w http.ResponseWriter, r *http.Request) {
		var req synthesizeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if req.Voice == "" {
			http.Error(w, "missing voice", http.StatusBadRequest)
			return
		}
		w.Write([]byte("wav:" + req.Text))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestUpstreamRequiresLoad(t *testing.T) {
	srv := fakeModelService(t)
	e := NewXTTS(srv.URL, newTestStore(t), zap.NewNop())

	_, err := e.Synthesize(context.Background(), types.SynthesizeRequest{Text: "hi", VoiceID: "v"})
	var derr *types.Error
	if !errors.As(err, &derr) || derr.Code != types.CodeModelNotLoaded {
		t.Errorf("err = %v, want MODEL_NOT_LOADED", err)
	}
}

func TestUpstreamLoadFailsWhenServiceDown(t *testing.T) {
	srv := fakeModelService(t)
	url := srv.URL
	srv.Close()

	e := NewXTTS(url, newTestStore(t), zap.NewNop())
	err := e.Load(context.Background())
	var derr *types.Error
	if !errors.As(err, &derr) || derr.Code != types.CodeEngineError {
		t.Errorf("Load err = %v, want ENGINE_ERROR", err)
	}
}

func TestUpstreamExtractThenSynthesize(t *testing.T) {
	srv := fakeModelService(t)
	store := newTestStore(t)
	e := NewOpenVoice(srv.URL, store, zap.NewNop())

	ctx := context.Background()
	if err := e.Load(ctx); err != nil {
		t.Fatalf("Load: %v", err)
	}

	info, err := e.ExtractVoice(ctx, []byte("ref-audio"), ExtractParams{VoiceID: "v1", VoiceName: "demo"})
	if err != nil {
		t.Fatalf("ExtractVoice: %v", err)
	}
	if info.Engine != "openvoice" || info.Name != "demo" {
		t.Errorf("info = %+v", info)
	}

	// The stored blob is what the model service returned.
	_, blob, err := store.Load("v1")
	if err != nil {
		t.Fatal(err)
	}
	if string(blob) != "embedding:ref-audio" {
		t.Errorf("blob = %q", blob)
	}

	req := types.SynthesizeRequest{Text: "hello", VoiceID: "v1"}
	req.Normalize()
	audio, err := e.Synthesize(ctx, req)
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if string(audio) != "wav:hello" {
		t.Errorf("audio = %q", audio)
	}
}

func TestUpstreamSynthesizeUnknownVoice(t *testing.T) {
	srv := fakeModelService(t)
	e := NewXTTS(srv.URL, newTestStore(t), zap.NewNop())
	if err := e.Load(context.Background()); err != nil {
		t.Fatal(err)
	}

	_, err := e.Synthesize(context.Background(), types.SynthesizeRequest{Text: "hi", VoiceID: "ghost"})
	var derr *types.Error
	if !errors.As(err, &derr) || derr.Code != types.CodeVoiceNotFound {
		t.Errorf("err = %v, want VOICE_NOT_FOUND", err)
	}
}

func TestUpstreamSendsVoiceBlobBase64(t *testing.T) {
	var got synthesizeRequest
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {})
	mux.HandleFunc("/synthesize", func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&got)
		w.Write([]byte("ok"))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	store := newTestStore(t)
	if err := store.Save(types.VoiceInfo{VoiceID: "v1", Name: "v", Engine: "xtts", CreatedAt: 1}, []byte("blob")); err != nil {
		t.Fatal(err)
	}

	e := NewXTTS(srv.URL, store, zap.NewNop())
	if err := e.Load(context.Background()); err != nil {
		t.Fatal(err)
	}

	req := types.SynthesizeRequest{Text: "hi", VoiceID: "v1", Language: "en", Speed: 1.2, Pitch: 0.9}
	if _, err := e.Synthesize(context.Background(), req); err != nil {
		t.Fatal(err)
	}

	if got.Voice != base64.StdEncoding.EncodeToString([]byte("blob")) {
		t.Errorf("voice = %q, want base64 of blob", got.Voice)
	}
	if got.Language != "en" || got.Speed != 1.2 || got.Pitch != 0.9 {
		t.Errorf("params = %+v", got)
	}
}

func TestGPTSoVITSExtractStoresReferenceLocally(t *testing.T) {
	store := newTestStore(t)
	// No upstream at all: extraction must not need one.
	e := NewGPTSoVITS("http://127.0.0.1:1", store, zap.NewNop())

	info, err := e.ExtractVoice(context.Background(), []byte("ref-wav"), ExtractParams{
		VoiceID:    "gs1",
		PromptText: "你好世界",
		PromptLang: "zh",
	})
	if err != nil {
		t.Fatalf("ExtractVoice: %v", err)
	}
	if info.Name != "gs1" {
		t.Errorf("Name = %q, want voice id fallback", info.Name)
	}
	if info.PromptText != "你好世界" {
		t.Errorf("PromptText = %q", info.PromptText)
	}

	_, blob, err := store.Load("gs1")
	if err != nil {
		t.Fatal(err)
	}
	if string(blob) != "ref-wav" {
		t.Errorf("blob = %q, want reference audio", blob)
	}
}

func TestGPTSoVITSSynthesizePostsNativeAPI(t *testing.T) {
	var got ttsRequest
	mux := http.NewServeMux()
	mux.HandleFunc("/docs", func(w http.ResponseWriter, r *http.Request) {})
	mux.HandleFunc("/tts", func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&got)
		w.Write([]byte("wav-bytes"))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	store := newTestStore(t)
	e := NewGPTSoVITS(srv.URL, store, zap.NewNop())

	ctx := context.Background()
	if _, err := e.ExtractVoice(ctx, []byte("ref"), ExtractParams{VoiceID: "gs1", PromptText: "prompt"}); err != nil {
		t.Fatal(err)
	}
	if err := e.Load(ctx); err != nil {
		t.Fatalf("Load: %v", err)
	}

	req := types.SynthesizeRequest{Text: "hello", VoiceID: "gs1", Language: "jp", Speed: 1.1}
	audio, err := e.Synthesize(ctx, req)
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if string(audio) != "wav-bytes" {
		t.Errorf("audio = %q", audio)
	}
	if got.TextLang != "ja" {
		t.Errorf("text_lang = %q, want ja (mapped from jp)", got.TextLang)
	}
	if got.PromptText != "prompt" || got.PromptLang != "zh" {
		t.Errorf("prompt = %q/%q", got.PromptText, got.PromptLang)
	}
	if got.RefAudioPath == "" {
		t.Error("ref_audio_path empty")
	}
}

func TestMapLanguage(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"zh-cn", "zh"},
		{"ZH-TW", "zh"},
		{"en-us", "en"},
		{"jp", "ja"},
		{"kr", "ko"},
		{"yue", "yue"},
		{"auto", "auto"},
		{"fr", "zh"}, // unknown falls back
	}
	for _, tt := range tests {
		if got := mapLanguage(tt.in); got != tt.want {
			t.Errorf("mapLanguage(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
