package voicestore

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap"

	"github.com/voicegrid/voicegrid/internal/types"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(t.TempDir(), zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestSaveLoadRoundTrip(t *testing.T) {
	s := newTestStore(t)

	info := types.VoiceInfo{VoiceID: "ab12cd34", Name: "narrator", Engine: "xtts", CreatedAt: types.Now()}
	blob := []byte("reference-audio-bytes")

	if err := s.Save(info, blob); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, gotBlob, err := s.Load("ab12cd34")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.Name != "narrator" || got.Engine != "xtts" {
		t.Errorf("metadata = %+v", got)
	}
	if !bytes.Equal(gotBlob, blob) {
		t.Errorf("blob = %q, want %q", gotBlob, blob)
	}
}

func TestLoadMissingVoice(t *testing.T) {
	s := newTestStore(t)

	_, _, err := s.Load("nope")
	var derr *types.Error
	if !errors.As(err, &derr) || derr.Code != types.CodeVoiceNotFound {
		t.Errorf("err = %v, want code %s", err, types.CodeVoiceNotFound)
	}
}

func TestTraversalIDsRejected(t *testing.T) {
	s := newTestStore(t)

	outside := filepath.Join(t.TempDir(), "escape")
	rel, err := filepath.Rel(s.root, outside)
	if err != nil {
		t.Fatal(err)
	}

	bad := []string{rel, "../escape", "..", ".", "", "a/b", `a\b`}
	for _, id := range bad {
		var derr *types.Error
		err := s.Save(types.VoiceInfo{VoiceID: id, Name: "x", Engine: "xtts"}, []byte("x"))
		if !errors.As(err, &derr) || derr.Code != types.CodeInvalidRequest {
			t.Errorf("Save(%q) = %v, want INVALID_REQUEST", id, err)
		}
		if _, _, err := s.Load(id); !errors.As(err, &derr) || derr.Code != types.CodeInvalidRequest {
			t.Errorf("Load(%q) = %v, want INVALID_REQUEST", id, err)
		}
		if err := s.Delete(id); !errors.As(err, &derr) || derr.Code != types.CodeInvalidRequest {
			t.Errorf("Delete(%q) = %v, want INVALID_REQUEST", id, err)
		}
		if _, err := s.BlobPath(id); !errors.As(err, &derr) || derr.Code != types.CodeInvalidRequest {
			t.Errorf("BlobPath(%q) = %v, want INVALID_REQUEST", id, err)
		}
	}

	// Nothing may have been written outside the store root.
	if _, err := os.Stat(outside); !os.IsNotExist(err) {
		t.Errorf("file created outside store root: %v", err)
	}
}

func TestListNewestFirst(t *testing.T) {
	s := newTestStore(t)

	old := types.VoiceInfo{VoiceID: "old", Name: "old", Engine: "xtts", CreatedAt: 100}
	recent := types.VoiceInfo{VoiceID: "new", Name: "new", Engine: "xtts", CreatedAt: 200}
	if err := s.Save(old, []byte("a")); err != nil {
		t.Fatal(err)
	}
	if err := s.Save(recent, []byte("b")); err != nil {
		t.Fatal(err)
	}

	voices, err := s.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(voices) != 2 {
		t.Fatalf("len = %d, want 2", len(voices))
	}
	if voices[0].VoiceID != "new" || voices[1].VoiceID != "old" {
		t.Errorf("order = %s, %s; want new, old", voices[0].VoiceID, voices[1].VoiceID)
	}
}

func TestDelete(t *testing.T) {
	s := newTestStore(t)

	info := types.VoiceInfo{VoiceID: "v1", Name: "v", Engine: "openvoice", CreatedAt: types.Now()}
	if err := s.Save(info, []byte("x")); err != nil {
		t.Fatal(err)
	}
	if err := s.Delete("v1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	var derr *types.Error
	if _, err := s.Info("v1"); !errors.As(err, &derr) || derr.Code != types.CodeVoiceNotFound {
		t.Errorf("Info after delete = %v, want VOICE_NOT_FOUND", err)
	}
	if err := s.Delete("v1"); !errors.As(err, &derr) || derr.Code != types.CodeVoiceNotFound {
		t.Errorf("second Delete = %v, want VOICE_NOT_FOUND", err)
	}
}
