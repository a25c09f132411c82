package types

import (
	"errors"
	"strings"
	"testing"
)

func validRequest() SynthesizeRequest {
	r := SynthesizeRequest{Text: "hello", VoiceID: "v1"}
	r.Normalize()
	return r
}

func TestSynthesizeRequestValidate(t *testing.T) {
	tests := []struct {
		name  string
		tweak func(*SynthesizeRequest)
		ok    bool
	}{
		{"defaults", func(r *SynthesizeRequest) {}, true},
		{"empty text", func(r *SynthesizeRequest) { r.Text = "" }, false},
		{"missing voice_id", func(r *SynthesizeRequest) { r.VoiceID = "" }, false},
		{"speed below range", func(r *SynthesizeRequest) { r.Speed = 0.49 }, false},
		{"speed lower bound", func(r *SynthesizeRequest) { r.Speed = 0.5 }, true},
		{"speed upper bound", func(r *SynthesizeRequest) { r.Speed = 2.0 }, true},
		{"speed above range", func(r *SynthesizeRequest) { r.Speed = 2.01 }, false},
		{"pitch below range", func(r *SynthesizeRequest) { r.Pitch = 0.49 }, false},
		{"pitch lower bound", func(r *SynthesizeRequest) { r.Pitch = 0.5 }, true},
		{"unknown engine", func(r *SynthesizeRequest) { r.Engine = "espeak" }, false},
		{"known engine", func(r *SynthesizeRequest) { r.Engine = EngineXTTS }, true},
		{"text at rune limit", func(r *SynthesizeRequest) { r.Text = strings.Repeat("a", 5000) }, true},
		{"text over rune limit", func(r *SynthesizeRequest) { r.Text = strings.Repeat("a", 5001) }, false},
		// 3000 CJK characters is 9000 bytes but well under the limit.
		{"multi-byte text under limit", func(r *SynthesizeRequest) { r.Text = strings.Repeat("你", 3000) }, true},
		{"multi-byte text at limit", func(r *SynthesizeRequest) { r.Text = strings.Repeat("你", 5000) }, true},
		{"multi-byte text over limit", func(r *SynthesizeRequest) { r.Text = strings.Repeat("你", 5001) }, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := validRequest()
			tc.tweak(&req)
			err := req.Validate()
			if tc.ok && err != nil {
				t.Errorf("Validate() = %v, want nil", err)
			}
			if !tc.ok {
				var derr *Error
				if !errors.As(err, &derr) || derr.Code != CodeInvalidRequest {
					t.Errorf("Validate() = %v, want INVALID_REQUEST", err)
				}
			}
		})
	}
}
