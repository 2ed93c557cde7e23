package resilience

import (
	"context"

	"github.com/MrWong99/lingolens/pkg/provider/ocr"
	"github.com/MrWong99/lingolens/pkg/provider/stt"
	"github.com/MrWong99/lingolens/pkg/provider/translate"
)

var (
	_ stt.Recognizer       = (*RecognizerFallback)(nil)
	_ translate.Translator = (*TranslatorFallback)(nil)
	_ ocr.Detector         = (*DetectorFallback)(nil)
)

// ── Speech-to-text ─────────────────────────────────────────────────────────

// RecognizerFallback is an [stt.Recognizer] backed by a [Group].
type RecognizerFallback struct {
	*Group[stt.Recognizer]
}

// NewRecognizerFallback guards primary with a breaker. Further backends are
// added with [Group.Add].
func NewRecognizerFallback(name string, primary stt.Recognizer, opts ...BreakerOption) *RecognizerFallback {
	return &RecognizerFallback{NewGroup("stt", name, primary, opts...)}
}

func (f *RecognizerFallback) Recognize(ctx context.Context, wav []byte, language string) (string, error) {
	return Call(ctx, f.Group, func(ctx context.Context, r stt.Recognizer) (string, error) {
		return r.Recognize(ctx, wav, language)
	})
}

// ── Translation ────────────────────────────────────────────────────────────

// TranslatorFallback is a [translate.Translator] backed by a [Group].
type TranslatorFallback struct {
	*Group[translate.Translator]
}

func NewTranslatorFallback(name string, primary translate.Translator, opts ...BreakerOption) *TranslatorFallback {
	return &TranslatorFallback{NewGroup("translate", name, primary, opts...)}
}

func (f *TranslatorFallback) Translate(ctx context.Context, sourceLang, targetLang, text string) (string, error) {
	return Call(ctx, f.Group, func(ctx context.Context, t translate.Translator) (string, error) {
		return t.Translate(ctx, sourceLang, targetLang, text)
	})
}

// ── Text detection ─────────────────────────────────────────────────────────

// DetectorFallback is an [ocr.Detector] backed by a [Group].
type DetectorFallback struct {
	*Group[ocr.Detector]
}

func NewDetectorFallback(name string, primary ocr.Detector, opts ...BreakerOption) *DetectorFallback {
	return &DetectorFallback{NewGroup("ocr", name, primary, opts...)}
}

func (f *DetectorFallback) DetectText(ctx context.Context, img []byte, language string) ([]ocr.Detection, error) {
	return Call(ctx, f.Group, func(ctx context.Context, d ocr.Detector) ([]ocr.Detection, error) {
		return d.DetectText(ctx, img, language)
	})
}
