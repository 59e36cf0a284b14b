package openai

import (
	"strings"
	"testing"
	"unicode/utf8"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/packages/param"
)

func oaiInput(text string) oai.EmbeddingNewParamsInputUnion {
	return oai.EmbeddingNewParamsInputUnion{OfString: param.NewOpt(text)}
}

func TestNewRejectsEmptyAPIKey(t *testing.T) {
	t.Parallel()

	if _, err := New("", "text-embedding-3-small"); err == nil {
		t.Fatal("expected error for empty API key")
	}
}

func TestNewDefaultsModel(t *testing.T) {
	t.Parallel()

	p, err := New("sk-test", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.ModelID() != DefaultModel {
		t.Fatalf("model = %q, want %q", p.ModelID(), DefaultModel)
	}
	if p.Dimensions() != 1536 {
		t.Fatalf("dimensions = %d, want the default model's 1536", p.Dimensions())
	}
}

func TestNewKnownModelDimensions(t *testing.T) {
	t.Parallel()

	cases := []struct {
		model string
		want  int
	}{
		{"text-embedding-3-small", 1536},
		{"text-embedding-3-large", 3072},
		{"text-embedding-ada-002", 1536},
		{"some-future-model", 1536},
	}
	for _, tc := range cases {
		p, err := New("sk-test", tc.model)
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", tc.model, err)
		}
		if got := p.Dimensions(); got != tc.want {
			t.Errorf("%s: dimensions = %d, want %d", tc.model, got, tc.want)
		}
	}
}

func TestNewDimensionsOverride(t *testing.T) {
	t.Parallel()

	p, err := New("sk-test", "text-embedding-3-large", WithDimensions(256))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Dimensions() != 256 {
		t.Fatalf("dimensions = %d, want the requested 256", p.Dimensions())
	}

	// The projection must reach the request parameters.
	params := p.params(oaiInput("hello"))
	if !params.Dimensions.Valid() || params.Dimensions.Value != 256 {
		t.Fatalf("request dimensions = %+v, want 256", params.Dimensions)
	}
}

func TestNewNativeWidthOmitsDimensionsParam(t *testing.T) {
	t.Parallel()

	p, err := New("sk-test", "text-embedding-3-small")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if params := p.params(oaiInput("hello")); params.Dimensions.Valid() {
		t.Fatal("native-width provider must not request a projection")
	}
}

func TestNewOptionsAccepted(t *testing.T) {
	t.Parallel()

	_, err := New("sk-test", "text-embedding-3-small",
		WithBaseURL("https://ollama.local/v1"),
		WithOrganization("org-123"),
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestClipBoundsLongTranscripts(t *testing.T) {
	t.Parallel()

	short := "a perfectly ordinary turn"
	if clip(short) != short {
		t.Fatal("short input must pass through untouched")
	}

	long := strings.Repeat("句", maxInputRunes+100)
	got := clip(long)
	if utf8.RuneCountInString(got) != maxInputRunes {
		t.Fatalf("clipped to %d runes, want %d", utf8.RuneCountInString(got), maxInputRunes)
	}
	if !utf8.ValidString(got) {
		t.Fatal("clip must cut on a rune boundary")
	}
}

func TestToFloat32(t *testing.T) {
	t.Parallel()

	out := toFloat32([]float64{1.0, 2.5, -0.5})
	want := []float32{1.0, 2.5, -0.5}
	if len(out) != len(want) {
		t.Fatalf("len = %d, want %d", len(out), len(want))
	}
	for i := range want {
		if out[i] != want[i] {
			t.Errorf("index %d = %v, want %v", i, out[i], want[i])
		}
	}
}
