package domain

import (
	"errors"
	"testing"
)

func validPrompt() StructuredPrompt {
	return StructuredPrompt{
		Type:        "character",
		Style:       "pixel-art",
		Size:        SpriteSize{Width: 48, Height: 48},
		Description: "wizard",
	}
}

func TestPromptValidate(t *testing.T) {
	if err := validPrompt().Validate(); err != nil {
		t.Fatalf("valid prompt rejected: %v", err)
	}

	bad := []StructuredPrompt{
		{Style: "pixel-art", Size: SpriteSize{48, 48}, Description: "x"},
		{Type: "character", Size: SpriteSize{48, 48}, Description: "x"},
		{Type: "character", Style: "pixel-art", Size: SpriteSize{48, 48}},
		{Type: "character", Style: "pixel-art", Size: SpriteSize{0, 48}, Description: "x"},
		{Type: "character", Style: "pixel-art", Size: SpriteSize{48, -1}, Description: "x"},
		{Type: "  ", Style: "pixel-art", Size: SpriteSize{48, 48}, Description: "x"},
	}
	for i, p := range bad {
		err := p.Validate()
		if err == nil {
			t.Fatalf("case %d: invalid prompt accepted", i)
		}
		var cerr *ClassifiedError
		if !errors.As(err, &cerr) || cerr.Kind != KindValidation {
			t.Fatalf("case %d: want validation_error, got %v", i, err)
		}
	}
}

func TestPromptValidate_UnrecognizedOption(t *testing.T) {
	p := validPrompt()
	p.Options = map[string]any{"detail": "high detail", "bogus": 1}
	if err := p.Validate(); err == nil {
		t.Fatalf("unrecognized option accepted")
	}
	p.Options = map[string]any{"detail": "high detail", "nDirections": 4}
	if err := p.Validate(); err != nil {
		t.Fatalf("recognized options rejected: %v", err)
	}
}

func TestFingerprint_StableAcrossEquivalentPrompts(t *testing.T) {
	p1 := validPrompt()
	p1.Options = map[string]any{"detail": "high", "shading": "soft"}
	p2 := validPrompt()
	p2.Options = map[string]any{"shading": "soft", "detail": "high"}

	fp1, err := p1.FingerprintHex()
	if err != nil {
		t.Fatalf("fingerprint: %v", err)
	}
	fp2, err := p2.FingerprintHex()
	if err != nil {
		t.Fatalf("fingerprint: %v", err)
	}
	if fp1 != fp2 {
		t.Fatalf("canonically equal prompts produced different fingerprints")
	}
	if len(fp1) != 64 {
		t.Fatalf("fingerprint length = %d, want 64 hex chars", len(fp1))
	}
}

func TestFingerprint_ChangesWithRequiredFields(t *testing.T) {
	base, _ := validPrompt().FingerprintHex()

	mutations := []func(*StructuredPrompt){
		func(p *StructuredPrompt) { p.Description = "knight" },
		func(p *StructuredPrompt) { p.Style = "watercolor" },
		func(p *StructuredPrompt) { p.Type = "item" },
		func(p *StructuredPrompt) { p.Size.Width = 64 },
		func(p *StructuredPrompt) { p.Size.Height = 32 },
	}
	for i, mutate := range mutations {
		p := validPrompt()
		mutate(&p)
		fp, err := p.FingerprintHex()
		if err != nil {
			t.Fatalf("case %d: %v", i, err)
		}
		if fp == base {
			t.Fatalf("case %d: changed field did not change the fingerprint", i)
		}
	}
}
