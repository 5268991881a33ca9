package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
)

// SpriteSize is the pixel dimensions of the requested sprite.
type SpriteSize struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// StructuredPrompt is the validated input to a generation job. Type, Style,
// Size, and Description are required; Options may only carry recognized keys.
type StructuredPrompt struct {
	Type        string         `json:"type"`
	Style       string         `json:"style"`
	Size        SpriteSize     `json:"size"`
	Description string         `json:"description"`
	Action      string         `json:"action,omitempty"`
	Raw         string         `json:"raw,omitempty"`
	Options     map[string]any `json:"options,omitempty"`
}

// recognizedOptions are the prompt option keys accepted at admission. They
// mirror the remote API's payload fields (camelCase at this boundary; the
// remote client converts to snake_case on the wire).
var recognizedOptions = map[string]struct{}{
	"detail":            {},
	"shading":           {},
	"outline":           {},
	"view":              {},
	"nDirections":       {},
	"aiFreedom":         {},
	"textGuidanceScale": {},
	"initImage":         {},
}

// Validate enforces the structural rules for prompts. It returns a
// ClassifiedError of kind validation_error on any violation.
func (p StructuredPrompt) Validate() error {
	var problems []string
	if strings.TrimSpace(p.Type) == "" {
		problems = append(problems, "type is required")
	}
	if strings.TrimSpace(p.Style) == "" {
		problems = append(problems, "style is required")
	}
	if strings.TrimSpace(p.Description) == "" {
		problems = append(problems, "description is required")
	}
	if p.Size.Width <= 0 {
		problems = append(problems, "size.width must be a positive integer")
	}
	if p.Size.Height <= 0 {
		problems = append(problems, "size.height must be a positive integer")
	}
	for k := range p.Options {
		if _, ok := recognizedOptions[k]; !ok {
			problems = append(problems, fmt.Sprintf("unrecognized option %q", k))
		}
	}
	if len(problems) > 0 {
		return NewClassifiedError(KindValidation, false, "invalid prompt: "+strings.Join(problems, "; "))
	}
	return nil
}

// Fingerprint is the SHA-256 hex digest over the canonical serialization of
// the prompt. Prompts that are canonically equal produce the same digest
// regardless of map ordering or incidental whitespace.
func (p StructuredPrompt) FingerprintHex() (string, error) {
	canon, err := canonicalJSON(p)
	if err != nil {
		return "", fmt.Errorf("op=prompt.fingerprint: %w", err)
	}
	sum := sha256.Sum256(canon)
	return hex.EncodeToString(sum[:]), nil
}

// canonicalJSON produces a stable byte form: the value is round-tripped
// through an untyped decode so structs and maps alike serialize with sorted
// keys and normalized number formatting, then re-encoded without whitespace.
func canonicalJSON(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var untyped any
	if err := json.Unmarshal(raw, &untyped); err != nil {
		return nil, err
	}
	// encoding/json sorts map keys during Marshal, which gives us the
	// recursive key ordering the fingerprint relies on.
	return json.Marshal(untyped)
}
