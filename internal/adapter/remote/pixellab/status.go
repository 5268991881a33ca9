package pixellab

import (
	"encoding/json"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/fairyhunter13/sprite-forge/internal/domain"
)

const defaultPollRetryAfter = 5 * time.Second

// progressRe pulls the first integer ahead of "%" or "percent" out of a
// free-form progress message.
var progressRe = regexp.MustCompile(`(\d+)\s*(?:%|percent)`)

// statusBody is the loose shape the remote returns alongside non-200 poll
// responses. detail is either a string or a list of {loc,msg,type} items.
type statusBody struct {
	Message string          `json:"message"`
	Detail  json.RawMessage `json:"detail"`
}

type detailItem struct {
	Loc  []any  `json:"loc"`
	Msg  string `json:"msg"`
	Type string `json:"type"`
}

// artifactBody mirrors the remote's completed-character document.
type artifactBody struct {
	CharacterID    string            `json:"character_id"`
	Name           string            `json:"name"`
	Rotations      []domain.Rotation `json:"rotations"`
	DownloadURL    string            `json:"download_url"`
	Specifications map[string]any    `json:"specifications"`
	Style          map[string]any    `json:"style"`
}

// ParseStatus turns a raw poll response into a RemoteJobStatus. 200 maps to
// Completed with the decoded artifact, 423 to Processing with the Retry-After
// hint and an optional progress figure, and everything else to Failed with the
// best message the body offers.
func ParseStatus(statusCode int, header http.Header, body []byte) domain.RemoteJobStatus {
	switch statusCode {
	case http.StatusOK:
		var ab artifactBody
		// A body we cannot decode still counts as completed; the worker
		// rejects empty artifacts downstream.
		_ = json.Unmarshal(body, &ab)
		return domain.RemoteJobStatus{
			State: domain.PollCompleted,
			Artifact: &domain.Artifact{
				RemoteJobID:    ab.CharacterID,
				Name:           ab.Name,
				Rotations:      ab.Rotations,
				DownloadURL:    ab.DownloadURL,
				Specifications: ab.Specifications,
				Style:          ab.Style,
			},
		}
	case http.StatusLocked:
		return domain.RemoteJobStatus{
			State:      domain.PollProcessing,
			RetryAfter: parseRetryAfter(header.Get("Retry-After")),
			Progress:   parseProgress(body),
		}
	default:
		return domain.RemoteJobStatus{
			State:   domain.PollFailed,
			Message: failureMessage(body),
		}
	}
}

// parseRetryAfter accepts positive integer seconds; anything else falls back
// to the default.
func parseRetryAfter(raw string) time.Duration {
	s, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || s <= 0 {
		return defaultPollRetryAfter
	}
	return time.Duration(s) * time.Second
}

// parseProgress returns the hinted percentage from body.message or
// body.detail, or -1 when the remote gave none.
func parseProgress(body []byte) int {
	var sb statusBody
	if err := json.Unmarshal(body, &sb); err != nil {
		return -1
	}
	for _, text := range []string{sb.Message, detailString(sb.Detail)} {
		if m := progressRe.FindStringSubmatch(text); m != nil {
			if p, err := strconv.Atoi(m[1]); err == nil {
				return p
			}
		}
	}
	return -1
}

// failureMessage extracts a human-readable reason from an error body.
func failureMessage(body []byte) string {
	var sb statusBody
	if err := json.Unmarshal(body, &sb); err == nil {
		if msg := detailString(sb.Detail); msg != "" {
			return msg
		}
		if sb.Message != "" {
			return sb.Message
		}
	}
	return "Unknown error"
}

// detailString flattens the string-or-list forms of a detail field.
func detailString(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var items []detailItem
	if err := json.Unmarshal(raw, &items); err == nil {
		msgs := make([]string, 0, len(items))
		for _, it := range items {
			if it.Msg != "" {
				msgs = append(msgs, it.Msg)
			}
		}
		return strings.Join(msgs, "; ")
	}
	return ""
}
