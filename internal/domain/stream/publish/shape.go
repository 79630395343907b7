// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package publish

import (
	"encoding/json"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/ManuGH/framegate/internal/domain/stream/model"
	"github.com/ManuGH/framegate/internal/metrics"
	"golang.org/x/text/unicode/norm"
)

const (
	EventFrameAnalysed = "frame.analysed"
	ChannelPrefix      = "vision.streams."
	TruncationMarker   = "…"
)

// Defaults sized for a 10 KB transport message.
const (
	DefaultDescriptionChars = 400
	DefaultMaxTags          = 8
	DefaultMaxTagChars      = 64
	DefaultMaxBytes         = 10240
)

// minDescriptionChars is the floor when shrinking to fit the byte ceiling.
const minDescriptionChars = 32

// ErrPayloadTooLarge is returned when even the minimal payload exceeds the ceiling.
var ErrPayloadTooLarge = errors.New("payload exceeds transport ceiling")

// Limits bound the published payload.
type Limits struct {
	DescriptionChars int
	MaxTags          int
	MaxTagChars      int
	MaxBytes         int
}

func (l Limits) withDefaults() Limits {
	if l.DescriptionChars <= 0 {
		l.DescriptionChars = DefaultDescriptionChars
	}
	if l.MaxTags <= 0 {
		l.MaxTags = DefaultMaxTags
	}
	if l.MaxTagChars <= 0 {
		l.MaxTagChars = DefaultMaxTagChars
	}
	if l.MaxBytes <= 0 {
		l.MaxBytes = DefaultMaxBytes
	}
	return l
}

// Channel returns the broadcast channel of a session.
func Channel(sessionID string) string {
	return ChannelPrefix + sessionID
}

// Payload is the message subscribers receive. It never carries the raw model output.
type Payload struct {
	Event        string      `json:"event"`
	SessionID    string      `json:"session_id"`
	FrameID      string      `json:"frame_id"`
	FrameNumber  int64       `json:"frame_number"`
	Timestamp    time.Time   `json:"timestamp"`
	ProcessingMS int64       `json:"processing_ms"`
	Success      bool        `json:"success"`
	Model        string      `json:"model"`
	Result       *ResultView `json:"result,omitempty"`
}

// ResultView is the shaped analysis result.
type ResultView struct {
	Description string   `json:"description"`
	Truncated   bool     `json:"truncated"`
	Confidence  float64  `json:"confidence"`
	Tags        []string `json:"tags"`
}

// Shape builds the payload for a completed frame. It is deterministic in its inputs.
func Shape(frame *model.FrameRecord, res *model.AnalysisResult, at time.Time, lim Limits) Payload {
	lim = lim.withDefaults()
	p := Payload{
		Event:        EventFrameAnalysed,
		SessionID:    frame.SessionID,
		FrameID:      frame.ID,
		FrameNumber:  frame.FrameNumber,
		Timestamp:    at.UTC(),
		ProcessingMS: frame.ProcessingMS,
		Success:      res != nil,
		Model:        "unknown",
	}
	if res == nil {
		return p
	}
	if res.Model != "" {
		p.Model = res.Model
	}

	desc, truncated := truncate(res.Description, lim.DescriptionChars)
	if truncated {
		metrics.RecordTruncation("description")
	}
	tags := shapeTags(res.Tags, lim)
	if len(res.Tags) > lim.MaxTags {
		metrics.RecordTruncation("tags")
	}
	p.Result = &ResultView{
		Description: desc,
		Truncated:   truncated,
		Confidence:  res.Confidence,
		Tags:        tags,
	}
	return p
}

// Encode marshals p and shrinks it until it fits the byte ceiling:
// description first, then tags, finally the result is dropped.
func Encode(p Payload, lim Limits) ([]byte, error) {
	lim = lim.withDefaults()
	for {
		buf, err := json.Marshal(p)
		if err != nil {
			return nil, err
		}
		if len(buf) <= lim.MaxBytes {
			return buf, nil
		}
		metrics.RecordTruncation("payload")

		switch {
		case p.Result == nil:
			return nil, ErrPayloadTooLarge
		case utf8.RuneCountInString(p.Result.Description) > minDescriptionChars:
			r := *p.Result
			n := utf8.RuneCountInString(strings.TrimSuffix(r.Description, TruncationMarker)) / 2
			r.Description, _ = truncate(r.Description, n)
			r.Truncated = true
			p.Result = &r
		case len(p.Result.Tags) > 0:
			r := *p.Result
			r.Tags = r.Tags[:len(r.Tags)/2]
			p.Result = &r
		default:
			p.Result = nil
		}
	}
}

// truncate NFC-normalises s and cuts it to max runes plus the marker. The cut
// never splits a base character from its combining marks.
func truncate(s string, max int) (string, bool) {
	s = norm.NFC.String(s)
	if utf8.RuneCountInString(s) <= max {
		return s, false
	}

	cut := 0
	for i := 0; i < max; i++ {
		_, size := utf8.DecodeRuneInString(s[cut:])
		cut += size
	}
	// Back off to a segment start so a base character keeps its marks.
	end := cut
	for end > 0 && !norm.NFC.PropertiesString(s[end:]).BoundaryBefore() {
		_, size := utf8.DecodeLastRuneInString(s[:end])
		end -= size
	}
	if end > 0 {
		cut = end
	}
	head := s[:cut]
	return strings.TrimRightFunc(head, isSpace) + TruncationMarker, true
}

func shapeTags(in []string, lim Limits) []string {
	out := make([]string, 0, min(len(in), lim.MaxTags))
	for _, tag := range in {
		if len(out) == lim.MaxTags {
			break
		}
		tag = strings.TrimSpace(norm.NFC.String(tag))
		if tag == "" {
			continue
		}
		if utf8.RuneCountInString(tag) > lim.MaxTagChars {
			tag = string([]rune(tag)[:lim.MaxTagChars])
		}
		out = append(out, tag)
	}
	return out
}

func isSpace(r rune) bool {
	return r == ' ' || r == '\t' || r == '\n' || r == '\r'
}
