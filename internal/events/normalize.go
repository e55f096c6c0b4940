package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"visitlens/internal/pkg/referrers"
	"visitlens/internal/pkg/user_agent"
)

var (
	ErrEmptyBatch    = errors.New("no events provided")
	ErrBatchTooLarge = fmt.Errorf("batch too large: maximum %d events", MaxBatchSize)
	ErrInvalidEvent  = errors.New("invalid event")
)

// Batch is a validated batch with its batch-level attributes resolved.
type Batch struct {
	Device           string
	Browser          string
	ReferrerCategory string
	UTM              UTM
	Events           []NormalizedEvent
}

// NormalizedEvent is a RawEvent with a cleaned path and encoded metadata.
type NormalizedEvent struct {
	RawEvent
	Path         string
	MetadataJSON string
}

// PageViews counts the page_view events in the batch.
func (b *Batch) PageViews() int {
	n := 0
	for _, e := range b.Events {
		if e.EventType == string(EventTypePageView) {
			n++
		}
	}
	return n
}

// ValidateBatch enforces the batch size limits.
func ValidateBatch(raw []RawEvent) error {
	switch {
	case len(raw) == 0:
		return ErrEmptyBatch
	case len(raw) > MaxBatchSize:
		return ErrBatchTooLarge
	}
	return nil
}

// Normalize validates the batch and classifies it. Device, browser, referrer
// category and UTM attribution are resolved once per batch: the user agent
// comes from the request (falling back to the first event), the referrer and
// landing path from the first event.
func Normalize(raw []RawEvent, requestUserAgent string) (*Batch, error) {
	if err := ValidateBatch(raw); err != nil {
		return nil, err
	}

	out := make([]NormalizedEvent, 0, len(raw))
	for i, e := range raw {
		e.EventType = strings.TrimSpace(e.EventType)
		if e.EventType == "" {
			return nil, fmt.Errorf("%w: event %d has no event_type", ErrInvalidEvent, i)
		}
		meta, err := encodeMetadata(e.Metadata)
		if err != nil {
			return nil, fmt.Errorf("%w: event %d metadata: %v", ErrInvalidEvent, i, err)
		}
		out = append(out, NormalizedEvent{RawEvent: e, Path: CleanPath(e.PagePath), MetadataJSON: meta})
	}

	ua := requestUserAgent
	if ua == "" {
		ua = raw[0].UserAgent
	}
	parsed := user_agent.ParseUserAgent(ua)

	return &Batch{
		Device:           parsed.Device,
		Browser:          parsed.Browser,
		ReferrerCategory: referrers.Categorize(raw[0].Referrer),
		UTM:              ParseUTM(raw[0].PagePath),
		Events:           out,
	}, nil
}

// ParseUTM extracts utm_* parameters from a page path or URL.
func ParseUTM(path string) UTM {
	u, err := url.Parse(strings.TrimSpace(path))
	if err != nil {
		return UTM{}
	}
	q := u.Query()
	return UTM{
		Source:   q.Get("utm_source"),
		Medium:   q.Get("utm_medium"),
		Campaign: q.Get("utm_campaign"),
		Term:     q.Get("utm_term"),
		Content:  q.Get("utm_content"),
	}
}

// CleanPath drops the query string and fragment. Empty paths become "/".
func CleanPath(path string) string {
	p := strings.TrimSpace(path)
	if i := strings.IndexAny(p, "?#"); i != -1 {
		p = p[:i]
	}
	if u, err := url.Parse(p); err == nil && u.Host != "" {
		p = u.Path
	}
	if p == "" {
		return "/"
	}
	return p
}

func encodeMetadata(m map[string]any) (string, error) {
	if len(m) == 0 {
		return "", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
