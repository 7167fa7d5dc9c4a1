package prompts

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
)

// Status is the moderation state of a prompt.
type Status string

const (
	// StatusApproved prompts are visible to everyone.
	StatusApproved Status = "approved"
	// StatusPending prompts wait in the moderation queue.
	StatusPending Status = "pending"
	// StatusRejected prompts are hidden from public listings.
	StatusRejected Status = "rejected"
)

const (
	keyPrefix           = "prompt:"
	maxIdentifierLength = 190
	maxRating           = 5
)

var (
	// ErrInvalidPromptID indicates that a prompt identifier is empty or exceeds storage bounds.
	ErrInvalidPromptID = errors.New("prompts: invalid prompt id")
	// ErrInvalidStatus indicates a status outside approved/pending/rejected.
	ErrInvalidStatus = errors.New("prompts: invalid status")
	// ErrInvalidRating indicates a rating outside 0-5.
	ErrInvalidRating = errors.New("prompts: invalid rating")
	// ErrInvalidLikes indicates a negative like counter.
	ErrInvalidLikes = errors.New("prompts: invalid likes")
)

// Valid reports whether s is one of the known moderation states.
func (s Status) Valid() bool {
	switch s {
	case StatusApproved, StatusPending, StatusRejected:
		return true
	default:
		return false
	}
}

// Prompt is the persisted gallery record. Its JSON form is the stored format.
type Prompt struct {
	ID         string   `json:"id"`
	Title      string   `json:"title"`
	Content    string   `json:"content"`
	Author     string   `json:"author"`
	Date       string   `json:"date"`
	Tags       []string `json:"tags"`
	Likes      int64    `json:"likes"`
	ImageURL   string   `json:"imageUrl,omitempty"`
	IsOfficial bool     `json:"isOfficial,omitempty"`
	Rating     int      `json:"rating,omitempty"`
	Status     Status   `json:"status,omitempty"`
}

// UnmarshalJSON accepts likes and rating written as JSON floats, as older
// writers stored them. Fractional values are truncated toward zero.
func (p *Prompt) UnmarshalJSON(data []byte) error {
	type promptFields Prompt
	decoded := struct {
		*promptFields
		Likes  json.Number `json:"likes"`
		Rating json.Number `json:"rating"`
	}{promptFields: (*promptFields)(p)}
	if err := json.Unmarshal(data, &decoded); err != nil {
		return err
	}

	likes, err := wholeNumber(decoded.Likes)
	if err != nil {
		return fmt.Errorf("likes: %w", err)
	}
	rating, err := wholeNumber(decoded.Rating)
	if err != nil {
		return fmt.Errorf("rating: %w", err)
	}
	if rating > math.MaxInt32 || rating < math.MinInt32 {
		return fmt.Errorf("rating: %w: %s", ErrInvalidRating, decoded.Rating)
	}
	p.Likes = likes
	p.Rating = int(rating)
	return nil
}

func wholeNumber(value json.Number) (int64, error) {
	if value == "" {
		return 0, nil
	}
	if whole, err := value.Int64(); err == nil {
		return whole, nil
	}
	fractional, err := value.Float64()
	if err != nil {
		return 0, err
	}
	if fractional >= math.MaxInt64 || fractional < math.MinInt64 {
		return 0, fmt.Errorf("%s out of range", value)
	}
	return int64(fractional), nil
}

// EffectiveStatus treats records stored without a status as approved.
func (p Prompt) EffectiveStatus() Status {
	if p.Status == "" {
		return StatusApproved
	}
	return p.Status
}

// PubliclyVisible reports whether public callers may see the prompt.
func (p Prompt) PubliclyVisible() bool {
	return p.EffectiveStatus() == StatusApproved
}

func (p Prompt) validate() error {
	if p.Rating < 0 || p.Rating > maxRating {
		return fmt.Errorf("%w: %d", ErrInvalidRating, p.Rating)
	}
	if p.Likes < 0 {
		return fmt.Errorf("%w: %d", ErrInvalidLikes, p.Likes)
	}
	if p.Status != "" && !p.Status.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, p.Status)
	}
	return nil
}

// NewPromptID validates raw input and returns a trimmed identifier.
func NewPromptID(rawInput string) (string, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidPromptID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidPromptID, maxIdentifierLength)
	}
	return trimmed, nil
}

// StorageKey maps a prompt identifier onto its record store key.
func StorageKey(id string) string {
	return keyPrefix + id
}

// UpsertRequest is a candidate record together with the caller's credential.
// The credential is consumed by the service and never persisted.
type UpsertRequest struct {
	Prompt     Prompt
	Credential string
}

// ChangeKind names the mutation reported to a Notifier.
type ChangeKind string

const (
	ChangeKindUpserted ChangeKind = "upserted"
	ChangeKindDeleted  ChangeKind = "deleted"
	ChangeKindLiked    ChangeKind = "liked"
)

// ChangeNotice describes a committed mutation.
type ChangeNotice struct {
	Kind          ChangeKind
	PromptID      string
	PublicVisible bool
}
