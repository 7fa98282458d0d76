package recording

import (
	"strings"

	"github.com/hpungsan/echocap/internal/errors"
)

// Kind is the capture mode of a recording.
type Kind string

const (
	KindVoice Kind = "voice" // audio only
	KindVideo Kind = "video" // audio + video
)

// ParseKind validates a capture mode string.
func ParseKind(s string) (Kind, error) {
	switch Kind(strings.ToLower(strings.TrimSpace(s))) {
	case KindVoice:
		return KindVoice, nil
	case KindVideo:
		return KindVideo, nil
	}
	return "", errors.NewInvalidRequest("mode must be one of: voice, video")
}

// Extension returns the file extension for exported recordings of this kind.
func (k Kind) Extension() string {
	return "webm"
}

// Recording is the metadata of one encrypted capture. The ciphertext is
// stored alongside it and is never part of this struct's JSON form.
type Recording struct {
	// ID is a ULID
	ID string `json:"id"`

	// Kind is voice or video
	Kind Kind `json:"type"`

	// Timestamp is the Unix millisecond time the capture was saved
	Timestamp int64 `json:"timestamp"`

	// ByteSize is the ciphertext length in bytes
	ByteSize int `json:"size"`

	// DurationSeconds is the wall-clock length of the capture
	DurationSeconds float64 `json:"duration"`

	// Encrypted asserts the stored blob is an AEAD packet
	Encrypted bool `json:"encrypted"`
}

// DeviceToken is the per-installation root secret.
type DeviceToken struct {
	Token     string `json:"token"`
	CreatedAt int64  `json:"createdAt"`
}

// VoiceSample is one training utterance of a trigger phrase.
type VoiceSample struct {
	ID        string `json:"id"`
	Phrase    string `json:"phrase"`
	Audio     []byte `json:"-"`
	Timestamp int64  `json:"timestamp"`
}

// Theme is the collaborator UI theme preference.
type Theme string

const (
	ThemeLight Theme = "light"
	ThemeDark  Theme = "dark"
)

// Settings is the per-device singleton configuration edited by the user.
type Settings struct {
	StartPhrase       string `json:"startPhrase"`
	StopPhrase        string `json:"stopPhrase"`
	CaptureMode       Kind   `json:"captureMode"`
	ActivationEnabled bool   `json:"activationEnabled"`
	Theme             Theme  `json:"theme"`
}

// DefaultSettings returns the settings used before the user changes anything.
func DefaultSettings() Settings {
	return Settings{
		StartPhrase:       "start recording",
		StopPhrase:        "stop recording",
		CaptureMode:       KindVoice,
		ActivationEnabled: false,
		Theme:             ThemeLight,
	}
}

// Validate checks the settings and normalizes the phrases in place.
func (s *Settings) Validate() error {
	s.StartPhrase = NormalizePhrase(s.StartPhrase)
	s.StopPhrase = NormalizePhrase(s.StopPhrase)

	if s.StartPhrase == "" {
		return errors.NewInvalidRequest("start phrase must not be empty")
	}
	if s.StopPhrase == "" {
		return errors.NewInvalidRequest("stop phrase must not be empty")
	}
	if s.StartPhrase == s.StopPhrase {
		return errors.NewInvalidRequest("start and stop phrases must differ")
	}
	if _, err := ParseKind(string(s.CaptureMode)); err != nil {
		return err
	}
	if s.Theme != ThemeLight && s.Theme != ThemeDark {
		return errors.NewInvalidRequest("theme must be one of: light, dark")
	}
	return nil
}

// NormalizePhrase lowercases, trims, and collapses internal whitespace.
func NormalizePhrase(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}
