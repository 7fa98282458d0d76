// Package trainer accumulates voice samples of the trigger phrases and
// applies a length-based acceptance check. It is not speaker verification.
package trainer

import (
	"sync"

	"github.com/hpungsan/echocap/internal/recording"
)

// RequiredSamples is the sample count at which training is complete.
const RequiredSamples = 5

// TolerancePercent is the accepted deviation from the mean sample length.
const TolerancePercent = 30

// Trainer holds training samples in memory. Safe for concurrent use.
type Trainer struct {
	mu      sync.RWMutex
	samples []recording.VoiceSample
}

// New returns a trainer seeded with samples (for rehydration from the store).
func New(samples ...recording.VoiceSample) *Trainer {
	return &Trainer{samples: append([]recording.VoiceSample(nil), samples...)}
}

// AddSample appends a sample. Duplicates are kept.
func (t *Trainer) AddSample(s recording.VoiceSample) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.samples = append(t.samples, s)
}

// Samples returns a copy of all samples in insertion order.
func (t *Trainer) Samples() []recording.VoiceSample {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]recording.VoiceSample(nil), t.samples...)
}

// Count returns the number of samples held.
func (t *Trainer) Count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.samples)
}

// Progress returns min(count, RequiredSamples).
func (t *Trainer) Progress() int {
	return min(t.Count(), RequiredSamples)
}

// IsComplete reports whether RequiredSamples have been collected.
func (t *Trainer) IsComplete() bool {
	return t.Count() >= RequiredSamples
}

// Clear drops every sample.
func (t *Trainer) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.samples = nil
}

// Matches accepts audio whose byte length is within TolerancePercent of the mean
// length of the samples recorded for phrase, bounds inclusive. It is false
// when there are no samples for phrase.
func (t *Trainer) Matches(audio []byte, phrase string) bool {
	phrase = recording.NormalizePhrase(phrase)

	t.mu.RLock()
	var total, n int
	for _, s := range t.samples {
		if recording.NormalizePhrase(s.Phrase) == phrase {
			total += len(s.Audio)
			n++
		}
	}
	t.mu.RUnlock()

	if n == 0 {
		return false
	}
	// |len - total/n| <= total/n * pct/100, kept in integers so the
	// bounds are exact
	diff := len(audio)*n - total
	if diff < 0 {
		diff = -diff
	}
	return diff*100 <= total*TolerancePercent
}
