package ops

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/hpungsan/echocap/internal/config"
	"github.com/hpungsan/echocap/internal/db"
	"github.com/hpungsan/echocap/internal/errors"
	"github.com/hpungsan/echocap/internal/recording"
	"github.com/hpungsan/echocap/internal/trainer"
)

// maxSampleFileSize caps audio files read for matching.
const maxSampleFileSize = 64 << 20

// TrainingStatusOutput reports training progress.
type TrainingStatusOutput struct {
	Progress int            `json:"progress"`
	Required int            `json:"required"`
	Complete bool           `json:"complete"`
	Samples  int            `json:"samples"`
	Phrases  map[string]int `json:"phrases"`
}

// LoadTrainer builds a trainer from the samples in the store.
func LoadTrainer(ctx context.Context, store *db.Store) (*trainer.Trainer, error) {
	samples, err := store.ListVoiceSamples(ctx)
	if err != nil {
		return nil, err
	}
	return trainer.New(samples...), nil
}

// AddTrainingSample stores a sample of phrase and adds it to tr.
func AddTrainingSample(ctx context.Context, store *db.Store, tr *trainer.Trainer, phrase string, audio []byte) (*TrainingStatusOutput, error) {
	phrase = recording.NormalizePhrase(phrase)
	if phrase == "" {
		return nil, errors.NewInvalidRequest("phrase is required")
	}
	if len(audio) == 0 {
		return nil, errors.NewInvalidRequest("sample audio is empty")
	}

	now := time.Now()
	id, err := newID(now)
	if err != nil {
		return nil, err
	}
	sample := recording.VoiceSample{
		ID:        id,
		Phrase:    phrase,
		Audio:     audio,
		Timestamp: now.UnixMilli(),
	}

	// Store first so the in-memory trainer never holds an unsaved sample
	if err := store.SaveVoiceSample(ctx, &sample); err != nil {
		return nil, err
	}
	tr.AddSample(sample)

	return TrainingStatus(tr), nil
}

// TrainingStatus summarizes tr.
func TrainingStatus(tr *trainer.Trainer) *TrainingStatusOutput {
	samples := tr.Samples()
	phrases := make(map[string]int)
	for _, s := range samples {
		phrases[recording.NormalizePhrase(s.Phrase)]++
	}
	return &TrainingStatusOutput{
		Progress: tr.Progress(),
		Required: trainer.RequiredSamples,
		Complete: tr.IsComplete(),
		Samples:  len(samples),
		Phrases:  phrases,
	}
}

// ClearTrainingOutput contains the result of the ClearTraining operation.
type ClearTrainingOutput struct {
	Cleared int `json:"cleared"`
}

// ClearTraining removes every stored sample and empties tr.
func ClearTraining(ctx context.Context, store *db.Store, tr *trainer.Trainer) (*ClearTrainingOutput, error) {
	n, err := store.ClearVoiceSamples(ctx)
	if err != nil {
		return nil, err
	}
	tr.Clear()
	return &ClearTrainingOutput{Cleared: n}, nil
}

// MatchInput contains parameters for the MatchSample operation.
// Exactly one of Path and Audio is used; Path wins when both are set.
type MatchInput struct {
	Phrase string
	Path   string
	Audio  []byte
}

// MatchOutput contains the result of the MatchSample operation.
type MatchOutput struct {
	Phrase  string `json:"phrase"`
	Bytes   int    `json:"bytes"`
	Matched bool   `json:"matched"`
}

// MatchSample runs the trainer's length check on an audio buffer or file.
func MatchSample(tr *trainer.Trainer, cfg *config.Config, input MatchInput) (*MatchOutput, error) {
	phrase := recording.NormalizePhrase(input.Phrase)
	if phrase == "" {
		return nil, errors.NewInvalidRequest("phrase is required")
	}

	audio := input.Audio
	if input.Path != "" {
		var err error
		audio, err = readSampleFile(input.Path, cfg)
		if err != nil {
			return nil, err
		}
	}
	if len(audio) == 0 {
		return nil, errors.NewInvalidRequest("audio is required")
	}

	return &MatchOutput{
		Phrase:  phrase,
		Bytes:   len(audio),
		Matched: tr.Matches(audio, phrase),
	}, nil
}

func readSampleFile(path string, cfg *config.Config) ([]byte, error) {
	if err := ValidatePath(path, PathCheckRead, cfg); err != nil {
		return nil, err
	}

	f, err := openFileNoFollowRead(path)
	if err != nil {
		if _, ok := errors.As(err); ok {
			return nil, err
		}
		return nil, errors.NewInternal(fmt.Errorf("failed to open sample: %w", err))
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, maxSampleFileSize+1))
	if err != nil {
		return nil, errors.NewInternal(fmt.Errorf("failed to read sample: %w", err))
	}
	if len(data) > maxSampleFileSize {
		return nil, errors.NewInvalidRequest(fmt.Sprintf("sample exceeds %d bytes", maxSampleFileSize))
	}
	return data, nil
}
