package core

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"time"

	"rpgkernel/internal/blob"
	"rpgkernel/pkg/dice"
	"rpgkernel/pkg/domain"
)

const transcriptRoot = "transcripts"

// Transcript is the archived record of one execution: plan, rule outcomes,
// final scratch contents, dice rolls and the folded result.
type Transcript struct {
	domain.Resolution
	Rolls      []dice.Result `json:"rolls,omitempty"`
	RecordedAt time.Time     `json:"recorded_at"`
}

// TranscriptKey returns the archive key of an execution.
func TranscriptKey(kind domain.CommandKind, executionID string) string {
	return path.Join(transcriptRoot, string(kind), executionID+".json")
}

// WriteTranscript stores t under TranscriptKey.
func WriteTranscript(ctx context.Context, store blob.Store, t Transcript) (blob.Info, error) {
	raw, err := json.Marshal(t)
	if err != nil {
		return blob.Info{}, fmt.Errorf("encode transcript %s: %w", t.ExecutionID, err)
	}
	return store.Put(ctx, TranscriptKey(t.Command, t.ExecutionID), bytes.NewReader(raw), blob.PutOptions{
		ContentType: "application/json",
		Metadata: map[string]string{
			"command":  string(t.Command),
			"actor":    t.ActorID,
			"success":  fmt.Sprintf("%t", t.Result.Success),
			"rules":    fmt.Sprintf("%d", len(t.Plan)),
			"recorded": t.RecordedAt.Format(time.RFC3339),
		},
	})
}

// LoadTranscript reads the transcript of an execution back.
func LoadTranscript(ctx context.Context, store blob.Store, kind domain.CommandKind, executionID string) (Transcript, error) {
	_, body, err := store.Get(ctx, TranscriptKey(kind, executionID))
	if err != nil {
		return Transcript{}, err
	}
	defer func() { _ = body.Close() }()
	var t Transcript
	if err := json.NewDecoder(body).Decode(&t); err != nil {
		return Transcript{}, fmt.Errorf("decode transcript %s: %w", executionID, err)
	}
	return t, nil
}

// ListTranscripts lists archived transcripts of kind, or of every kind when
// kind is empty.
func ListTranscripts(ctx context.Context, store blob.Store, kind domain.CommandKind) ([]blob.Info, error) {
	prefix := transcriptRoot + "/"
	if kind != "" {
		prefix += string(kind) + "/"
	}
	return store.List(ctx, prefix)
}
