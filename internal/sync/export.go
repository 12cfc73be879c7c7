package sync

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/mindloop/trendd/internal/store"
)

// ExportJSONL writes every edge score row to w, one JSON object per line.
func ExportJSONL(ctx context.Context, s store.Store, w io.Writer) error {
	scores, err := s.ExportScores(ctx)
	if err != nil {
		return fmt.Errorf("export scores: %w", err)
	}
	enc := json.NewEncoder(w)
	for i := range scores {
		if err := enc.Encode(&scores[i]); err != nil {
			return fmt.Errorf("encode score row: %w", err)
		}
	}
	return nil
}
