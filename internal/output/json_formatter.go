package output

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/mrzor/currentop/internal/snapshot"
)

// JSONFormatter writes each snapshot as one line of JSON.
type JSONFormatter struct {
	mu  sync.Mutex
	enc *json.Encoder
}

// NewJSONFormatter creates a formatter writing to w.
func NewJSONFormatter(w io.Writer) *JSONFormatter {
	return &JSONFormatter{enc: json.NewEncoder(w)}
}

// HandleSnapshot implements SnapshotHandler.
func (f *JSONFormatter) HandleSnapshot(_ context.Context, taken time.Time, ops []snapshot.Operation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enc.Encode(NewReport(taken, ops)); err != nil {
		return fmt.Errorf("writing snapshot: %w", err)
	}
	return nil
}
