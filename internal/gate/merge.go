package gate

import (
	"strconv"
	"strings"
	"time"

	"github.com/nextlevelbuilder/clawgate/internal/bus"
)

// Metadata keys stamped onto a merged message.
const (
	MetaBatched      = "batched"
	MetaBatchWindow  = "batch_window_ms"
	MetaBatchSources = "batch_source_ids"
)

// BatchEntry is one enqueued message awaiting flush. Entries are
// immutable once appended; the store's list owns them until the leader
// flushes the whole batch.
type BatchEntry struct {
	ID         string             `json:"id"`
	Message    bus.InboundMessage `json:"message"`
	EnqueuedAt int64              `json:"enqueued_at"` // unix ms
}

// nowFunc is swapped in tests.
var nowFunc = time.Now

// Merge combines flushed entries into a single message built on the
// template's envelope. Content is concatenated in arrival order, media
// lists are appended, and the metadata records batch provenance. Neither
// entries nor template are mutated.
func Merge(entries []BatchEntry, template bus.InboundMessage, window time.Duration) bus.InboundMessage {
	parts := make([]string, 0, len(entries))
	ids := make([]string, 0, len(entries))
	var media []string
	for _, e := range entries {
		if e.Message.Content != "" {
			parts = append(parts, e.Message.Content)
		}
		media = append(media, e.Message.Media...)
		ids = append(ids, e.ID)
	}

	merged := template.Clone()
	merged.ID = template.ID + ":batch"
	merged.Content = strings.Join(parts, "\n")
	merged.Media = media
	merged.ReceivedAt = nowFunc()
	if merged.Metadata == nil {
		merged.Metadata = make(map[string]string, 3)
	}
	merged.Metadata[MetaBatched] = "true"
	merged.Metadata[MetaBatchWindow] = strconv.FormatInt(window.Milliseconds(), 10)
	merged.Metadata[MetaBatchSources] = strings.Join(ids, ",")
	return merged
}
