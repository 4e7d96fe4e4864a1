package audit

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
)

// ExportCSV writes the entries matching the filter as a flattened,
// escaped CSV dump. The export itself is a sensitive action; callers are
// expected to audit it.
func (r *Recorder) ExportCSV(ctx context.Context, w io.Writer, filter Filter) (int, error) {
	entries, err := r.store.Query(ctx, filter)
	if err != nil {
		return 0, err
	}

	cw := csv.NewWriter(w)
	header := []string{"id", "credential_id", "action", "principal", "success", "error", "metadata", "created_at"}
	if err := cw.Write(header); err != nil {
		return 0, fmt.Errorf("failed to write CSV header: %w", err)
	}

	for _, e := range entries {
		record := []string{
			e.ID,
			e.CredentialID,
			string(e.Action),
			e.Principal,
			strconv.FormatBool(e.Success),
			e.Error,
			flattenMetadata(e.Metadata),
			e.CreatedAt.UTC().Format("2006-01-02T15:04:05Z"),
		}
		if err := cw.Write(record); err != nil {
			return 0, fmt.Errorf("failed to write CSV record: %w", err)
		}
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return 0, err
	}
	return len(entries), nil
}

// flattenMetadata renders the metadata map as stable "k=v" pairs.
func flattenMetadata(metadata map[string]string) string {
	if len(metadata) == 0 {
		return ""
	}
	keys := make([]string, 0, len(metadata))
	for k := range metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, k+"="+metadata[k])
	}
	return strings.Join(pairs, ";")
}
