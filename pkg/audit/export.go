package audit

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"
)

// ExportFormat represents the format for exporting audit events
type ExportFormat string

const (
	ExportFormatJSON   ExportFormat = "json"
	ExportFormatCSV    ExportFormat = "csv"
	ExportFormatNDJSON ExportFormat = "ndjson"
)

// Export writes events to w in the requested format. Compliance reviews
// consume CSV; downstream tooling consumes JSON or NDJSON.
func Export(w io.Writer, events []*Event, format ExportFormat) error {
	switch format {
	case ExportFormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(events)

	case ExportFormatNDJSON:
		enc := json.NewEncoder(w)
		for _, event := range events {
			if err := enc.Encode(event); err != nil {
				return fmt.Errorf("failed to encode event %d: %w", event.ID, err)
			}
		}
		return nil

	case ExportFormatCSV:
		return exportCSV(w, events)

	default:
		return fmt.Errorf("unsupported export format: %s", format)
	}
}

func exportCSV(w io.Writer, events []*Event) error {
	cw := csv.NewWriter(w)

	header := []string{"id", "timestamp", "event_type", "status", "actor", "tenant_id", "user_id", "resource_type", "resource_id", "reason", "message", "error_message"}
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}

	for _, event := range events {
		record := []string{
			strconv.FormatInt(event.ID, 10),
			event.Timestamp.Format(time.RFC3339),
			string(event.EventType),
			string(event.Status),
			event.Actor,
			event.TenantID,
			event.UserID,
			string(event.ResourceType),
			event.ResourceID,
			event.Reason,
			event.Message,
			event.ErrorMessage,
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("failed to write CSV record: %w", err)
		}
	}

	cw.Flush()
	return cw.Error()
}
