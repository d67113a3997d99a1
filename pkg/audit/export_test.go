package audit

import (
	"bytes"
	"encoding/csv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func exportFixture() []*Event {
	ts := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	return []*Event{
		{ID: 1, Timestamp: ts, EventType: EventTypeOverrideCreate, Status: EventStatusSuccess, Actor: "admin@vertiqo", ResourceType: ResourceTypeOverride, ResourceID: "42", Reason: "pilot"},
		{ID: 2, Timestamp: ts.Add(time.Minute), EventType: EventTypeEntitlementDenied, Status: EventStatusDenied, TenantID: "tenant-1", Message: "access restricted"},
	}
}

func TestExportCSV(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Export(&buf, exportFixture(), ExportFormatCSV))

	records, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, "id", records[0][0])
	assert.Equal(t, "override.create", records[1][2])
	assert.Equal(t, "denied", records[2][3])
}

func TestExportNDJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Export(&buf, exportFixture(), ExportFormatNDJSON))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)

	event, err := FromJSON([]byte(lines[1]))
	require.NoError(t, err)
	assert.Equal(t, EventTypeEntitlementDenied, event.EventType)
}

func TestExportJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Export(&buf, exportFixture(), ExportFormatJSON))
	assert.Contains(t, buf.String(), `"override.create"`)
}

func TestExportUnsupportedFormat(t *testing.T) {
	var buf bytes.Buffer
	err := Export(&buf, exportFixture(), ExportFormat("xml"))
	require.Error(t, err)
}
