package formatter

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/desertthunder/themeroom/internal/models"
)

// DescribeChange renders a one-line summary of a change record for activity feeds.
func DescribeChange(rec models.ChangeRecord) string {
	var p map[string]any
	_ = json.Unmarshal(rec.Payload, &p)
	str := func(k string) string {
		if v, ok := p[k].(string); ok {
			return v
		}
		return ""
	}

	switch rec.Action {
	case models.ActionAddTheme:
		if title := str("title"); title != "" {
			return fmt.Sprintf("%s added %q", rec.UserID, title)
		}
		return fmt.Sprintf("%s added a theme", rec.UserID)
	case models.ActionRemoveTheme:
		return fmt.Sprintf("%s removed %s", rec.UserID, str("trackId"))
	case models.ActionReorderThemes:
		return fmt.Sprintf("%s reordered the playlist", rec.UserID)
	case models.ActionUpdateMetadata:
		if str("event") == "collaboration_accepted" {
			return fmt.Sprintf("%s joined as %s", rec.UserID, str("role"))
		}
		var fields []string
		for k := range p {
			if k != "baseRevision" {
				fields = append(fields, k)
			}
		}
		sort.Strings(fields)
		return fmt.Sprintf("%s updated %s", rec.UserID, strings.Join(fields, ", "))
	}
	return fmt.Sprintf("%s %s", rec.UserID, rec.Action)
}

// ChangesToCSV writes one row per record with columns: Seq, ID, Time, User, Action, Summary, Payload
func ChangesToCSV(records []models.ChangeRecord) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write([]string{"Seq", "ID", "Time", "User", "Action", "Summary", "Payload"}); err != nil {
		return nil, fmt.Errorf("failed to write CSV headers: %w", err)
	}
	for _, rec := range records {
		row := []string{
			strconv.FormatInt(rec.Seq, 10),
			rec.ID,
			rec.CreatedAt.UTC().Format(time.RFC3339),
			rec.UserID,
			string(rec.Action),
			DescribeChange(rec),
			string(rec.Payload),
		}
		if err := w.Write(row); err != nil {
			return nil, fmt.Errorf("failed to write CSV record: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("CSV writer error: %w", err)
	}
	return buf.Bytes(), nil
}

// ChangesToMarkdown renders records as a table.
func ChangesToMarkdown(records []models.ChangeRecord) []byte {
	var buf bytes.Buffer
	buf.WriteString("| # | Time | Change |\n|---|---|---|\n")
	for _, rec := range records {
		fmt.Fprintf(&buf, "| %d | %s | %s |\n", rec.Seq, rec.CreatedAt.UTC().Format(time.RFC3339), DescribeChange(rec))
	}
	return buf.Bytes()
}

// ChangesToText renders one record per line.
func ChangesToText(records []models.ChangeRecord) []byte {
	var buf bytes.Buffer
	for _, rec := range records {
		fmt.Fprintf(&buf, "%s  %s\n", rec.CreatedAt.Local().Format("2006-01-02 15:04:05"), DescribeChange(rec))
	}
	return buf.Bytes()
}

// RenderChanges renders records in the given format.
func RenderChanges(records []models.ChangeRecord, f Format) ([]byte, error) {
	switch f {
	case FormatCSV:
		return ChangesToCSV(records)
	case FormatMarkdown:
		return ChangesToMarkdown(records), nil
	case FormatText:
		return ChangesToText(records), nil
	default:
		return MarshalJSON(records, true)
	}
}

// RosterToText lists viewers with the track each one has open.
func RosterToText(roster []models.PresenceEntry, tracks []models.Track) []byte {
	labels := make(map[string]string, len(tracks))
	for _, t := range tracks {
		labels[t.ID] = t.Label()
	}

	var buf bytes.Buffer
	for _, e := range roster {
		name := e.DisplayName
		if name == "" {
			name = e.UserID
		}
		switch label, ok := labels[e.Cursor]; {
		case ok:
			fmt.Fprintf(&buf, "%s  ▶ %s\n", name, label)
		case e.Cursor != "":
			fmt.Fprintf(&buf, "%s  ▶ %s\n", name, e.Cursor)
		default:
			fmt.Fprintf(&buf, "%s\n", name)
		}
	}
	return buf.Bytes()
}

// QueueToText lists the queue with a marker on the current index.
func QueueToText(tracks []models.Track, current int) []byte {
	var buf bytes.Buffer
	for i, t := range tracks {
		marker := "  "
		if i == current {
			marker = "▶ "
		}
		suffix := ""
		if !t.Playable() {
			suffix = " (no media)"
		}
		fmt.Fprintf(&buf, "%s%2d. %s%s\n", marker, i+1, t.Label(), suffix)
	}
	return buf.Bytes()
}
