package formatter

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/desertthunder/themeroom/internal/models"
	tu "github.com/desertthunder/themeroom/internal/testing"
)

func sampleExport() *models.PlaylistExport {
	return &models.PlaylistExport{
		Playlist: models.Playlist{
			ID:          "pl1",
			OwnerID:     "alice",
			Name:        "Openings",
			Description: "Season favourites",
			IsPublic:    true,
			Revision:    4,
		},
		Tracks: []models.Track{
			{ID: "t1", Title: "Gurenge", Show: "Demon Slayer", Kind: models.KindOpening, MediaURL: "https://media.example/gurenge.webm", AddedBy: "alice"},
			{ID: "t2", Title: "Kataomoi", Show: "Fruits Basket", Kind: models.KindEnding, AddedBy: "bob"},
		},
		Collaborators: []models.Collaborator{
			{UserID: "bob", DisplayName: "Bob", Role: models.RoleEditor, Status: models.StatusAccepted},
			{UserID: "carol", Role: models.RoleViewer, Status: models.StatusPending},
		},
	}
}

func TestExporters(t *testing.T) {
	t.Run("ExportToCSV", func(t *testing.T) {
		data, err := ExportToCSV(sampleExport())
		if err != nil {
			t.Fatalf("ExportToCSV failed: %v", err)
		}

		output := string(data)
		if !strings.HasPrefix(output, "Position,ID,Title,Show,Kind,MediaURL,AddedBy\n") {
			t.Errorf("CSV missing headers, got: %s", output)
		}
		if !strings.Contains(output, "1,t1,Gurenge,Demon Slayer,OP,https://media.example/gurenge.webm,alice") {
			t.Errorf("CSV missing first row, got: %s", output)
		}
		if !strings.Contains(output, "2,t2,Kataomoi,Fruits Basket,ED,,bob") {
			t.Errorf("CSV missing second row, got: %s", output)
		}
	})

	t.Run("ExportToMarkdown", func(t *testing.T) {
		data, err := ExportToMarkdown(sampleExport())
		if err != nil {
			t.Fatalf("ExportToMarkdown failed: %v", err)
		}

		output := string(data)
		for _, want := range []string{
			"# Openings",
			"**Description**: Season favourites",
			"**Themes**: 2",
			"**Visibility**: Public",
			"**Revision**: 4",
			"1. [Demon Slayer OP - Gurenge](https://media.example/gurenge.webm)",
			"2. Fruits Basket ED - Kataomoi",
			"| Bob | editor | accepted |",
			"| carol | viewer | pending |",
		} {
			if !strings.Contains(output, want) {
				t.Errorf("Markdown missing %q, got:\n%s", want, output)
			}
		}
	})

	t.Run("ExportToMarkdown without collaborators", func(t *testing.T) {
		export := sampleExport()
		export.Collaborators = nil
		data, _ := ExportToMarkdown(export)
		if strings.Contains(string(data), "## Collaborators") {
			t.Error("expected no collaborator section")
		}
	})

	t.Run("ExportToText", func(t *testing.T) {
		data, err := ExportToText(sampleExport())
		if err != nil {
			t.Fatalf("ExportToText failed: %v", err)
		}

		output := string(data)
		if !strings.Contains(output, "Playlist: Openings") {
			t.Errorf("Text missing name")
		}
		if !strings.Contains(output, "Themes: 2") {
			t.Errorf("Text missing track count")
		}
		if !strings.Contains(output, "1. Demon Slayer OP - Gurenge") {
			t.Errorf("Text missing track1")
		}
	})

	t.Run("ToMetadataJSON", func(t *testing.T) {
		data, err := ToMetadataJSON(sampleExport().Playlist)
		if err != nil {
			t.Fatalf("ToMetadataJSON failed: %v", err)
		}

		var got models.Playlist
		if err := json.Unmarshal(data, &got); err != nil {
			t.Fatalf("invalid JSON: %v", err)
		}
		if got.ID != "pl1" || got.Name != "Openings" {
			t.Errorf("unexpected metadata %+v", got)
		}
		if strings.Contains(string(data), "Gurenge") {
			t.Error("metadata should not include tracks")
		}
	})
}

func TestWriters(t *testing.T) {
	t.Run("WriteCSVExport", func(t *testing.T) {
		base := filepath.Join(t.TempDir(), "pl1")
		res, err := WriteCSVExport(sampleExport(), base)
		if err != nil {
			t.Fatalf("WriteCSVExport failed: %v", err)
		}
		tu.AssertFileExists(t, res.TracksFile)
		tu.AssertFileExists(t, res.MetadataFile)
		if !strings.HasSuffix(res.TracksFile, "pl1_tracks.csv") {
			t.Errorf("unexpected tracks file %s", res.TracksFile)
		}
	})

	t.Run("WriteMarkdownExport", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "nested", "pl1")
		path, err := WriteMarkdownExport(sampleExport(), dir)
		if err != nil {
			t.Fatalf("WriteMarkdownExport failed: %v", err)
		}
		if path != filepath.Join(dir, "README.md") {
			t.Errorf("unexpected path %s", path)
		}
		if !strings.Contains(tu.MustReadFile(t, path), "# Openings") {
			t.Error("README missing title")
		}
	})

	t.Run("WriteTextExport", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "pl1.txt")
		got, err := WriteTextExport(sampleExport(), path)
		if err != nil {
			t.Fatalf("WriteTextExport failed: %v", err)
		}
		if got != path {
			t.Errorf("expected %s, got %s", path, got)
		}
		tu.AssertFileExists(t, path)
	})

	t.Run("WriteJSONExport", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "pl1.json")
		if _, err := WriteJSONExport(sampleExport(), path); err != nil {
			t.Fatalf("WriteJSONExport failed: %v", err)
		}

		var got models.PlaylistExport
		if err := json.Unmarshal([]byte(tu.MustReadFile(t, path)), &got); err != nil {
			t.Fatalf("invalid JSON: %v", err)
		}
		if len(got.Tracks) != 2 || got.Tracks[1].ID != "t2" {
			t.Errorf("unexpected tracks %+v", got.Tracks)
		}
	})

	t.Run("unwritable path", func(t *testing.T) {
		dir := t.TempDir()
		blocker := filepath.Join(dir, "file")
		if err := os.WriteFile(blocker, nil, 0644); err != nil {
			t.Fatal(err)
		}
		if _, err := WriteTextExport(sampleExport(), filepath.Join(blocker, "out.txt")); err == nil {
			t.Error("expected an error writing below a regular file")
		}
	})
}

func TestActivity(t *testing.T) {
	at := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	rec := func(seq int64, action models.ActionKind, payload string) models.ChangeRecord {
		return models.ChangeRecord{ID: "c", Seq: seq, UserID: "bob", Action: action, Payload: json.RawMessage(payload), CreatedAt: at}
	}

	t.Run("DescribeChange", func(t *testing.T) {
		tc := []struct {
			name string
			rec  models.ChangeRecord
			want string
		}{
			{"add", rec(1, models.ActionAddTheme, `{"title":"Gurenge"}`), `bob added "Gurenge"`},
			{"add untitled", rec(1, models.ActionAddTheme, `{}`), "bob added a theme"},
			{"remove", rec(1, models.ActionRemoveTheme, `{"trackId":"t1"}`), "bob removed t1"},
			{"reorder", rec(1, models.ActionReorderThemes, `{"order":["a"]}`), "bob reordered the playlist"},
			{"rename", rec(1, models.ActionUpdateMetadata, `{"name":"x","isPublic":true,"baseRevision":3}`), "bob updated isPublic, name"},
			{"joined", rec(1, models.ActionUpdateMetadata, `{"event":"collaboration_accepted","role":"editor"}`), "bob joined as editor"},
			{"garbage payload", rec(1, models.ActionReorderThemes, `not json`), "bob reordered the playlist"},
		}
		for _, tt := range tc {
			t.Run(tt.name, func(t *testing.T) {
				if got := DescribeChange(tt.rec); got != tt.want {
					t.Errorf("got %q, want %q", got, tt.want)
				}
			})
		}
	})

	t.Run("RenderChanges", func(t *testing.T) {
		records := []models.ChangeRecord{rec(2, models.ActionReorderThemes, `{}`), rec(1, models.ActionAddTheme, `{"title":"Gurenge"}`)}

		csvData, err := RenderChanges(records, FormatCSV)
		if err != nil {
			t.Fatalf("csv: %v", err)
		}
		if !strings.Contains(string(csvData), "2,c,2025-03-01T12:00:00Z,bob,reorder_themes") {
			t.Errorf("unexpected csv: %s", csvData)
		}

		md, _ := RenderChanges(records, FormatMarkdown)
		if !strings.Contains(string(md), `| 1 | 2025-03-01T12:00:00Z | bob added "Gurenge" |`) {
			t.Errorf("unexpected markdown: %s", md)
		}

		js, _ := RenderChanges(records, FormatJSON)
		var back []models.ChangeRecord
		if err := json.Unmarshal(js, &back); err != nil || len(back) != 2 {
			t.Errorf("unexpected json: %s (%v)", js, err)
		}

		txt, _ := RenderChanges(records, FormatText)
		if strings.Count(string(txt), "\n") != 2 {
			t.Errorf("expected two lines, got %q", txt)
		}
	})

	t.Run("RosterToText", func(t *testing.T) {
		tracks := sampleExport().Tracks
		roster := []models.PresenceEntry{
			{UserID: "alice", DisplayName: "Alice", Cursor: "t1"},
			{UserID: "bob", Cursor: "gone"},
			{UserID: "carol", DisplayName: "Carol"},
		}
		got := string(RosterToText(roster, tracks))
		want := "Alice  ▶ Demon Slayer OP - Gurenge\nbob  ▶ gone\nCarol\n"
		if got != want {
			t.Errorf("got %q, want %q", got, want)
		}
	})

	t.Run("QueueToText", func(t *testing.T) {
		got := string(QueueToText(sampleExport().Tracks, 1))
		if !strings.Contains(got, "   1. Demon Slayer OP - Gurenge\n") {
			t.Errorf("unexpected first line in %q", got)
		}
		if !strings.Contains(got, "▶  2. Fruits Basket ED - Kataomoi (no media)") {
			t.Errorf("unexpected current line in %q", got)
		}
	})
}

func TestHelpers(t *testing.T) {
	tc := []struct {
		in   string
		want Format
	}{
		{"csv", FormatCSV}, {"md", FormatMarkdown}, {"markdown", FormatMarkdown},
		{"text", FormatText}, {"txt", FormatText}, {"json", FormatJSON}, {"", FormatJSON},
	}
	for _, tt := range tc {
		if got := ParseFormat(tt.in); got != tt.want {
			t.Errorf("ParseFormat(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}

	if got := FormatDuration(90 * time.Second); got != "1:30" {
		t.Errorf("FormatDuration = %s", got)
	}
	if got := FormatDuration(-time.Second); got != "0:00" {
		t.Errorf("FormatDuration negative = %s", got)
	}
	if Visibility(false) != "Private" || Visibility(true) != "Public" {
		t.Error("unexpected visibility labels")
	}
}
