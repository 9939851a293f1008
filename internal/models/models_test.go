package models

import (
	"testing"
)

func TestParseThemeKind(t *testing.T) {
	tc := []struct {
		input   string
		want    ThemeKind
		wantErr bool
	}{
		{input: "OP", want: KindOpening},
		{input: "ending", want: KindEnding},
		{input: " in ", want: KindInsert},
		{input: "OST", wantErr: true},
	}

	for _, tt := range tc {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseThemeKind(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseThemeKind(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseThemeKind(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestTrack(t *testing.T) {
	t.Run("Playable", func(t *testing.T) {
		if (Track{MediaURL: "  "}).Playable() {
			t.Error("blank locator should not be playable")
		}
		if !(Track{MediaURL: "https://v.animethemes.moe/x.webm"}).Playable() {
			t.Error("expected track with locator to be playable")
		}
	})

	t.Run("Label", func(t *testing.T) {
		tr := Track{Title: "Gurenge", Show: "Demon Slayer", Kind: KindOpening}
		if got := tr.Label(); got != "Demon Slayer OP - Gurenge" {
			t.Errorf("Label() = %q", got)
		}
		if got := (Track{Title: "Solo"}).Label(); got != "Solo" {
			t.Errorf("Label() without show = %q", got)
		}
	})

	t.Run("Validate", func(t *testing.T) {
		if err := (Track{ID: "t1", Title: "x", Kind: KindEnding}).Validate(); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
		if err := (Track{ID: "t1", Title: "", Kind: KindEnding}).Validate(); err == nil {
			t.Error("expected missing title error")
		}
		if err := (Track{ID: "t1", Title: "x", Kind: "bgm"}).Validate(); err == nil {
			t.Error("expected bad kind error")
		}
	})
}

func TestCollaboratorCanEdit(t *testing.T) {
	tc := []struct {
		name   string
		role   Role
		status InviteStatus
		want   bool
	}{
		{name: "accepted editor", role: RoleEditor, status: StatusAccepted, want: true},
		{name: "pending editor", role: RoleEditor, status: StatusPending},
		{name: "declined editor", role: RoleEditor, status: StatusDeclined},
		{name: "accepted viewer", role: RoleViewer, status: StatusAccepted},
	}

	for _, tt := range tc {
		t.Run(tt.name, func(t *testing.T) {
			c := Collaborator{Role: tt.role, Status: tt.status}
			if got := c.CanEdit(); got != tt.want {
				t.Errorf("CanEdit() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestParseInviteRole(t *testing.T) {
	if _, err := ParseInviteRole("owner"); err == nil {
		t.Error("owner must not be grantable by invitation")
	}
	if r, err := ParseInviteRole("Editor"); err != nil || r != RoleEditor {
		t.Errorf("ParseInviteRole(Editor) = %q, %v", r, err)
	}
}

func TestActionKindValid(t *testing.T) {
	for _, a := range []ActionKind{ActionAddTheme, ActionRemoveTheme, ActionReorderThemes, ActionUpdateMetadata} {
		if !a.Valid() {
			t.Errorf("%s should be valid", a)
		}
	}
	if ActionKind("delete_playlist").Valid() {
		t.Error("unknown action should be invalid")
	}
}
