package model

import "testing"

func TestParseStatus(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		input   string
		want    Status
		wantErr bool
	}{
		{name: "new", input: "new", want: StatusNew},
		{name: "active", input: "active", want: StatusActive},
		{name: "blacklisted", input: "blacklisted", want: StatusBlacklisted},
		{name: "clearnet fallback", input: "clearnet_fallback", want: StatusClearnetFallback},
		{name: "unknown", input: "deleted", wantErr: true},
		{name: "empty", input: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := ParseStatus(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseStatus(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseStatus(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestStatusIsTerminal(t *testing.T) {
	t.Parallel()

	if !StatusBlacklisted.IsTerminal() {
		t.Error("blacklisted must be terminal")
	}
	for _, s := range []Status{StatusNew, StatusActive, StatusInactive, StatusError, StatusClearnetFallback} {
		if s.IsTerminal() {
			t.Errorf("%s must not be terminal", s)
		}
	}
}

func TestLinkPatchBuilder(t *testing.T) {
	t.Parallel()

	t.Run("empty patch", func(t *testing.T) {
		t.Parallel()

		if !Patch().IsEmpty() {
			t.Error("new patch should be empty")
		}
	})

	t.Run("chained fields are set", func(t *testing.T) {
		t.Parallel()

		p := Patch().
			WithTitle("Index").
			WithDescription("desc").
			WithStatus(StatusActive).
			WithContentPreview("preview").
			WithMetadata(map[string]any{"k": "v"})

		if p.IsEmpty() {
			t.Fatal("patch should not be empty")
		}
		if p.Title == nil || *p.Title != "Index" {
			t.Errorf("Title = %v, want Index", p.Title)
		}
		if p.Status == nil || *p.Status != StatusActive {
			t.Errorf("Status = %v, want active", p.Status)
		}
		if p.Category != nil {
			t.Error("Category should stay nil")
		}
		if p.Metadata["k"] != "v" {
			t.Errorf("Metadata = %v", p.Metadata)
		}
	})
}
