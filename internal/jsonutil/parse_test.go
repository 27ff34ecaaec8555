package jsonutil

import (
	"errors"
	"testing"
)

func TestStripMarkdownFences(t *testing.T) {
	tests := []struct {
		name, in, want string
	}{
		{"plain", `{"a":1}`, `{"a":1}`},
		{"json fence", "```json\n{\"a\":1}\n```", `{"a":1}`},
		{"bare fence", "```\n[1,2]\n```\n", "[1,2]"},
		{"too short", "```{}```", "```{}```"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := StripMarkdownFences(tt.in); got != tt.want {
				t.Errorf("StripMarkdownFences() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    string
		wantErr bool
	}{
		{"object in prose", `Sure! {"ops":[]} Hope that helps.`, `{"ops":[]}`, false},
		{"array first", `result: [{"a":1}] done`, `[{"a":1}]`, false},
		{"nested object", `x {"a":{"b":2}} y`, `{"a":{"b":2}}`, false},
		{"none", "nothing here", "", true},
		{"unclosed", `{"a":1`, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExtractJSON(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrNoJSON) {
				t.Errorf("err = %v, want ErrNoJSON", err)
			}
			if got != tt.want {
				t.Errorf("ExtractJSON() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestParseJSON(t *testing.T) {
	type reply struct {
		Notes string `json:"notes"`
	}
	got, err := ParseJSON[reply]("```json\n{\"notes\":\"ok\"}\n```")
	if err != nil {
		t.Fatalf("ParseJSON: %v", err)
	}
	if got.Notes != "ok" {
		t.Errorf("Notes = %q", got.Notes)
	}

	if _, err := ParseJSON[reply](`{"notes": 3}`); err == nil {
		t.Error("expected type mismatch error")
	}
}
