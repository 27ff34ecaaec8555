package plan

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestNewSnapshotRejectsDuplicates(t *testing.T) {
	_, err := NewSnapshot(DefaultOperation(KindResize), DefaultOperation(KindResize))
	if !errors.Is(err, ErrDuplicateKind) {
		t.Fatalf("expected ErrDuplicateKind, got %v", err)
	}
}

func TestSnapshotUnmarshal(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr error
		kinds   []Kind
	}{
		{
			name:  "generated plan",
			input: `[{"op":"resize","width":128,"height":128,"interp":"INTER_AREA"},{"op":"normalize","method":"zscore"}]`,
			kinds: []Kind{KindResize, KindNormalize},
		},
		{
			name:  "empty",
			input: `[]`,
		},
		{
			name:    "unknown op",
			input:   `[{"op":"sharpen"}]`,
			wantErr: ErrUnknownKind,
		},
		{
			name:    "missing op",
			input:   `[{"width":1}]`,
			wantErr: ErrUnknownKind,
		},
		{
			name:    "duplicate",
			input:   `[{"op":"denoise"},{"op":"denoise"}]`,
			wantErr: ErrDuplicateKind,
		},
		{
			name:    "bad pair",
			input:   `[{"op":"augment","brightness_range":[1,2,3]}]`,
			wantErr: ErrInvalidValue,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var snap Snapshot
			err := json.Unmarshal([]byte(tt.input), &snap)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected %v, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			got := snap.Kinds()
			if len(got) != len(tt.kinds) {
				t.Fatalf("expected kinds %v, got %v", tt.kinds, got)
			}
			for i := range got {
				if got[i] != tt.kinds[i] {
					t.Errorf("kind %d: expected %s, got %s", i, tt.kinds[i], got[i])
				}
			}
		})
	}
}

func TestOperationMarshalDeterministic(t *testing.T) {
	op := DefaultOperation(KindAugment)
	op.Params["brightness_range"] = Pair(0.8, 1.2)

	first, err := json.Marshal(op)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	for i := 0; i < 5; i++ {
		again, _ := json.Marshal(op.Clone())
		if string(again) != string(first) {
			t.Fatalf("non-deterministic encoding:\n%s\n%s", first, again)
		}
	}

	want := `{"op":"augment","brightness_range":[0.8,1.2],"h_flip":false,"mode":"deterministic","rotation":0,"v_flip":false,"zoom":1}`
	if string(first) != want {
		t.Errorf("expected %s, got %s", want, first)
	}
}

func TestEmptySnapshotMarshal(t *testing.T) {
	data, err := json.Marshal(Snapshot{})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if string(data) != "[]" {
		t.Errorf("expected [], got %s", data)
	}
	if (Snapshot{}).String() != "(empty)" {
		t.Errorf("unexpected String: %s", Snapshot{})
	}
}

func TestParseValue(t *testing.T) {
	tests := []struct {
		input string
		want  Value
	}{
		{"224", Int(224)},
		{" 1.5 ", Number(1.5)},
		{"true", Bool(true)},
		{"FALSE", Bool(false)},
		{"0.8, 1.2", Pair(0.8, 1.2)},
		{"gaussian", Enum("gaussian")},
		{"a,b", Enum("a,b")},
	}

	for _, tt := range tests {
		got := ParseValue(tt.input)
		if !got.Equal(tt.want) {
			t.Errorf("ParseValue(%q) = %s (%s), want %s (%s)",
				tt.input, got, got.Type(), tt.want, tt.want.Type())
		}
	}
}
