package models

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestArgumentsMap(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    map[string]any
		wantErr bool
	}{
		{
			name: "object",
			raw:  `{"path":"a.txt","depth":2}`,
			want: map[string]any{"path": "a.txt", "depth": float64(2)},
		},
		{
			name: "double encoded",
			raw:  `"{\"path\":\"a.txt\"}"`,
			want: map[string]any{"path": "a.txt"},
		},
		{
			name: "empty",
			raw:  "",
			want: map[string]any{},
		},
		{
			name:    "not an object",
			raw:     `[1,2]`,
			wantErr: true,
		},
		{
			name:    "double encoded garbage",
			raw:     `"not json"`,
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tc := ToolCall{ID: "c1", Name: "read_file", Arguments: json.RawMessage(tt.raw)}
			got, err := tc.ArgumentsMap()
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ArgumentsMap() = %v, want error", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("ArgumentsMap(): %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("ArgumentsMap() = %v, want %v", got, tt.want)
			}
			for k, v := range tt.want {
				if got[k] != v {
					t.Errorf("args[%q] = %v, want %v", k, got[k], v)
				}
			}
		})
	}
}

func TestStringArg(t *testing.T) {
	tc := ToolCall{Arguments: json.RawMessage(`{"path":"a.txt","count":3}`)}
	if got := tc.StringArg("path"); got != "a.txt" {
		t.Errorf("StringArg(path) = %q", got)
	}
	if got := tc.StringArg("count"); got != "" {
		t.Errorf("StringArg(count) = %q, want empty for non-string", got)
	}
	if got := tc.StringArg("missing"); got != "" {
		t.Errorf("StringArg(missing) = %q", got)
	}
}

func TestChunkTerminal(t *testing.T) {
	if !DoneChunk().Terminal() {
		t.Error("done chunk should be terminal")
	}
	if !ErrorChunk(errors.New("boom")).Terminal() {
		t.Error("error chunk should be terminal")
	}
	if ContentChunk("hi").Terminal() {
		t.Error("content chunk should not be terminal")
	}
	var nilChunk *StreamChunk
	if nilChunk.Terminal() {
		t.Error("nil chunk should not be terminal")
	}
}

func TestErrorText(t *testing.T) {
	c := ErrorChunk(errors.New("boom"))
	if got := c.ErrorText(); got != "boom" {
		t.Errorf("ErrorText() = %q", got)
	}
	c.Err = nil
	if got := c.ErrorText(); got != "boom" {
		t.Errorf("ErrorText() after serialization = %q", got)
	}
}
