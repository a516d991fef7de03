package storage_test

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"telegram-forwarder/internal/infra/storage"
)

func TestStripTrailingCommas(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "objectTrailingComma",
			in:   `{"a": 1,}`,
			want: `{"a": 1}`,
		},
		{
			name: "arrayTrailingComma",
			in:   `{"a": [1, 2,]}`,
			want: `{"a": [1, 2]}`,
		},
		{
			name: "commaBeforeNewlineAndBrace",
			in:   "{\"a\": 1,\n}",
			want: "{\"a\": 1\n}",
		},
		{
			name: "commaInsideStringUntouched",
			in:   `{"a": "x,}"}`,
			want: `{"a": "x,}"}`,
		},
		{
			name: "escapedQuoteInsideString",
			in:   `{"a": "\",}",}`,
			want: `{"a": "\",}"}`,
		},
		{
			name: "validDocumentUnchanged",
			in:   `{"a": [1, 2], "b": {"c": 3}}`,
			want: `{"a": [1, 2], "b": {"c": 3}}`,
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			got := string(storage.StripTrailingCommas([]byte(tc.in)))
			if got != tc.want {
				t.Fatalf("StripTrailingCommas() = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestReadJSONFileForgiving(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "doc.json")
	body := "{\n  \"alpha\": [\"one\", \"two\",],\n  \"beta\": 2,\n}\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}

	var got map[string]any
	if err := storage.ReadJSONFile(path, &got); err != nil {
		t.Fatalf("ReadJSONFile() error: %v", err)
	}

	want := map[string]any{
		"alpha": []any{"one", "two"},
		"beta":  float64(2),
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("ReadJSONFile() = %#v, want %#v", got, want)
	}
}

func TestWriteJSONFileRoundTrip(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "doc.json")

	in := map[string]int{"a": 1, "b": 2}
	if err := storage.WriteJSONFile(path, in); err != nil {
		t.Fatalf("WriteJSONFile() error: %v", err)
	}

	var out map[string]int
	if err := storage.ReadJSONFile(path, &out); err != nil {
		t.Fatalf("ReadJSONFile() error: %v", err)
	}
	if !reflect.DeepEqual(in, out) {
		t.Fatalf("round trip = %#v, want %#v", out, in)
	}
}
