package store

import (
	"bytes"
	"testing"
	"time"

	"sdlcboard/api/internal/workflow"
)

var testNow = time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC)

func sampleDocument() *workflow.Document {
	return workflow.New("1.0", map[string]workflow.Phase{
		"Testing": {
			Categories: map[string]workflow.Category{
				"Unit Tests": {Items: []string{"parser", "merge", "store"}},
			},
		},
	}, testNow)
}

func withChange(t *testing.T, doc *workflow.Document, user, name string) *workflow.Document {
	t.Helper()
	out, err := workflow.WithChange(doc, workflow.ChangeRecord{
		Timestamp:   testNow,
		User:        user,
		UserName:    name,
		Action:      "data_update",
		Description: "Updated by " + name + " (" + user + ")",
	})
	if err != nil {
		t.Fatalf("WithChange() error = %v", err)
	}
	return out
}

func assertSameDocument(t *testing.T, got, want *workflow.Document) {
	t.Helper()
	gotJSON, err := workflow.Encode(got)
	if err != nil {
		t.Fatalf("encode got: %v", err)
	}
	wantJSON, err := workflow.Encode(want)
	if err != nil {
		t.Fatalf("encode want: %v", err)
	}
	if !bytes.Equal(gotJSON, wantJSON) {
		t.Fatalf("document mismatch\n got: %s\nwant: %s", gotJSON, wantJSON)
	}
}
