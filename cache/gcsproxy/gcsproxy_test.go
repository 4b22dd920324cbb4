package gcsproxy

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestBucketURL(t *testing.T) {
	u := bucketURL("media-bucket")
	if u.String() != "https://storage.googleapis.com/media-bucket" {
		t.Errorf("Unexpected bucket URL %q", u)
	}
}

func TestNewClientErrors(t *testing.T) {
	ctx := context.Background()

	_, err := newClient(ctx, false, "")
	if !errors.Is(err, errNoCredentials) {
		t.Errorf("Expected errNoCredentials, got %v", err)
	}

	missing := filepath.Join(t.TempDir(), "missing.json")
	_, err = newClient(ctx, false, missing)
	if err == nil {
		t.Error("Expected an error for a missing credentials file")
	}

	garbage := filepath.Join(t.TempDir(), "garbage.json")
	err = os.WriteFile(garbage, []byte("not json"), 0600)
	if err != nil {
		t.Fatal(err)
	}
	_, err = newClient(ctx, false, garbage)
	if err == nil {
		t.Error("Expected an error for an unparseable credentials file")
	}
}
