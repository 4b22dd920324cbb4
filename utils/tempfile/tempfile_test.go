package tempfile_test

import (
	"os"
	"path"
	"strings"
	"testing"

	"github.com/mediacache/mediacache/utils/tempfile"
)

func TestTempfileCreator(t *testing.T) {
	tfc := tempfile.NewCreator()

	dir := t.TempDir()

	targetFileBase := path.Join(dir, "foo")
	tf, random, err := tfc.Create(targetFileBase, ".zst")
	if err != nil {
		t.Fatal(err)
	}
	defer tf.Close()

	if random == "" {
		t.Fatalf("Expected non-empty random string in the filename: %q",
			tf.Name())
	}

	if !strings.Contains(tf.Name(), random) {
		t.Fatalf("Expected filename %q to contain random string %q",
			tf.Name(), random)
	}

	if !strings.HasPrefix(tf.Name(), targetFileBase) {
		t.Fatalf("Expected tempfile \"%s\" to have prefix \"%s\"",
			tf.Name(), targetFileBase)
	}

	if !strings.HasSuffix(tf.Name(), ".zst") {
		t.Fatalf("Expected tempfile %q to have suffix .zst", tf.Name())
	}

	fi, err := tf.Stat()
	if err != nil {
		t.Fatal(err)
	}
	if !tempfile.IsIncomplete(fi) {
		t.Fatalf("Expected new tempfile %q to be marked incomplete", tf.Name())
	}

	err = os.Chmod(tf.Name(), tempfile.FinalMode)
	if err != nil {
		t.Fatal(err)
	}
	fi, err = os.Stat(tf.Name())
	if err != nil {
		t.Fatal(err)
	}
	if tempfile.IsIncomplete(fi) {
		t.Fatalf("Expected %q to be complete after chmod", tf.Name())
	}
}

func TestTempfileCreatorDistinctNames(t *testing.T) {
	tfc := tempfile.NewCreator()
	dir := t.TempDir()
	base := path.Join(dir, "same")

	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		tf, _, err := tfc.Create(base, "")
		if err != nil {
			t.Fatal(err)
		}
		tf.Close()
		if seen[tf.Name()] {
			t.Fatalf("Duplicate tempfile name %q", tf.Name())
		}
		seen[tf.Name()] = true
	}
}
