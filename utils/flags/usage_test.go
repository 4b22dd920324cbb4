package flags

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/urfave/cli/v2"
)

func TestWrapLine(t *testing.T) {
	t.Parallel()

	tcs := []struct {
		input    string
		width    int
		pad      string
		expected string
	}{
		{
			input:    "cache media files from remote origins on the device",
			width:    20,
			pad:      "  ",
			expected: "cache media files\n  from remote\n  origins on the\n  device",
		},
		{
			input:    "cache media files from remote origins on the device",
			width:    80,
			pad:      "  ",
			expected: "cache media files from remote origins on the device",
		},
		{
			input:    "a_single_word_that_does_not_fit",
			width:    10,
			pad:      "",
			expected: "a_single_word_that_does_not_fit",
		},
		{
			input:    "padding wider than the console",
			width:    4,
			pad:      "      ",
			expected: "padding wider than the console",
		},
	}

	for _, tc := range tcs {
		result := wrapLine(tc.input, tc.width, tc.pad)
		if result != tc.expected {
			t.Errorf("wrapLine(%q, %d): got %q, expected %q", tc.input, tc.width, result, tc.expected)
		}
	}
}

func TestWrap(t *testing.T) {
	t.Parallel()

	input := "first line is short\nsecond line is a good deal longer than that"
	expected := "first line is short\n    second line is a\n    good deal longer\n    than that"

	if result := wrap(input, 4, 24); result != expected {
		t.Errorf("Got %q, expected %q", result, expected)
	}
}

func TestHelpPrinter(t *testing.T) {
	t.Setenv("COLUMNS", "40")

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:    "dir",
			Value:   "/var/cache/media",
			Usage:   "directory holding one subdirectory per media category, created on startup if missing",
			EnvVars: []string{"MEDIACACHE_DIR"},
		},
		&cli.IntFlag{
			Name:    "num_uploaders",
			Value:   100,
			Usage:   "upload goroutines per proxy backend",
			EnvVars: []string{"MEDIACACHE_NUM_UPLOADERS"},
		},
	}

	expected := `mediacache - An on-device cache for remote media

USAGE:
   cli.test [options]

OPTIONS:
   --dir value directory holding one
      subdirectory per media category,
      created on startup if missing
      (default: "/var/cache/media")
      [$MEDIACACHE_DIR]

   --num_uploaders value upload
      goroutines per proxy backend
      (default: 100)
      [$MEDIACACHE_NUM_UPLOADERS]

   --help, -h show help (default:
      false)
`

	output := new(bytes.Buffer)
	app := &cli.App{
		Name:   "cli.test",
		Writer: output,
		Flags:  flags,
		Action: func(c *cli.Context) error { return nil },
	}

	defer func(printer func(io.Writer, string, interface{}, map[string]interface{}), templ string) {
		cli.HelpPrinterCustom = printer
		cli.AppHelpTemplate = templ
	}(cli.HelpPrinterCustom, cli.AppHelpTemplate)

	cli.HelpPrinterCustom = HelpPrinter
	cli.AppHelpTemplate = Template

	// HelpPrinterCustom is only consulted when ExtraInfo is set.
	app.ExtraInfo = func() map[string]string { return map[string]string{} }

	if err := app.Run([]string{"cli.test", "-h"}); err != nil {
		t.Fatal(err)
	}

	if diff := cmp.Diff(expected, output.String()); diff != "" {
		t.Fatalf("Unexpected help text (-want +got):\n%s", diff)
	}
}

func TestParseWidth(t *testing.T) {
	t.Parallel()

	tcs := []struct {
		input string
		width int
		ok    bool
	}{
		{"120\n", 120, true},
		{" 80 ", 80, true},
		{"10", minimumWidth, true},
		{"", 0, false},
		{"wide", 0, false},
	}

	for _, tc := range tcs {
		width, ok := parseWidth(tc.input)
		if width != tc.width || ok != tc.ok {
			t.Errorf("parseWidth(%q): got (%d, %v), expected (%d, %v)",
				tc.input, width, ok, tc.width, tc.ok)
		}
	}
}

func TestCliFlags(t *testing.T) {
	t.Parallel()

	seen := make(map[string]bool)
	for _, f := range GetCliFlags() {
		for _, name := range f.Names() {
			if seen[name] {
				t.Errorf("Duplicate flag: %s", name)
			}
			seen[name] = true
		}

		ef, ok := f.(interface{ GetEnvVars() []string })
		if !ok {
			continue
		}
		envVars := ef.GetEnvVars()
		if len(envVars) == 0 || !strings.HasPrefix(envVars[0], "MEDIACACHE_") {
			t.Errorf("Flag %s should have a MEDIACACHE_ environment variable, got %v",
				f.Names()[0], envVars)
		}
	}

	for _, required := range []string{"dir", "config_file", "max_segment_size", "fetch.enabled"} {
		if !seen[required] {
			t.Errorf("Missing flag: %s", required)
		}
	}
}

func TestEnv(t *testing.T) {
	t.Parallel()

	got := env("s3.aws_profile", "AWS_PROFILE")
	if len(got) != 2 || got[0] != "MEDIACACHE_S3_AWS_PROFILE" || got[1] != "AWS_PROFILE" {
		t.Errorf("Unexpected environment variables %v", got)
	}

	got = env("dir")
	if len(got) != 1 || got[0] != "MEDIACACHE_DIR" {
		t.Errorf("Unexpected environment variables %v", got)
	}
}
