package flags

import (
	"io"
	"log"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"text/tabwriter"
	"text/template"
)

const (
	// Used when the console width is unknown. Wide enough that nothing
	// gets wrapped.
	defaultWidth = 10000

	// Narrower consoles are treated as this wide.
	minimumWidth = 30
)

// Template is the layout of the --help output.
var Template = `mediacache - An on-device cache for remote media

USAGE:
   {{.Name}} [options]

OPTIONS:
   {{range $index, $option := .VisibleFlags}}{{if $index}}
   {{end}}{{wrap $option.String 6}}
{{end}}`

// HelpPrinter renders templ with flag descriptions wrapped to the width
// of the console. It has the signature of cli.HelpPrinterCustom.
func HelpPrinter(out io.Writer, templ string, data interface{}, customFuncs map[string]interface{}) {
	width := getConsoleWidth()

	t := template.Must(template.New("help").Funcs(template.FuncMap{
		"wrap": func(input string, indent int) string {
			return wrap(input, indent, width)
		},
	}).Parse(templ))

	w := tabwriter.NewWriter(out, 1, 8, 2, ' ', 0)
	if err := t.Execute(w, data); err != nil {
		log.Fatalf("Unable to render help text: %v", err)
	}
	if err := w.Flush(); err != nil {
		log.Fatalf("Unable to write help text: %v", err)
	}
}

// wrap folds every line of input to width columns. Continuation lines
// and the lines following the first are indented by indent spaces.
func wrap(input string, indent int, width int) string {
	pad := strings.Repeat(" ", indent)

	var out []string
	for _, line := range strings.Split(input, "\n") {
		out = append(out, wrapLine(line, width, pad))
	}
	return strings.Join(out, "\n"+pad)
}

// wrapLine breaks a single line at spaces so that, after the pad prefix,
// no line exceeds width unless it holds one overlong word. Runs of
// whitespace collapse to a single space when the line is broken.
func wrapLine(input string, width int, pad string) string {
	limit := width - len(pad)
	if limit <= 0 || len(input) <= limit {
		return input
	}

	words := strings.Fields(input)
	if len(words) == 0 {
		return input
	}

	var lines []string
	current := words[0]
	for _, word := range words[1:] {
		if len(current)+1+len(word) > limit {
			lines = append(lines, current)
			current = word
			continue
		}
		current += " " + word
	}
	lines = append(lines, current)

	return strings.Join(lines, "\n"+pad)
}

// parseWidth interprets s as a column count, clamped to minimumWidth.
func parseWidth(s string) (int, bool) {
	width, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, false
	}
	return max(width, minimumWidth), true
}

func getConsoleWidth() int {
	if width, ok := parseWidth(os.Getenv("COLUMNS")); ok {
		return width
	}

	cmd := exec.Command("tput", "cols")
	cmd.Stdin = os.Stdin
	out, err := cmd.Output()
	if err != nil {
		return defaultWidth
	}
	if width, ok := parseWidth(string(out)); ok {
		return width
	}
	return defaultWidth
}
