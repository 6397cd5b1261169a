package transforms

import (
	"bufio"
	"regexp"
	"strconv"
	"strings"

	"git.home.luguber.info/inful/frontbuild/internal/stage"
)

var (
	// file.ts(12,5): error TS2322: message
	tscPlain = regexp.MustCompile(`^(.+?)\((\d+),(\d+)\):\s+(?:error|warning)\s+(TS\d+):\s*(.*)$`)
	// file.ts:12:5 - error TS2322: message
	tscPretty = regexp.MustCompile(`^(.+?):(\d+):(\d+)\s+-\s+(?:error|warning)\s+(TS\d+):\s*(.*)$`)
	// error TS5058: message (no location)
	tscGlobal = regexp.MustCompile(`^(?:error|warning)\s+(TS\d+):\s*(.*)$`)
	// file.js:3:14: ERROR: message
	bundlerLine = regexp.MustCompile(`^(.+?):(\d+):(\d+):\s+(?:ERROR|error):\s*(.*)$`)
)

// ParseDiagnostics extracts located compiler and bundler messages from tool
// output. Lines that match no known form are ignored.
func ParseDiagnostics(output string) []stage.Diagnostic {
	var diags []stage.Diagnostic
	sc := bufio.NewScanner(strings.NewReader(output))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), "\r")
		trimmed := strings.TrimSpace(line)
		if m := tscPlain.FindStringSubmatch(trimmed); m != nil {
			diags = append(diags, located(m[1], m[2], m[3], m[4], m[5]))
			continue
		}
		if m := tscPretty.FindStringSubmatch(trimmed); m != nil {
			diags = append(diags, located(m[1], m[2], m[3], m[4], m[5]))
			continue
		}
		if m := tscGlobal.FindStringSubmatch(trimmed); m != nil {
			diags = append(diags, stage.Diagnostic{Code: m[1], Message: m[2]})
			continue
		}
		if m := bundlerLine.FindStringSubmatch(trimmed); m != nil {
			diags = append(diags, located(m[1], m[2], m[3], "", m[4]))
		}
	}
	return diags
}

func located(file, line, col, code, msg string) stage.Diagnostic {
	l, _ := strconv.Atoi(line)
	c, _ := strconv.Atoi(col)
	return stage.Diagnostic{File: file, Line: l, Column: c, Code: code, Message: strings.TrimSpace(msg)}
}
