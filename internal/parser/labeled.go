package parser

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/prlens/prlens/internal/types"
)

var (
	// labelRegex matches one "Label: value" line. Labels are
	// case-insensitive; Issue/Title starts a new record.
	labelRegex = regexp.MustCompile(`^\s*(?i:(issue|title|severity|category|file|path|line|column|code|snippet|recommendation|fix|suggestion|impact|description))\s*:\s*(.*)$`)

	// horizontalRuleRegex separates records, as blank lines do.
	horizontalRuleRegex = regexp.MustCompile(`^\s*(?:-{3,}|\*{3,}|={3,}|_{3,})\s*$`)
)

// parseLabeledText parses repeated records of labeled lines. Returns false
// when the text does not look like labeled records at all.
func parseLabeledText(text string) (Result, bool) {
	lines := strings.Split(text, "\n")

	// Detection: at least one record-opening label and one other label.
	opening, others := 0, 0
	for _, line := range lines {
		m := labelRegex.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		switch strings.ToLower(m[1]) {
		case "issue", "title":
			opening++
		default:
			others++
		}
	}
	if opening == 0 || others == 0 {
		return Result{}, false
	}

	var issues []*types.Issue
	var warnings []string
	var record *labeledRecord

	flush := func() {
		if record == nil {
			return
		}
		if issue, warning := record.toIssue(); issue != nil {
			issues = append(issues, issue)
		} else if warning != "" {
			warnings = append(warnings, warning)
		}
		record = nil
	}

	for _, line := range lines {
		if strings.TrimSpace(line) == "" || horizontalRuleRegex.MatchString(line) {
			flush()
			continue
		}
		m := labelRegex.FindStringSubmatch(line)
		if m == nil {
			// Continuation of the last multi-line field.
			if record != nil {
				record.appendContinuation(line)
			}
			continue
		}
		label, value := strings.ToLower(m[1]), strings.TrimSpace(m[2])
		if label == "issue" || label == "title" {
			// A new top-level label also terminates the previous record.
			flush()
			record = &labeledRecord{}
		}
		if record == nil {
			record = &labeledRecord{}
		}
		record.set(label, value)
	}
	flush()

	return finish(issues, types.FormatLabeledText, warnings), true
}

// labeledRecord accumulates one record's fields as they are scanned.
type labeledRecord struct {
	title       string
	severity    string
	category    string
	file        string
	line        int
	column      int
	code        []string
	suggestion  string
	description []string
	lastField   string
}

func (r *labeledRecord) set(label, value string) {
	switch label {
	case "issue", "title":
		r.title = value
	case "severity":
		r.severity = value
	case "category":
		r.category = value
	case "file", "path":
		r.file = value
	case "line":
		if n, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
			r.line = n
		}
	case "column":
		if n, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
			r.column = n
		}
	case "code", "snippet":
		if value != "" {
			r.code = append(r.code, value)
		}
	case "recommendation", "fix", "suggestion":
		r.suggestion = value
	case "impact", "description":
		if value != "" {
			r.description = append(r.description, value)
		}
	}
	r.lastField = label
}

// appendContinuation attaches an unlabeled line to the last multi-line
// field (code or description).
func (r *labeledRecord) appendContinuation(line string) {
	switch r.lastField {
	case "code", "snippet":
		r.code = append(r.code, strings.TrimRight(line, " \t"))
	case "impact", "description":
		r.description = append(r.description, strings.TrimSpace(line))
	}
}

func (r *labeledRecord) toIssue() (*types.Issue, string) {
	description := strings.TrimSpace(strings.Join(r.description, "\n"))
	if r.title == "" && description == "" {
		return nil, "labeled record without title or description skipped"
	}
	issue := &types.Issue{
		Title:       r.title,
		Description: description,
		CodeSnippet: strings.TrimSpace(strings.Join(r.code, "\n")),
		Suggestion:  r.suggestion,
		Location:    normalizeLocation(r.file, r.line, r.column),
	}
	normalizeIssue(issue, r.severity, r.category)
	return issue, ""
}
