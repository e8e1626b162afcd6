// Package ingest turns uploaded delimited text into feedback records.
package ingest

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/linnemanlabs/feedforward/internal/feedback"
)

// TextColumns are the header names, in preference order, recognized as the
// feedback-text column when Options.TextColumn is empty.
var TextColumns = []string{"text", "feedback", "feedback_text", "comment", "message", "review"}

// Options tunes ParseRows.
type Options struct {
	// Delimiter separates fields. Zero means ','.
	Delimiter rune

	// TextColumn names the feedback-text column. Empty means the first
	// header matching TextColumns.
	TextColumn string
}

// Skip records a data line the parser could not use.
type Skip struct {
	Line   int    `json:"line"`
	Reason string `json:"reason"`
}

// Rows is the outcome of parsing one upload.
type Rows struct {
	Header     []string          `json:"header"`
	TextColumn string            `json:"text_column"`
	Records    []feedback.Record `json:"records"`

	// Dropped counts data lines whose feedback text was empty.
	Dropped int    `json:"dropped"`
	Skipped []Skip `json:"skipped,omitempty"`
}

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// ParseRows reads delimited text whose first line is a header. Row-level
// problems are isolated to the row: short rows are padded, surplus values
// land under column_<n> keys, and lines the reader rejects are listed in
// Skipped. Only a missing header is an error.
func ParseRows(r io.Reader, opts Options) (*Rows, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read upload: %w", err)
	}
	data = bytes.TrimPrefix(data, utf8BOM)

	cr := csv.NewReader(bytes.NewReader(data))
	if opts.Delimiter != 0 {
		cr.Comma = opts.Delimiter
	}
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, feedback.Invalid("no CSV data to process")
	}
	if err != nil {
		return nil, feedback.Invalid(fmt.Sprintf("unreadable CSV header: %v", err))
	}
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}

	textCol := resolveTextColumn(header, opts.TextColumn)
	if textCol == "" {
		return nil, feedback.Invalid("CSV header has no feedback text column")
	}

	out := &Rows{Header: header, TextColumn: textCol}

	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var pe *csv.ParseError
			if !errors.As(err, &pe) {
				out.Skipped = append(out.Skipped, Skip{Reason: err.Error()})
				break
			}
			if rec == nil {
				out.Skipped = append(out.Skipped, Skip{Line: pe.StartLine, Reason: pe.Err.Error()})
				continue
			}
		}
		line, _ := cr.FieldPos(0)

		if blank(rec) {
			continue
		}

		fields := toFields(header, rec)
		text := strings.TrimSpace(fields[textCol])
		if text == "" {
			out.Dropped++
			continue
		}

		out.Records = append(out.Records, feedback.Record{
			Text:   text,
			Fields: fields,
			Line:   line,
		})
	}

	return out, nil
}

// resolveTextColumn returns the header token used as record text.
func resolveTextColumn(header []string, want string) string {
	if want != "" {
		for _, h := range header {
			if strings.EqualFold(h, want) {
				return h
			}
		}
		return ""
	}
	for _, c := range TextColumns {
		for _, h := range header {
			if strings.EqualFold(h, c) {
				return h
			}
		}
	}
	return ""
}

func toFields(header, rec []string) map[string]string {
	fields := make(map[string]string, len(header))
	for i, h := range header {
		if i < len(rec) {
			fields[h] = rec[i]
		} else {
			fields[h] = ""
		}
	}
	for i := len(header); i < len(rec); i++ {
		fields[fmt.Sprintf("column_%d", i+1)] = rec[i]
	}
	return fields
}

func blank(rec []string) bool {
	for _, v := range rec {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
