package consolidate

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
)

// maxVerifyErrors caps the detail messages collected by Verify.
const maxVerifyErrors = 50

// VerifyResult contains the results of checking a consolidated file.
type VerifyResult struct {
	Valid         bool     // true if the header exists and every row passes
	Header        string   // header fields joined with commas
	Rows          int      // data rows, header excluded
	InvalidRows   int      // rows CheckRow rejects (including malformed records)
	DuplicateRows int      // rows whose timestamp appeared earlier
	Errors        []string // detailed messages, capped
}

// Verify checks that r holds a well-formed consolidated file: a header
// followed by rows that all pass CheckRow and carry distinct timestamps.
//
// Returns an error only if r can not be read. Invalid content is reported in
// the VerifyResult with Valid=false.
func Verify(r io.Reader) (*VerifyResult, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	result := &VerifyResult{Valid: true, Errors: make([]string, 0)}

	header, err := cr.Read()
	if err == io.EOF {
		result.Valid = false
		result.addError("missing header")
		return result, nil
	}
	if err != nil {
		var pe *csv.ParseError
		if !errors.As(err, &pe) {
			return nil, fmt.Errorf("consolidate: read header: %w", err)
		}
		result.Valid = false
		result.addError(fmt.Sprintf("malformed header: %v", err))
	}
	result.Header = strings.Join(header, ",")

	seen := make(map[string]int)
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			var pe *csv.ParseError
			if !errors.As(err, &pe) {
				return nil, fmt.Errorf("consolidate: read row: %w", err)
			}
			result.Rows++
			result.Valid = false
			result.InvalidRows++
			result.addError(fmt.Sprintf("line %d: %s", pe.StartLine, Malformed))
			continue
		}
		result.Rows++

		line, _ := cr.FieldPos(0)
		if reason := CheckRow(rec); reason != Accepted {
			result.Valid = false
			result.InvalidRows++
			result.addError(fmt.Sprintf("line %d: %s", line, reason))
			continue
		}

		ts := rec[FieldTimestamp]
		if first, dup := seen[ts]; dup {
			result.Valid = false
			result.DuplicateRows++
			result.addError(fmt.Sprintf("line %d: duplicate timestamp %q (first on line %d)", line, ts, first))
			continue
		}
		seen[ts] = line
	}

	return result, nil
}

func (v *VerifyResult) addError(msg string) {
	if len(v.Errors) < maxVerifyErrors {
		v.Errors = append(v.Errors, msg)
	}
}
