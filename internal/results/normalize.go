package results

import (
	"bufio"
	"encoding/csv"
	"io"
	"os"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/hearbird/hearbird/internal/errors"
)

var (
	// unitSuffix matches the "(s)" seconds unit and its surrounding space
	unitSuffix = regexp.MustCompile(`(?i)\s*\(s\)\s*`)
	// separators splits a header into alphanumeric tokens
	separators = regexp.MustCompile(`[^0-9A-Za-z]+`)
)

const utf8BOM = "\ufeff"

// NormalizeHeader converts an analyzer column name into a lowerCamelCase
// key. It returns false when the column must be dropped: the "file" column,
// or a header with no alphanumeric content.
//
//	"Common name" -> "commonName"
//	"Start (s)"   -> "start"
//	"commonName"  -> "commonName"
func NormalizeHeader(header string) (string, bool) {
	if strings.ToLower(strings.TrimSpace(header)) == "file" {
		return "", false
	}

	cleaned := strings.TrimSpace(unitSuffix.ReplaceAllString(header, " "))

	var b strings.Builder
	for _, token := range tokenize(cleaned) {
		if b.Len() == 0 {
			b.WriteString(strings.ToLower(token))
			continue
		}
		r, size := utf8.DecodeRuneInString(token)
		b.WriteRune(unicode.ToUpper(r))
		b.WriteString(token[size:])
	}

	if b.Len() == 0 {
		return "", false
	}
	return b.String(), true
}

// tokenize splits on runs of non-alphanumerics and also at lower-to-upper
// and digit-to-upper transitions, which a plain separator split would not
// do. Names that are already camel case keep their word breaks, so
// normalizing a normalized key returns it unchanged ("commonName" stays
// "commonName" rather than becoming "commonname").
func tokenize(s string) []string {
	var tokens []string
	for _, part := range separators.Split(s, -1) {
		start := 0
		for i := 1; i < len(part); i++ {
			prev, cur := rune(part[i-1]), rune(part[i])
			if unicode.IsUpper(cur) && (unicode.IsLower(prev) || unicode.IsDigit(prev)) {
				tokens = append(tokens, part[start:i])
				start = i
			}
		}
		if start < len(part) {
			tokens = append(tokens, part[start:])
		}
	}
	return tokens
}

// Normalize reads the CSV table at path
func Normalize(path string) ([]Record, error) {
	f, err := os.Open(path) // #nosec G304 -- path comes from Locate inside a scratch dir
	if err != nil {
		return nil, errors.New(err).
			Component("results").
			Category(errors.CategoryFileIO).
			Context("operation", "open_results").
			Build()
	}
	defer func() { _ = f.Close() }()

	return NormalizeReader(f)
}

// column maps a source column index to its output key
type column struct {
	index int
	key   string
}

// NormalizeReader parses a header-first CSV table into records. Values are
// kept as raw strings, rows keep file order and rows shorter than the header
// get empty values for the missing columns.
func NormalizeReader(r io.Reader) ([]Record, error) {
	br := bufio.NewReader(r)
	if head, err := br.Peek(len(utf8BOM)); err == nil && string(head) == utf8BOM {
		_, _ = br.Discard(len(utf8BOM))
	}

	reader := csv.NewReader(br)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return []Record{}, nil
	}
	if err != nil {
		return nil, parseError(err, 1)
	}

	// Two headers normalizing to the same key keep the first position and
	// the last column's value
	columns := make([]column, 0, len(header))
	positions := make(map[string]int, len(header))
	for i, name := range header {
		key, ok := NormalizeHeader(name)
		if !ok {
			continue
		}
		if pos, dup := positions[key]; dup {
			columns[pos].index = i
			continue
		}
		positions[key] = len(columns)
		columns = append(columns, column{index: i, key: key})
	}

	records := []Record{}
	for line := 2; ; line++ {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, parseError(err, line)
		}

		rec := make(Record, 0, len(columns))
		for _, col := range columns {
			value := ""
			if col.index < len(row) {
				value = row[col.index]
			}
			rec = append(rec, Field{Key: col.key, Value: value})
		}
		records = append(records, rec)
	}

	return records, nil
}

func parseError(err error, line int) error {
	return errors.New(err).
		Component("results").
		Category(errors.CategoryFileParsing).
		Context("operation", "parse_results").
		Context("line", line).
		Build()
}
