// Package recipient reads campaign recipients from a semicolon-delimited file
// with NAME, SURNAME and NUMBER header columns.
package recipient

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/tpodg/smscampaign/internal/fault"
)

const (
	DefaultFileName = "contacts.csv"
	Separator       = ';'

	ColumnName    = "NAME"
	ColumnSurname = "SURNAME"
	ColumnNumber  = "NUMBER"
)

// Recipient is a validated record. Line is the 1-based line of the record in its source.
type Recipient struct {
	Name    string `yaml:"name"`
	Surname string `yaml:"surname"`
	Number  string `yaml:"number"`
	Line    int    `yaml:"line"`
}

func (r Recipient) String() string {
	return strings.TrimSpace(r.Name + " " + r.Surname)
}

// Rejection is a record that failed validation and was left out of the batch.
type Rejection struct {
	Line    int    `yaml:"line"`
	Name    string `yaml:"name"`
	Surname string `yaml:"surname"`
	Err     error  `yaml:"-"`
}

// Batch holds the dispatchable recipients in input order and the rejected records.
type Batch struct {
	Recipients []Recipient
	Rejected   []Rejection
}

// Load reads the recipient file at path.
func Load(path string) (Batch, error) {
	f, err := os.Open(path)
	if err != nil {
		return Batch{}, fault.New(fault.Config, "open recipients", err)
	}
	defer f.Close()

	batch, err := Read(f)
	if err != nil {
		return Batch{}, fmt.Errorf("read %s: %w", path, err)
	}
	return batch, nil
}

// Read parses recipients from r. Structural problems (no header, missing
// columns) fail the whole read. Stray quotes inside a field are kept as
// text; a record that still cannot be parsed, or has an empty NUMBER, is
// reported in Batch.Rejected.
func Read(r io.Reader) (Batch, error) {
	reader := csv.NewReader(r)
	reader.Comma = Separator
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return Batch{}, fault.Errorf(fault.Config, "read header", "recipient file is empty")
	}
	if err != nil {
		return Batch{}, fault.New(fault.Config, "read header", err)
	}

	cols, err := columnIndex(header)
	if err != nil {
		return Batch{}, err
	}

	var batch Batch
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		var pe *csv.ParseError
		if errors.As(err, &pe) {
			batch.Rejected = append(batch.Rejected, Rejection{
				Line: pe.StartLine,
				Err:  fault.New(fault.Config, fmt.Sprintf("line %d", pe.StartLine), pe.Err),
			})
			continue
		}
		if err != nil {
			return Batch{}, fault.New(fault.Config, "read record", err)
		}
		line, _ := reader.FieldPos(0)

		rec := Recipient{
			Name:    field(record, cols.name),
			Surname: field(record, cols.surname),
			Number:  field(record, cols.number),
			Line:    line,
		}
		if rec.Number == "" {
			batch.Rejected = append(batch.Rejected, Rejection{
				Line:    line,
				Name:    rec.Name,
				Surname: rec.Surname,
				Err:     fault.Errorf(fault.Config, fmt.Sprintf("line %d", line), "%s is empty", ColumnNumber),
			})
			continue
		}
		batch.Recipients = append(batch.Recipients, rec)
	}
	return batch, nil
}

type columns struct {
	name, surname, number int
}

func columnIndex(header []string) (columns, error) {
	idx := make(map[string]int, len(header))
	for i, h := range header {
		h = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
		idx[strings.ToUpper(h)] = i
	}

	var missing []string
	lookup := func(name string) int {
		i, ok := idx[name]
		if !ok {
			missing = append(missing, name)
			return -1
		}
		return i
	}
	cols := columns{
		name:    lookup(ColumnName),
		surname: lookup(ColumnSurname),
		number:  lookup(ColumnNumber),
	}
	if len(missing) > 0 {
		return columns{}, fault.Errorf(fault.Config, "read header", "missing column(s): %s", strings.Join(missing, ", "))
	}
	return cols, nil
}

func field(record []string, i int) string {
	if i < 0 || i >= len(record) {
		return ""
	}
	return strings.TrimSpace(record[i])
}
