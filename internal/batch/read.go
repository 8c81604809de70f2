package batch

import (
	"encoding/csv"
	"io"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/soilmap/internal/resolve"
)

var (
	idHeaders  = []string{"id"}
	latHeaders = []string{"latitude", "lat"}
	lonHeaders = []string{"longitude", "lon", "lng"}
)

// ReadCSV reads rows from CSV with a header naming id, latitude and
// longitude columns. Other columns are ignored. Unparsable coordinates are
// kept as rows with ParseErr set.
func ReadCSV(r io.Reader) ([]Row, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1 // allow variable fields
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err == io.EOF {
		return nil, eris.New("batch: csv is empty")
	}
	if err != nil {
		return nil, eris.Wrap(err, "batch: read csv header")
	}

	cols, err := locateColumns(header)
	if err != nil {
		return nil, err
	}

	var rows []Row
	line := 1
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return nil, eris.Wrapf(err, "batch: read csv line %d", line)
		}
		rows = append(rows, cols.row(line, record))
	}
	return rows, nil
}

// ReadXLSX reads rows from the first sheet of a workbook laid out like the
// CSV input.
func ReadXLSX(path string) ([]Row, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "batch: open xlsx")
	}
	if len(f.Sheets) == 0 {
		return nil, eris.New("batch: workbook has no sheets")
	}
	sheet := f.Sheets[0]
	if len(sheet.Rows) == 0 {
		return nil, eris.New("batch: sheet is empty")
	}

	cols, err := locateColumns(cellStrings(sheet.Rows[0]))
	if err != nil {
		return nil, err
	}
	rows := make([]Row, 0, len(sheet.Rows)-1)
	for i, r := range sheet.Rows[1:] {
		cells := cellStrings(r)
		if blank(cells) {
			continue
		}
		rows = append(rows, cols.row(i+2, cells))
	}
	return rows, nil
}

type columns struct {
	id, lat, lon int
}

func locateColumns(header []string) (columns, error) {
	c := columns{id: -1, lat: -1, lon: -1}
	for i, h := range header {
		name := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
		switch {
		case c.id < 0 && contains(idHeaders, name):
			c.id = i
		case c.lat < 0 && contains(latHeaders, name):
			c.lat = i
		case c.lon < 0 && contains(lonHeaders, name):
			c.lon = i
		}
	}
	if c.lat < 0 || c.lon < 0 {
		return c, eris.New("batch: header must include latitude and longitude columns")
	}
	return c, nil
}

func (c columns) row(line int, record []string) Row {
	row := Row{
		Line:      line,
		ID:        field(record, c.id),
		Latitude:  field(record, c.lat),
		Longitude: field(record, c.lon),
	}
	row.Query, row.ParseErr = resolve.ParseQueryStrings(row.Latitude, row.Longitude)
	return row
}

func field(record []string, i int) string {
	if i < 0 || i >= len(record) {
		return ""
	}
	return strings.TrimSpace(record[i])
}

func contains(names []string, s string) bool {
	for _, n := range names {
		if n == s {
			return true
		}
	}
	return false
}

func cellStrings(row *xlsx.Row) []string {
	cells := make([]string, len(row.Cells))
	for j, cell := range row.Cells {
		cells[j] = cell.String()
	}
	return cells
}

func blank(cells []string) bool {
	for _, c := range cells {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
