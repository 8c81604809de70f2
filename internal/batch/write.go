package batch

import (
	"encoding/csv"
	"encoding/json"
	"io"
	"strconv"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/soilmap/internal/api"
)

// Output formats.
const (
	FormatJSON = "json"
	FormatCSV  = "csv"
	FormatXLSX = "xlsx"
)

// Record is the flat, per-row form shared by every output format.
type Record struct {
	ID            string  `json:"id"`
	Line          int     `json:"line"`
	Latitude      string  `json:"latitude"`
	Longitude     string  `json:"longitude"`
	Status        string  `json:"status"`
	State         string  `json:"state,omitempty"`
	District      string  `json:"district,omitempty"`
	SoilType      string  `json:"soilType,omitempty"`
	Confidence    string  `json:"confidence,omitempty"`
	Distance      float64 `json:"distance,omitempty"`
	Profiled      bool    `json:"profiled,omitempty"`
	Texture       string  `json:"texture,omitempty"`
	PH            string  `json:"ph,omitempty"`
	PHRange       string  `json:"phRange,omitempty"`
	OrganicCarbon float64 `json:"organicCarbon,omitempty"`
	NStatus       string  `json:"nStatus,omitempty"`
	PStatus       string  `json:"pStatus,omitempty"`
	KStatus       string  `json:"kStatus,omitempty"`
	Message       string  `json:"message,omitempty"`
}

var recordHeader = []string{
	"id", "line", "latitude", "longitude", "status",
	"state", "district", "soil_type", "confidence", "distance", "profiled",
	"texture", "ph", "ph_range", "organic_carbon", "n_status", "p_status", "k_status",
	"message",
}

// Record flattens the outcome.
func (o Outcome) Record() Record {
	rec := Record{
		ID:        o.Row.ID,
		Line:      o.Row.Line,
		Latitude:  o.Row.Latitude,
		Longitude: o.Row.Longitude,
		Status:    o.Status(),
	}
	switch {
	case o.Err != nil:
		_, f := api.FromError(o.Err)
		rec.Message = f.Message
	case !o.Result.Resolved():
		rec.Message = api.NewFailure(rec.Status).Message
	default:
		r, p := o.Result.Region, o.Result.Profile
		rec.State = r.Parent
		rec.District = r.Name
		rec.SoilType = string(r.PrimarySoilType)
		rec.Confidence = string(o.Result.Confidence)
		rec.Distance = o.Result.Distance
		rec.Profiled = o.Result.Profiled
		rec.Texture = p.Texture
		rec.PH = p.PH.String()
		rec.PHRange = p.PHRange
		rec.OrganicCarbon = p.OrganicCarbon
		rec.NStatus = string(p.NStatus)
		rec.PStatus = string(p.PStatus)
		rec.KStatus = string(p.KStatus)
	}
	return rec
}

func (r Record) strings() []string {
	return []string{
		r.ID, strconv.Itoa(r.Line), r.Latitude, r.Longitude, r.Status,
		r.State, r.District, r.SoilType, r.Confidence, formatFloat(r.Distance), strconv.FormatBool(r.Profiled),
		r.Texture, r.PH, r.PHRange, formatFloat(r.OrganicCarbon), r.NStatus, r.PStatus, r.KStatus,
		r.Message,
	}
}

func formatFloat(v float64) string {
	if v == 0 {
		return ""
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// Report is the JSON document written by WriteJSON.
type Report struct {
	Summary Summary  `json:"summary"`
	Results []Record `json:"results"`
}

// WriteJSON writes the summary and one record per outcome.
func WriteJSON(w io.Writer, outcomes []Outcome, sum Summary) error {
	rep := Report{Summary: sum, Results: make([]Record, 0, len(outcomes))}
	for _, o := range outcomes {
		rep.Results = append(rep.Results, o.Record())
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(rep); err != nil {
		return eris.Wrap(err, "batch: write json")
	}
	return nil
}

// WriteCSV writes a header row and one row per outcome.
func WriteCSV(w io.Writer, outcomes []Outcome) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(recordHeader); err != nil {
		return eris.Wrap(err, "batch: write csv header")
	}
	for _, o := range outcomes {
		if err := cw.Write(o.Record().strings()); err != nil {
			return eris.Wrapf(err, "batch: write csv line %d", o.Row.Line)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return eris.Wrap(err, "batch: flush csv")
	}
	return nil
}

// WriteXLSX saves a workbook with a results sheet and a summary sheet.
func WriteXLSX(path string, outcomes []Outcome, sum Summary) error {
	f := xlsx.NewFile()

	results, err := f.AddSheet("results")
	if err != nil {
		return eris.Wrap(err, "batch: add results sheet")
	}
	addStringRow(results, recordHeader)
	for _, o := range outcomes {
		addStringRow(results, o.Record().strings())
	}

	summary, err := f.AddSheet("summary")
	if err != nil {
		return eris.Wrap(err, "batch: add summary sheet")
	}
	for _, kv := range []struct {
		name  string
		count int
	}{
		{"total", sum.Total},
		{"high", sum.High},
		{"medium", sum.Medium},
		{"unresolved", sum.Unresolved},
		{"invalid", sum.Invalid},
		{"failed", sum.Failed},
	} {
		row := summary.AddRow()
		row.AddCell().SetString(kv.name)
		row.AddCell().SetInt(kv.count)
	}

	if err := f.Save(path); err != nil {
		return eris.Wrap(err, "batch: save xlsx")
	}
	return nil
}

func addStringRow(sheet *xlsx.Sheet, values []string) {
	row := sheet.AddRow()
	for _, v := range values {
		row.AddCell().SetString(v)
	}
}
