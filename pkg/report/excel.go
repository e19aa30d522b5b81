// Package report exports batch measurements as an Excel workbook, optionally
// bundled with the annotated images in a zip archive.
package report

import (
	"fmt"
	"image/color"
	"io"
	"sort"

	"github.com/xuri/excelize/v2"
	"gonum.org/v1/gonum/stat"

	"pesplanus/internal/models"
	"pesplanus/pkg/angle"
	"pesplanus/pkg/visualization"
)

const (
	// MeasurementSheet lists one row per study
	MeasurementSheet = "Measurements"

	// SummarySheet counts studies per diagnosis
	SummarySheet = "Summary"
)

// Columns are the headers of the measurement sheet.
var Columns = []string{
	"File", "Patient ID", "Name", "Side", "Angle (deg)",
	"Diagnosis", "Status", "Confirmed", "Virtual Ground", "Error", "Image",
}

// imageColumn is the 1-based column of the image link
const imageColumn = 11

var columnWidths = []float64{32, 14, 28, 6, 12, 20, 11, 11, 14, 50, 48}

// WriteExcel writes the report workbook to path. images maps a study path
// to the location of its annotated image, written as a link in the Image
// column; nil leaves the column empty.
func WriteExcel(path string, studies []*models.Study, images map[string]string) error {
	f, err := Build(studies, images)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("failed to save report: %w", err)
	}
	return nil
}

// Write streams the report workbook to w.
func Write(w io.Writer, studies []*models.Study, images map[string]string) error {
	f, err := Build(studies, images)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.Write(w)
}

// Build creates the report workbook. Studies are written in the given
// order; call models.SortStudies first for the standard layout. images is
// as for WriteExcel.
func Build(studies []*models.Study, images map[string]string) (*excelize.File, error) {
	f := excelize.NewFile()
	if err := f.SetSheetName("Sheet1", MeasurementSheet); err != nil {
		f.Close()
		return nil, err
	}
	if err := writeMeasurements(f, studies, images); err != nil {
		f.Close()
		return nil, fmt.Errorf("measurement sheet: %w", err)
	}
	if err := writeSummary(f, studies); err != nil {
		f.Close()
		return nil, fmt.Errorf("summary sheet: %w", err)
	}
	return f, nil
}

func writeMeasurements(f *excelize.File, studies []*models.Study, images map[string]string) error {
	sheet := MeasurementSheet

	header, err := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Color: "#FFFFFF"},
		Fill:      excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{"#305496"}},
		Alignment: &excelize.Alignment{Horizontal: "center"},
	})
	if err != nil {
		return err
	}
	if err := f.SetSheetRow(sheet, "A1", &Columns); err != nil {
		return err
	}
	last, _ := excelize.ColumnNumberToName(len(Columns))
	if err := f.SetCellStyle(sheet, "A1", last+"1", header); err != nil {
		return err
	}
	for i, w := range columnWidths {
		col, _ := excelize.ColumnNumberToName(i + 1)
		if err := f.SetColWidth(sheet, col, col, w); err != nil {
			return err
		}
	}

	styles := make(map[angle.Diagnosis]int)
	for i, s := range studies {
		row := i + 2
		cell := func(col int) string {
			name, _ := excelize.CoordinatesToCellName(col, row)
			return name
		}

		values := []interface{}{
			s.Filename, s.PatientID, s.PatientName, string(s.Side), nil,
			s.Diagnosis(), string(s.Status), yesNo(s.Confirmed), yesNo(s.VirtualGround), s.Error,
		}
		if err := f.SetSheetRow(sheet, cell(1), &values); err != nil {
			return err
		}
		if link, ok := images[s.Path]; ok {
			if err := f.SetCellValue(sheet, cell(imageColumn), link); err != nil {
				return err
			}
			if err := f.SetCellHyperLink(sheet, cell(imageColumn), link, "External"); err != nil {
				return err
			}
		}

		if s.Result == nil {
			continue
		}
		if err := f.SetCellFloat(sheet, cell(5), s.Result.AngleDegrees, 1, 64); err != nil {
			return err
		}
		id, ok := styles[s.Result.Diagnosis]
		if !ok {
			id, err = f.NewStyle(&excelize.Style{
				Fill: excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{hexColor(visualization.DiagnosisColor(s.Result.Diagnosis))}},
				Font: &excelize.Font{Color: "#FFFFFF", Bold: true},
			})
			if err != nil {
				return err
			}
			styles[s.Result.Diagnosis] = id
		}
		if err := f.SetCellStyle(sheet, cell(6), cell(6), id); err != nil {
			return err
		}
	}

	if err := f.SetPanes(sheet, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		return err
	}
	lastRow := len(studies) + 1
	return f.AutoFilter(sheet, fmt.Sprintf("A1:%s%d", last, lastRow), nil)
}

// writeSummary lists the number of studies and the mean angle per diagnosis,
// plus the failed count.
func writeSummary(f *excelize.File, studies []*models.Study) error {
	sheet := SummarySheet
	if _, err := f.NewSheet(sheet); err != nil {
		return err
	}

	angles := make(map[angle.Diagnosis][]float64)
	var failed int
	for _, s := range studies {
		switch {
		case s.Result != nil:
			angles[s.Result.Diagnosis] = append(angles[s.Result.Diagnosis], s.Result.AngleDegrees)
		case s.Status == models.StatusFailed:
			failed++
		}
	}

	diagnoses := make([]angle.Diagnosis, 0, len(angles))
	for d := range angles {
		diagnoses = append(diagnoses, d)
	}
	sort.Slice(diagnoses, func(i, j int) bool { return diagnoses[i].Label() < diagnoses[j].Label() })

	if err := f.SetSheetRow(sheet, "A1", &[]string{"Diagnosis", "Count", "Mean Angle (deg)"}); err != nil {
		return err
	}
	row := 2
	for _, d := range diagnoses {
		values := angles[d]
		if err := f.SetSheetRow(sheet, fmt.Sprintf("A%d", row), &[]interface{}{d.Label(), len(values)}); err != nil {
			return err
		}
		if err := f.SetCellFloat(sheet, fmt.Sprintf("C%d", row), stat.Mean(values, nil), 1, 64); err != nil {
			return err
		}
		row++
	}
	if err := f.SetSheetRow(sheet, fmt.Sprintf("A%d", row), &[]interface{}{"Failed", failed}); err != nil {
		return err
	}
	return f.SetSheetRow(sheet, fmt.Sprintf("A%d", row+1), &[]interface{}{"Total", len(studies)})
}

func yesNo(b bool) string {
	if b {
		return "Yes"
	}
	return "No"
}

func hexColor(c color.RGBA) string {
	return fmt.Sprintf("#%02X%02X%02X", c.R, c.G, c.B)
}
