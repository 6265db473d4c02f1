package reports

import (
	"fmt"

	"github.com/xuri/excelize/v2"
)

// BuildPeriodMetricsWorkbook renders a report as an xlsx workbook. The caller
// owns the file and is responsible for closing it.
func BuildPeriodMetricsWorkbook(report *PeriodMetricsReport) (*excelize.File, error) {

	f := excelize.NewFile()
	sheetName := "Sheet1"
	_, err := f.NewSheet(sheetName)
	if err != nil {
		return nil, err
	}

	// Summary block
	f.SetCellValue(sheetName, "A1", "Period")
	f.SetCellValue(sheetName, "B1", fmt.Sprintf("%04d-%02d", report.Year, report.Month))
	f.SetCellValue(sheetName, "A2", "Collected")
	f.SetCellValue(sheetName, "B2", report.Collected)
	f.SetCellValue(sheetName, "A3", "Outstanding")
	f.SetCellValue(sheetName, "B3", report.Outstanding)
	f.SetCellValue(sheetName, "A4", "CompliancePct")
	f.SetCellValue(sheetName, "B4", report.CompliancePct)

	row := 5
	if report.TopDebtorGroup != nil {
		f.SetCellValue(sheetName, "A"+fmt.Sprint(row), "TopDebtorGroup")
		f.SetCellValue(sheetName, "B"+fmt.Sprint(row), report.TopDebtorGroup.Name)
		f.SetCellValue(sheetName, "C"+fmt.Sprint(row), report.TopDebtorGroup.Amount)
		row++
	}
	if report.TopConcept != nil {
		f.SetCellValue(sheetName, "A"+fmt.Sprint(row), "TopConcept")
		f.SetCellValue(sheetName, "B"+fmt.Sprint(row), report.TopConcept.Name)
		f.SetCellValue(sheetName, "C"+fmt.Sprint(row), report.TopConcept.Amount)
		row++
	}
	if report.PriorYear != nil {
		f.SetCellValue(sheetName, "A"+fmt.Sprint(row), "PriorYearCollected")
		f.SetCellValue(sheetName, "B"+fmt.Sprint(row), report.PriorYear.Collected)
		row++
		f.SetCellValue(sheetName, "A"+fmt.Sprint(row), "PriorYearOutstanding")
		f.SetCellValue(sheetName, "B"+fmt.Sprint(row), report.PriorYear.Outstanding)
		row++
	}
	row++

	// Trend block
	f.SetCellValue(sheetName, "A"+fmt.Sprint(row), "Month")
	f.SetCellValue(sheetName, "B"+fmt.Sprint(row), "Collected")
	row++
	for _, m := range report.MonthlyTrend {
		f.SetCellValue(sheetName, "A"+fmt.Sprint(row), m.Month)
		f.SetCellValue(sheetName, "B"+fmt.Sprint(row), m.Amount)
		row++
	}
	row++

	// Top debtors block
	f.SetCellValue(sheetName, "A"+fmt.Sprint(row), "StudentName")
	f.SetCellValue(sheetName, "B"+fmt.Sprint(row), "Outstanding")
	f.SetCellValue(sheetName, "C"+fmt.Sprint(row), "DaysOverdue")
	f.SetCellValue(sheetName, "D"+fmt.Sprint(row), "LastPaymentDate")
	row++
	for _, d := range report.TopDebtors {
		f.SetCellValue(sheetName, "A"+fmt.Sprint(row), d.Name)
		f.SetCellValue(sheetName, "B"+fmt.Sprint(row), d.Amount)
		f.SetCellValue(sheetName, "C"+fmt.Sprint(row), d.DaysOverdue)
		if d.LastPaymentDate != nil {
			f.SetCellValue(sheetName, "D"+fmt.Sprint(row), d.LastPaymentDate.Format("2006-01-02"))
		}
		row++
	}

	return f, nil
}
