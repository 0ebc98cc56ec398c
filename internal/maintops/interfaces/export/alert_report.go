package export

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/jung-kurt/gofpdf"
	"github.com/xuri/excelize/v2"

	maintops "equipment-maintops/internal/maintops/domain"
)

const dateLayout = "2006-01-02"

// Source is the read side the report is assembled from.
type Source interface {
	ListEquipmentInstances(ctx context.Context) ([]maintops.EquipmentInstance, error)
	ListStatuses(ctx context.Context) ([]maintops.DiagnosisStatus, error)
	ListAlarmPeriods(ctx context.Context, equipmentInstanceID string) ([]*maintops.AlarmPeriod, error)
	ListAlertPeriods(ctx context.Context, equipmentInstanceID string) ([]*maintops.AlertPeriod, error)
	ListProblemDiagnoses(ctx context.Context, equipmentInstanceID string) ([]*maintops.ProblemDiagnosis, error)
}

// AlertReport is one equipment instance's maintenance picture.
type AlertReport struct {
	Instance         maintops.EquipmentInstance
	GeneratedAt      time.Time
	StatusNames      map[int64]string
	AlarmPeriods     []*maintops.AlarmPeriod
	AlertPeriods     []*maintops.AlertPeriod
	ProblemDiagnoses []*maintops.ProblemDiagnosis
}

// Collect loads the report data for an equipment instance.
func Collect(ctx context.Context, source Source, equipmentInstanceID string, now time.Time) (AlertReport, error) {
	report := AlertReport{
		Instance:    maintops.EquipmentInstance{ID: equipmentInstanceID},
		GeneratedAt: now.UTC(),
		StatusNames: make(map[int64]string),
	}
	instances, err := source.ListEquipmentInstances(ctx)
	if err != nil {
		return report, err
	}
	found := false
	for _, instance := range instances {
		if instance.ID == equipmentInstanceID {
			report.Instance = instance
			found = true
			break
		}
	}
	if !found {
		return report, maintops.NewNotFoundError("equipment_instance", equipmentInstanceID)
	}

	statuses, err := source.ListStatuses(ctx)
	if err != nil {
		return report, err
	}
	for _, status := range statuses {
		report.StatusNames[status.ID] = status.Name
	}
	if report.AlarmPeriods, err = source.ListAlarmPeriods(ctx, equipmentInstanceID); err != nil {
		return report, err
	}
	if report.AlertPeriods, err = source.ListAlertPeriods(ctx, equipmentInstanceID); err != nil {
		return report, err
	}
	if report.ProblemDiagnoses, err = source.ListProblemDiagnoses(ctx, equipmentInstanceID); err != nil {
		return report, err
	}
	return report, nil
}

// BuildAlertReportPDF renders a minimal PDF with the alert periods table.
func BuildAlertReportPDF(report AlertReport) ([]byte, error) {
	pdf := gofpdf.New("L", "mm", "A4", "")
	pdf.SetFont("Arial", "", 12)
	pdf.AddPage()

	pdf.Cell(0, 8, "Equipment Alert Report")
	pdf.Ln(10)
	pdf.SetFont("Arial", "", 10)
	pdf.Cell(0, 6, fmt.Sprintf("Equipment instance: %s", report.Instance.ID))
	pdf.Ln(5)
	if report.Instance.GeneralType != "" {
		pdf.Cell(0, 6, fmt.Sprintf("Type: %s %s", report.Instance.GeneralType, report.Instance.UniqueType))
		pdf.Ln(5)
	}
	pdf.Cell(0, 6, fmt.Sprintf("Generated: %s", report.GeneratedAt.Format(time.RFC3339)))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Alarm periods: %d  Alert periods: %d  Problem diagnoses: %d",
		len(report.AlarmPeriods), len(report.AlertPeriods), len(report.ProblemDiagnoses)))
	pdf.Ln(8)

	widths := []float64{22, 22, 45, 16, 14, 22, 22, 32, 20, 20}
	headers := []string{"From", "To", "Risk score", "Threshold", "Days", "Approx avg", "Last", "Status", "Alarms", "Diagnoses"}
	pdf.SetFont("Arial", "B", 9)
	for i, header := range headers {
		pdf.CellFormat(widths[i], 6, header, "1", 0, "C", false, 0, "")
	}
	pdf.Ln(-1)
	pdf.SetFont("Arial", "", 9)
	for _, period := range report.AlertPeriods {
		cells := []string{
			period.FromDate.Format(dateLayout),
			period.ToDate.Format(dateLayout),
			period.RiskScoreName,
			fmt.Sprintf("%g", period.Threshold),
			fmt.Sprintf("%d", period.Duration),
			fmt.Sprintf("%.1f", period.ApproxAverageRiskScore),
			fmt.Sprintf("%.1f", period.LastRiskScore),
			report.statusName(period.DiagnosisStatusID),
			yesNo(period.HasAssociatedAlarmPeriods),
			yesNo(period.HasAssociatedProblemDiagnoses),
		}
		for i, cell := range cells {
			align := "L"
			if i >= 3 && i <= 6 {
				align = "R"
			}
			pdf.CellFormat(widths[i], 6, cell, "1", 0, align, false, 0, "")
		}
		pdf.Ln(-1)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// BuildAlertReportXLSX renders one sheet per entity kind.
func BuildAlertReportXLSX(report AlertReport) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	summarySheet := "summary"
	alertSheet := "alert_periods"
	alarmSheet := "alarm_periods"
	diagnosisSheet := "problem_diagnoses"
	if err := f.SetSheetName("Sheet1", summarySheet); err != nil {
		return nil, err
	}
	for _, sheet := range []string{alertSheet, alarmSheet, diagnosisSheet} {
		if _, err := f.NewSheet(sheet); err != nil {
			return nil, err
		}
	}

	_ = f.SetCellValue(summarySheet, "A1", "Equipment Alert Report")
	_ = f.SetCellValue(summarySheet, "A3", "Equipment instance")
	_ = f.SetCellValue(summarySheet, "B3", report.Instance.ID)
	_ = f.SetCellValue(summarySheet, "A4", "General type")
	_ = f.SetCellValue(summarySheet, "B4", report.Instance.GeneralType)
	_ = f.SetCellValue(summarySheet, "A5", "Unique type")
	_ = f.SetCellValue(summarySheet, "B5", report.Instance.UniqueType)
	_ = f.SetCellValue(summarySheet, "A6", "Generated")
	_ = f.SetCellValue(summarySheet, "B6", report.GeneratedAt.Format(time.RFC3339))
	_ = f.SetCellValue(summarySheet, "A7", "Alarm periods")
	_ = f.SetCellValue(summarySheet, "B7", len(report.AlarmPeriods))
	_ = f.SetCellValue(summarySheet, "A8", "Alert periods")
	_ = f.SetCellValue(summarySheet, "B8", len(report.AlertPeriods))
	_ = f.SetCellValue(summarySheet, "A9", "Problem diagnoses")
	_ = f.SetCellValue(summarySheet, "B9", len(report.ProblemDiagnoses))

	setRow(f, alertSheet, 1, "ID", "Group", "Risk score", "Threshold", "From", "To", "Days",
		"Cumulative excess", "Approx avg", "Last", "Ongoing", "Status", "Alarm periods", "Problem diagnoses")
	for i, period := range report.AlertPeriods {
		setRow(f, alertSheet, i+2, period.ID, period.GroupID, period.RiskScoreName, period.Threshold,
			period.FromDate.Format(dateLayout), period.ToDate.Format(dateLayout), period.Duration,
			period.CumulativeExcessRiskScore, period.ApproxAverageRiskScore, period.LastRiskScore,
			period.Ongoing, report.statusName(period.DiagnosisStatusID),
			joinIDs(period.AlarmPeriodIDs), joinIDs(period.ProblemDiagnosisIDs))
	}

	setRow(f, alarmSheet, 1, "ID", "Alarm type", "From", "To", "Duration (days)", "Alert periods", "Problem diagnoses")
	for i, period := range report.AlarmPeriods {
		to, duration := "ongoing", ""
		if !period.Ongoing() {
			to = period.ToTimestamp.Format(time.RFC3339)
		}
		if period.DurationInDays != nil {
			duration = fmt.Sprintf("%.3f", *period.DurationInDays)
		}
		setRow(f, alarmSheet, i+2, period.ID, period.AlarmTypeID, period.FromTimestamp.Format(time.RFC3339),
			to, duration, joinIDs(period.AlertPeriodIDs), joinIDs(period.ProblemDiagnosisIDs))
	}

	setRow(f, diagnosisSheet, 1, "ID", "From", "To", "Days", "Problem types", "Dismissed", "Comments", "Alarm periods", "Alert periods")
	for i, diagnosis := range report.ProblemDiagnoses {
		to, days := "ongoing", ""
		if !diagnosis.Ongoing() {
			to = diagnosis.ToDate.Format(dateLayout)
		}
		if diagnosis.Duration != nil {
			days = fmt.Sprintf("%d", *diagnosis.Duration)
		}
		setRow(f, diagnosisSheet, i+2, diagnosis.ID, diagnosis.FromDate.Format(dateLayout), to, days,
			joinIDs(diagnosis.ProblemTypeIDs), diagnosis.Dismissed, diagnosis.Comments,
			joinIDs(diagnosis.AlarmPeriodIDs), joinIDs(diagnosis.AlertPeriodIDs))
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (r AlertReport) statusName(id int64) string {
	if name, ok := r.StatusNames[id]; ok {
		return name
	}
	return fmt.Sprintf("#%d", id)
}

func setRow(f *excelize.File, sheet string, row int, values ...any) {
	for i, value := range values {
		cell, err := excelize.CoordinatesToCellName(i+1, row)
		if err != nil {
			return
		}
		_ = f.SetCellValue(sheet, cell, value)
	}
}

func joinIDs(ids maintops.AssociationSet) string {
	out := ""
	for i, id := range ids {
		if i > 0 {
			out += ","
		}
		out += fmt.Sprintf("%d", id)
	}
	return out
}

func yesNo(v bool) string {
	if v {
		return "yes"
	}
	return "no"
}
