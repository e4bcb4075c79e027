// Package report turns ranged attendance queries into per-day aggregates
// and CSV/XLSX exports for the operator.
package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"sort"
	"strconv"

	"github.com/xuri/excelize/v2"

	"faceconsole/internal/timeutil"
	"faceconsole/internal/upstream"
)

// DailyAggregate counts scans per civil day in the deployment zone.
type DailyAggregate struct {
	Date    string `json:"date"`
	Count   int    `json:"count"`
	Success int    `json:"success"`
	Failed  int    `json:"failed"`
	Unknown int    `json:"unknown"`
}

// Aggregate groups events by civil day, oldest first. Events without a
// usable timestamp cannot be dated and are left out.
func Aggregate(events []upstream.AttendanceEvent) []DailyAggregate {
	byDay := make(map[string]*DailyAggregate)
	for _, ev := range events {
		if ev.Timestamp.IsZero() {
			continue
		}
		day := timeutil.CivilDate(ev.Timestamp.Time)
		agg, ok := byDay[day]
		if !ok {
			agg = &DailyAggregate{Date: day}
			byDay[day] = agg
		}
		agg.Count++
		switch ev.Status {
		case upstream.ScanSuccess:
			agg.Success++
		case upstream.ScanFailed:
			agg.Failed++
		default:
			agg.Unknown++
		}
	}

	out := make([]DailyAggregate, 0, len(byDay))
	for _, agg := range byDay {
		out = append(out, *agg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	return out
}

func displayName(ev upstream.AttendanceEvent) string {
	if ev.UserName != nil && *ev.UserName != "" {
		return *ev.UserName
	}
	return "Unknown"
}

var exportHeader = []string{"ID", "Name", "Date", "Time", "Status"}

func exportRow(ev upstream.AttendanceEvent) []string {
	date, clock := "", timeutil.SentinelTime
	if !ev.Timestamp.IsZero() {
		date = timeutil.CivilDate(ev.Timestamp.Time)
		clock = timeutil.FormatTime(ev.Timestamp.Time)
	}
	return []string{
		strconv.FormatInt(ev.ID, 10),
		displayName(ev),
		date,
		clock,
		ev.Status,
	}
}

// WriteCSV streams the events as CSV.
func WriteCSV(w io.Writer, events []upstream.AttendanceEvent) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(exportHeader); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for _, ev := range events {
		if err := cw.Write(exportRow(ev)); err != nil {
			return fmt.Errorf("write row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteXLSX writes a workbook with an Attendance sheet of raw events and a
// Daily sheet of aggregates.
func WriteXLSX(w io.Writer, events []upstream.AttendanceEvent) error {
	f := excelize.NewFile()
	defer f.Close()

	const eventSheet = "Attendance"
	if err := f.SetSheetName("Sheet1", eventSheet); err != nil {
		return err
	}
	if err := setRow(f, eventSheet, 1, exportHeader); err != nil {
		return err
	}
	for i, ev := range events {
		if err := setRow(f, eventSheet, i+2, exportRow(ev)); err != nil {
			return err
		}
	}

	const dailySheet = "Daily"
	if _, err := f.NewSheet(dailySheet); err != nil {
		return err
	}
	if err := setRow(f, dailySheet, 1, []string{"Date", "Count", "Success", "Failed", "Unknown"}); err != nil {
		return err
	}
	for i, agg := range Aggregate(events) {
		row := []string{
			agg.Date,
			strconv.Itoa(agg.Count),
			strconv.Itoa(agg.Success),
			strconv.Itoa(agg.Failed),
			strconv.Itoa(agg.Unknown),
		}
		if err := setRow(f, dailySheet, i+2, row); err != nil {
			return err
		}
	}

	_, err := f.WriteTo(w)
	return err
}

func setRow(f *excelize.File, sheet string, row int, values []string) error {
	for col, v := range values {
		cell, err := excelize.CoordinatesToCellName(col+1, row)
		if err != nil {
			return err
		}
		if err := f.SetCellValue(sheet, cell, v); err != nil {
			return err
		}
	}
	return nil
}
