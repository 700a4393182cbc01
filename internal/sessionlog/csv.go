// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package sessionlog

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"github.com/relabs-tech/phoria/internal/gaze"
)

// Row is one line of the analysis CSV. Timestamp is seconds since the
// start of the session.
type Row struct {
	Timestamp      float64
	Stage          string
	LeftDirection  gaze.Vec3
	RightDirection gaze.Vec3
	TargetCenter   gaze.Vec3
	Offset         gaze.Offset
}

// CSVHeader lists the columns written by WriteCSV. Stage and the offset
// columns are optional when reading.
var CSVHeader = []string{
	"Timestamp", "Stage",
	"LeftEyeDirX", "LeftEyeDirY", "LeftEyeDirZ",
	"RightEyeDirX", "RightEyeDirY", "RightEyeDirZ",
	"TargetCenterX", "TargetCenterY", "TargetCenterZ",
	"OffsetHorizontalDeg", "OffsetVerticalDeg",
}

var requiredColumns = []string{
	"Timestamp",
	"LeftEyeDirX", "LeftEyeDirY", "LeftEyeDirZ",
	"RightEyeDirX", "RightEyeDirY", "RightEyeDirZ",
	"TargetCenterX", "TargetCenterY", "TargetCenterZ",
}

// Rows converts session records to CSV rows relative to meta.StartedAt.
func Rows(meta Meta, records []Record, target gaze.Vec3) []Row {
	rows := make([]Row, 0, len(records))
	for _, r := range records {
		rows = append(rows, Row{
			Timestamp:      r.Timestamp.Sub(meta.StartedAt).Seconds(),
			Stage:          r.Stage,
			LeftDirection:  r.LeftDirection,
			RightDirection: r.RightDirection,
			TargetCenter:   target,
			Offset:         r.AppliedOffsetDeg,
		})
	}
	return rows
}

// WriteCSV writes rows with CSVHeader.
func WriteCSV(w io.Writer, rows []Row) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(CSVHeader); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	f := func(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }
	for _, r := range rows {
		rec := []string{
			f(r.Timestamp), r.Stage,
			f(r.LeftDirection.X), f(r.LeftDirection.Y), f(r.LeftDirection.Z),
			f(r.RightDirection.X), f(r.RightDirection.Y), f(r.RightDirection.Z),
			f(r.TargetCenter.X), f(r.TargetCenter.Y), f(r.TargetCenter.Z),
			f(r.Offset.Horizontal), f(r.Offset.Vertical),
		}
		if err := cw.Write(rec); err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// ReadCSV reads an analysis CSV. Column order is taken from the header.
func ReadCSV(r io.Reader) ([]Row, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read csv header: %w", err)
	}
	col := make(map[string]int, len(header))
	for i, h := range header {
		col[h] = i
	}
	for _, name := range requiredColumns {
		if _, ok := col[name]; !ok {
			return nil, fmt.Errorf("csv: missing column %q", name)
		}
	}

	var rows []Row
	line := 1
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("read csv line %d: %w", line, err)
		}

		var perr error
		num := func(name string) float64 {
			i, ok := col[name]
			if !ok || i >= len(rec) || perr != nil {
				return 0
			}
			v, err := strconv.ParseFloat(rec[i], 64)
			if err != nil {
				perr = fmt.Errorf("csv line %d column %s: %w", line, name, err)
			}
			return v
		}

		row := Row{
			Timestamp:      num("Timestamp"),
			LeftDirection:  gaze.Vec3{X: num("LeftEyeDirX"), Y: num("LeftEyeDirY"), Z: num("LeftEyeDirZ")},
			RightDirection: gaze.Vec3{X: num("RightEyeDirX"), Y: num("RightEyeDirY"), Z: num("RightEyeDirZ")},
			TargetCenter:   gaze.Vec3{X: num("TargetCenterX"), Y: num("TargetCenterY"), Z: num("TargetCenterZ")},
			Offset:         gaze.Offset{Horizontal: num("OffsetHorizontalDeg"), Vertical: num("OffsetVerticalDeg")},
		}
		if i, ok := col["Stage"]; ok && i < len(rec) {
			row.Stage = rec[i]
		}
		if perr != nil {
			return nil, perr
		}
		rows = append(rows, row)
	}
	return rows, nil
}
