// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"github.com/fatih/color"

	"github.com/relabs-tech/phoria/internal/calibration"
	"github.com/relabs-tech/phoria/internal/protocol"
)

// Console palette; fatih/color drops the escapes when stdout is not a TTY.
var (
	stageOut  = color.New(color.FgCyan)
	resultOut = color.New(color.FgGreen, color.Bold)
	calOut    = color.New(color.FgMagenta)
	warnOut   = color.New(color.FgYellow)
)

func printStage(ev protocol.StageEvent) {
	stageOut.Printf("[STAGE] %-18s -> %-18s offset H=%+6.2f V=%+6.2f  t=%s\n",
		ev.From, ev.To, ev.Offset.Horizontal, ev.Offset.Vertical, ev.At.Format("15:04:05.000"))
}

func printResult(res protocol.Result) {
	resultOut.Printf("[RESULT] session=%s  prism H=%+.2f°  V=%+.2f°  iterations=%d\n",
		res.SessionID, res.HorizontalPrismDeg, res.VerticalPrismDeg, res.Iterations)
	if m := res.Metrics; m != nil {
		resultOut.Printf("[METRIC] type=%s  phoria L=%.2f R=%.2f  tropia L=%.2f R=%.2f  significant=%t\n",
			m.Type, m.LeftPhoria, m.RightPhoria, m.LeftTropia, m.RightTropia, m.Significant)
	}
}

func printCalibration(r calibration.Result) {
	calOut.Printf("[CAL] left:  %s (%d pairs)  %+v\n", r.LeftStatus, r.LeftPairs, r.Left)
	calOut.Printf("[CAL] right: %s (%d pairs)  %+v\n", r.RightStatus, r.RightPairs, r.Right)
	if r.Degraded() {
		warnOut.Println("[CAL] WARNING: degraded fit, identity model in use for at least one eye")
	}
}
