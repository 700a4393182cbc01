// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package tracker

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	nmea "github.com/adrianmo/go-nmea"

	"github.com/relabs-tech/phoria/internal/gaze"
)

// The tracker bridge emits one checksummed sentence per frame:
//
//	$ETGAZ,<unix ms>,<tracking 0|1>,lpx,lpy,lpz,ldx,ldy,ldz,rpx,rpy,rpz,rdx,rdy,rdz*CS
const (
	TalkerGaze   = "ET"
	TypeGaze     = "GAZ"
	gazeFieldCnt = 14
)

// GAZ is a parsed gaze sentence.
type GAZ struct {
	nmea.BaseSentence
	Frame gaze.Frame
}

func init() {
	if err := nmea.RegisterParser(TypeGaze, parseGAZ); err != nil {
		panic(err)
	}
}

func parseGAZ(s nmea.BaseSentence) (nmea.Sentence, error) {
	if len(s.Fields) != gazeFieldCnt {
		return nil, fmt.Errorf("nmea: %s expects %d fields, got %d", TypeGaze, gazeFieldCnt, len(s.Fields))
	}
	p := nmea.NewParser(s)
	ms := p.Int64(0, "timestamp")
	tracking := p.Int64(1, "tracking")
	vec := func(i int, name string) gaze.Vec3 {
		return gaze.Vec3{
			X: p.Float64(i, name+" x"),
			Y: p.Float64(i+1, name+" y"),
			Z: p.Float64(i+2, name+" z"),
		}
	}
	sample := gaze.Sample{
		LeftPosition:   vec(2, "left position"),
		LeftDirection:  vec(5, "left direction"),
		RightPosition:  vec(8, "right position"),
		RightDirection: vec(11, "right direction"),
		Timestamp:      time.UnixMilli(ms).UTC(),
	}
	if err := p.Err(); err != nil {
		return nil, err
	}
	return GAZ{BaseSentence: s, Frame: gaze.Frame{Sample: sample, TrackingEnabled: tracking != 0}}, nil
}

// FormatGAZ encodes a frame as a checksummed sentence (without line ending).
func FormatGAZ(f gaze.Frame) string {
	num := func(v float64) string { return strconv.FormatFloat(v, 'f', 6, 64) }
	tracking := "0"
	if f.TrackingEnabled {
		tracking = "1"
	}
	s := f.Sample
	fields := []string{
		TalkerGaze + TypeGaze,
		strconv.FormatInt(s.Timestamp.UnixMilli(), 10),
		tracking,
	}
	for _, v := range []gaze.Vec3{s.LeftPosition, s.LeftDirection, s.RightPosition, s.RightDirection} {
		fields = append(fields, num(v.X), num(v.Y), num(v.Z))
	}
	body := strings.Join(fields, ",")
	return "$" + body + "*" + nmea.Checksum(body)
}
