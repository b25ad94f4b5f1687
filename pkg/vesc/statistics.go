// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Kaz Walker, Thermoquad

package vesc

import (
	"fmt"
	"time"
)

// Statistics tracks frame outcomes and error rates on a receive stream
type Statistics struct {
	StartTime      time.Time
	LastUpdateTime time.Time

	// Frame outcomes
	TotalFrames uint64
	ValidFrames uint64
	StartErrors uint64
	CRCErrors   uint64
	EndErrors   uint64
	Overflows   uint64

	// Dispatch outcomes
	Unhandled      uint64 // opcode with no decoder and no handler
	DroppedRecords uint64 // telemetry from an unknown controller id
	Anomalies      uint64 // implausible telemetry, see CheckFrame

	// Rates (calculated)
	FrameRate float64 // frames/sec
	ErrorRate float64 // errors/sec
}

// NewStatistics creates a new statistics tracker
func NewStatistics() *Statistics {
	now := time.Now()
	return &Statistics{
		StartTime:      now,
		LastUpdateTime: now,
	}
}

// Update records the result of one Validate call. Incomplete results are
// not frames yet and are ignored.
func (s *Statistics) Update(res ValidateResult) {
	switch res {
	case Incomplete:
		return
	case Valid:
		s.ValidFrames++
	case BadStart:
		s.StartErrors++
	case InvalidCRC:
		s.CRCErrors++
	case BadEnd:
		s.EndErrors++
	}
	s.TotalFrames++
	s.LastUpdateTime = time.Now()
}

// Errors returns the number of rejected frames.
func (s *Statistics) Errors() uint64 {
	return s.StartErrors + s.CRCErrors + s.EndErrors + s.Overflows
}

// CalculateRates calculates frame and error rates
func (s *Statistics) CalculateRates() {
	elapsed := time.Since(s.StartTime).Seconds()
	if elapsed > 0 {
		s.FrameRate = float64(s.TotalFrames) / elapsed
		s.ErrorRate = float64(s.Errors()) / elapsed
	}
}

// String returns a formatted statistics summary
func (s *Statistics) String() string {
	s.CalculateRates()

	var validPercent float64
	if s.TotalFrames > 0 {
		validPercent = float64(s.ValidFrames) * 100.0 / float64(s.TotalFrames)
	}

	elapsed := time.Since(s.StartTime)

	result := fmt.Sprintf("=== Statistics (%.0f seconds) ===\n", elapsed.Seconds())
	result += fmt.Sprintf("Total Frames:    %8d\n", s.TotalFrames)
	result += fmt.Sprintf("Valid Frames:    %8d (%.1f%%)\n", s.ValidFrames, validPercent)

	if s.StartErrors > 0 {
		result += fmt.Sprintf("Bad Start:       %8d\n", s.StartErrors)
	}
	if s.CRCErrors > 0 {
		result += fmt.Sprintf("CRC Errors:      %8d\n", s.CRCErrors)
	}
	if s.EndErrors > 0 {
		result += fmt.Sprintf("Bad End:         %8d\n", s.EndErrors)
	}
	if s.Overflows > 0 {
		result += fmt.Sprintf("Overflows:       %8d\n", s.Overflows)
	}
	if s.Unhandled > 0 {
		result += fmt.Sprintf("Unhandled:       %8d\n", s.Unhandled)
	}
	if s.DroppedRecords > 0 {
		result += fmt.Sprintf("Dropped Records: %8d\n", s.DroppedRecords)
	}
	if s.Anomalies > 0 {
		result += fmt.Sprintf("Anomalies:       %8d\n", s.Anomalies)
	}

	result += fmt.Sprintf("Frame Rate:      %8.1f frames/sec\n", s.FrameRate)
	result += fmt.Sprintf("Error Rate:      %8.1f errors/sec\n", s.ErrorRate)
	result += "================================\n"

	return result
}

// Reset resets all statistics counters
func (s *Statistics) Reset() {
	*s = *NewStatistics()
}
