// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package telemetry

import (
	"errors"
	"fmt"
	"time"
)

// Statistics tracks bus poll outcomes and error rates
type Statistics struct {
	StartTime      time.Time
	LastUpdateTime time.Time

	// Counters
	TotalPolls     uint64
	ValidRecords   uint64
	BusErrors      uint64 // transport failures and timeouts
	LengthErrors   uint64
	SchemaErrors   uint64 // version or boolean encoding mismatch
	CRCErrors      uint64 // stream transports only
	AnomalousPolls uint64
	InvalidClock   uint64
	InvalidDate    uint64
	InvalidTemp    uint64
	InvalidHumid   uint64
	InvalidSound   uint64

	// Rates (calculated)
	PollRate  float64 // polls/sec
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

// Update records the outcome of one poll
func (s *Statistics) Update(pollErr error, validationErrors []ValidationError) {
	s.TotalPolls++
	s.LastUpdateTime = time.Now()

	if pollErr != nil {
		switch {
		case errors.Is(pollErr, ErrRecordLength):
			s.LengthErrors++
		case errors.Is(pollErr, ErrSchemaVersion), errors.Is(pollErr, ErrInvalidBool):
			s.SchemaErrors++
		case errors.Is(pollErr, ErrCRCMismatch):
			s.CRCErrors++
		default:
			s.BusErrors++
		}
		return
	}

	s.ValidRecords++
	if len(validationErrors) == 0 {
		return
	}

	s.AnomalousPolls++
	for _, err := range validationErrors {
		switch err.Type {
		case AnomalyInvalidClock:
			s.InvalidClock++
		case AnomalyInvalidDate:
			s.InvalidDate++
		case AnomalyInvalidTemp:
			s.InvalidTemp++
		case AnomalyInvalidHumidity:
			s.InvalidHumid++
		case AnomalyInvalidSound:
			s.InvalidSound++
		}
	}
}

// Failures returns the number of polls that did not yield a record
func (s *Statistics) Failures() uint64 {
	return s.BusErrors + s.LengthErrors + s.SchemaErrors + s.CRCErrors
}

// CalculateRates calculates poll and error rates
func (s *Statistics) CalculateRates() {
	elapsed := time.Since(s.StartTime).Seconds()
	if elapsed > 0 {
		s.PollRate = float64(s.TotalPolls) / elapsed
		s.ErrorRate = float64(s.Failures()) / elapsed
	}
}

// String returns a formatted statistics summary
func (s *Statistics) String() string {
	s.CalculateRates()

	var validPercent, failPercent, anomalousPercent float64
	if s.TotalPolls > 0 {
		validPercent = float64(s.ValidRecords) * 100.0 / float64(s.TotalPolls)
		failPercent = float64(s.Failures()) * 100.0 / float64(s.TotalPolls)
		anomalousPercent = float64(s.AnomalousPolls) * 100.0 / float64(s.TotalPolls)
	}

	elapsed := time.Since(s.StartTime)

	result := fmt.Sprintf("=== Statistics (%.0f seconds) ===\n", elapsed.Seconds())
	result += fmt.Sprintf("Total Polls:     %8d\n", s.TotalPolls)
	result += fmt.Sprintf("Valid Records:   %8d (%.1f%%)\n", s.ValidRecords, validPercent)

	if s.Failures() > 0 {
		result += fmt.Sprintf("Failed Polls:    %8d (%.1f%%)\n", s.Failures(), failPercent)
		if s.BusErrors > 0 {
			result += fmt.Sprintf("  Bus Errors:       %5d\n", s.BusErrors)
		}
		if s.LengthErrors > 0 {
			result += fmt.Sprintf("  Wrong Length:     %5d\n", s.LengthErrors)
		}
		if s.SchemaErrors > 0 {
			result += fmt.Sprintf("  Schema Mismatch:  %5d\n", s.SchemaErrors)
		}
		if s.CRCErrors > 0 {
			result += fmt.Sprintf("  CRC Errors:       %5d\n", s.CRCErrors)
		}
	}
	if s.AnomalousPolls > 0 {
		result += fmt.Sprintf("Anomalous:       %8d (%.1f%%)\n", s.AnomalousPolls, anomalousPercent)
		if s.InvalidClock > 0 || s.InvalidDate > 0 {
			result += fmt.Sprintf("  Clock/Date:       %5d\n", s.InvalidClock+s.InvalidDate)
		}
		if s.InvalidTemp > 0 {
			result += fmt.Sprintf("  Temperature:      %5d\n", s.InvalidTemp)
		}
		if s.InvalidHumid > 0 {
			result += fmt.Sprintf("  Humidity:         %5d\n", s.InvalidHumid)
		}
		if s.InvalidSound > 0 {
			result += fmt.Sprintf("  Sound Level:      %5d\n", s.InvalidSound)
		}
	}

	result += fmt.Sprintf("Poll Rate:       %8.1f polls/sec\n", s.PollRate)
	result += fmt.Sprintf("Error Rate:      %8.1f errors/sec\n", s.ErrorRate)
	result += "================================\n"

	return result
}

// Reset resets all statistics counters
func (s *Statistics) Reset() {
	*s = *NewStatistics()
}
