package models

import (
	"time"
)

// IndicatorCycle is the observation frequency of an indicator series.
type IndicatorCycle string

const (
	CycleDaily     IndicatorCycle = "D"
	CycleMonthly   IndicatorCycle = "M"
	CycleQuarterly IndicatorCycle = "Q"
)

// Indicator describes one macro-data series in the collection catalog.
// Code is our stable identifier; StatCode plus item codes address the series
// in the upstream statistics API.
type Indicator struct {
	Code      string         `json:"code" yaml:"code"`
	Name      string         `json:"name" yaml:"name"`
	StatCode  string         `json:"stat_code" yaml:"stat_code"`
	Cycle     IndicatorCycle `json:"cycle" yaml:"cycle"`
	ItemCode1 string         `json:"item_code1,omitempty" yaml:"item_code1"`
	ItemCode2 string         `json:"item_code2,omitempty" yaml:"item_code2"`
	Unit      string         `json:"unit,omitempty" yaml:"unit"`
}

// IndicatorObservation is one normalized time-series point.
// Natural key = (IndicatorCode, Date); re-collection overwrites the value
// since upstream figures may be revised.
type IndicatorObservation struct {
	IndicatorCode string    `json:"indicator_code"`
	Date          time.Time `json:"observation_date"`
	Value         float64   `json:"value"`
	Unit          string    `json:"unit,omitempty"`
}
