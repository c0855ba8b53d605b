package event

import "strings"

// Stage is a sleep stage label.
type Stage string

const (
	StageAwake Stage = "awake"
	StageLight Stage = "light"
	StageDeep  Stage = "deep"
	StageREM   Stage = "rem"
)

// Valid reports whether s is one of the four canonical stages.
func (s Stage) Valid() bool {
	switch s {
	case StageAwake, StageLight, StageDeep, StageREM:
		return true
	}
	return false
}

var stageAliases = map[string]Stage{
	"awake":    StageAwake,
	"wake":     StageAwake,
	"light":    StageLight,
	"asleep":   StageLight,
	"restless": StageLight,
	"core":     StageLight,
	"deep":     StageDeep,
	"rem":      StageREM,
}

// ParseStage maps a vendor stage label onto a canonical stage.
func ParseStage(s string) (Stage, bool) {
	st, ok := stageAliases[strings.ToLower(strings.TrimSpace(s))]
	return st, ok
}

// StageFromCode translates the integer stage codes used by HealthKit bridges
// and Withings: 0=awake, 1=light, 2=deep, 3=rem.
func StageFromCode(code int) (Stage, bool) {
	switch code {
	case 0:
		return StageAwake, true
	case 1:
		return StageLight, true
	case 2:
		return StageDeep, true
	case 3:
		return StageREM, true
	}
	return "", false
}
