// Package wizard implements the customer move-request wizard.
//
// Step graph:
//
//	MOVE_DETAILS ─► VIDEO_UPLOAD ─► ANALYSIS_STATUS ─► INVENTORY_EDIT ─► CONFIRM_SUBMIT ─► VIEW_OFFERS
//
// NextStep and PreviousStep move by one and clamp at both ends. GoToStep jumps
// anywhere; it is a navigation aid and does not check the target's data
// dependencies. Reset returns to MOVE_DETAILS.
package wizard

import (
	"fmt"
	"strings"
)

// Step is a wizard position, ordered 1..6.
type Step int

const (
	StepMoveDetails    Step = 1
	StepVideoUpload    Step = 2
	StepAnalysisStatus Step = 3
	StepInventoryEdit  Step = 4
	StepConfirmSubmit  Step = 5
	StepViewOffers     Step = 6

	firstStep = StepMoveDetails
	lastStep  = StepViewOffers
)

var stepNames = map[Step]string{
	StepMoveDetails:    "MOVE_DETAILS",
	StepVideoUpload:    "VIDEO_UPLOAD",
	StepAnalysisStatus: "ANALYSIS_STATUS",
	StepInventoryEdit:  "INVENTORY_EDIT",
	StepConfirmSubmit:  "CONFIRM_SUBMIT",
	StepViewOffers:     "VIEW_OFFERS",
}

// Valid reports whether s is one of the six wizard steps.
func (s Step) Valid() bool {
	return s >= firstStep && s <= lastStep
}

func (s Step) String() string {
	if name, ok := stepNames[s]; ok {
		return name
	}
	return fmt.Sprintf("Step(%d)", int(s))
}

// ParseStep accepts either the step name (case-insensitive) or its number.
func ParseStep(raw string) (Step, error) {
	normalized := strings.ToUpper(strings.TrimSpace(raw))
	if normalized == "" {
		return 0, fmt.Errorf("%w: step is required", ErrInvalidStep)
	}
	for step, name := range stepNames {
		if name == normalized || fmt.Sprint(int(step)) == normalized {
			return step, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidStep, raw)
}

// MarshalText encodes the step by name.
func (s Step) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidStep, int(s))
	}
	return []byte(s.String()), nil
}

// UnmarshalText decodes a step name or number.
func (s *Step) UnmarshalText(text []byte) error {
	step, err := ParseStep(string(text))
	if err != nil {
		return err
	}
	*s = step
	return nil
}
