package models

import "time"

// StepTemplate describes one step of a workflow definition.
type StepTemplate struct {
	Name         string  `json:"name"                    yaml:"name"`
	Description  string  `json:"description"             yaml:"description"`
	RequiredRole *string `json:"required_role,omitempty" yaml:"required_role,omitempty"`
	SLAHours     *int    `json:"sla_hours,omitempty"     yaml:"sla_hours,omitempty"`
	Skippable    bool    `json:"skippable"               yaml:"skippable"`
}

// SLA returns the step's SLA as a duration, false when the template has none.
func (t StepTemplate) SLA() (time.Duration, bool) {
	if t.SLAHours == nil || *t.SLAHours <= 0 {
		return 0, false
	}

	return time.Duration(*t.SLAHours) * time.Hour, true
}

// WorkflowDefinition is the ordered list of steps for a workflow type.
// Definitions are process-wide constants and are never mutated after startup.
type WorkflowDefinition struct {
	Type  WorkflowType   `json:"type"  yaml:"type"`
	Steps []StepTemplate `json:"steps" yaml:"steps"`
}
