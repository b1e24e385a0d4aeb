// internal/workflow/states.go
package workflow

import (
	apperrors "placement-broker/internal/common/errors"
	"placement-broker/internal/models"
)

// Event drives a placement from one status to the next.
type Event string

const (
	EventScheduleInterview Event = "schedule_interview"
	EventCompleteInterview Event = "complete_interview"
	EventStartTrial        Event = "start_trial"
	EventEndTrial          Event = "end_trial"
	EventConfirm           Event = "confirm"
	EventFail              Event = "fail"
	EventApproveVisa       Event = "approve_visa"
	EventReturnCandidate   Event = "return_candidate"
	EventForceFail         Event = "force_fail"
)

var AllEvents = []Event{
	EventScheduleInterview,
	EventCompleteInterview,
	EventStartTrial,
	EventEndTrial,
	EventConfirm,
	EventFail,
	EventApproveVisa,
	EventReturnCandidate,
	EventForceFail,
}

func (e Event) String() string { return string(e) }

func (e Event) Valid() bool {
	_, ok := eventTarget(e)
	return ok
}

// eventTarget is the status an event always leads to, whatever the source.
func eventTarget(e Event) (models.PlacementStatus, bool) {
	switch e {
	case EventScheduleInterview:
		return models.StatusInterviewScheduled, true
	case EventCompleteInterview:
		return models.StatusInterviewCompleted, true
	case EventStartTrial:
		return models.StatusTrialStarted, true
	case EventEndTrial:
		return models.StatusTrialCompleted, true
	case EventConfirm:
		return models.StatusPlacementConfirmed, true
	case EventFail, EventForceFail:
		return models.StatusPlacementFailed, true
	case EventApproveVisa:
		return models.StatusVisaApproved, true
	case EventReturnCandidate:
		return models.StatusMaidReturned, true
	}
	return "", false
}

type transitionKey struct {
	from  models.PlacementStatus
	event Event
}

var transitions = buildTransitions()

func buildTransitions() map[transitionKey]models.PlacementStatus {
	table := map[transitionKey]models.PlacementStatus{
		{models.StatusContactInitiated, EventScheduleInterview}:   models.StatusInterviewScheduled,
		{models.StatusInterviewScheduled, EventCompleteInterview}: models.StatusInterviewCompleted,
		{models.StatusInterviewCompleted, EventStartTrial}:        models.StatusTrialStarted,
		{models.StatusTrialStarted, EventEndTrial}:                models.StatusTrialCompleted,
		{models.StatusTrialCompleted, EventConfirm}:               models.StatusPlacementConfirmed,
		{models.StatusTrialCompleted, EventFail}:                  models.StatusPlacementFailed,
		{models.StatusPlacementConfirmed, EventApproveVisa}:       models.StatusVisaApproved,
		{models.StatusPlacementConfirmed, EventReturnCandidate}:   models.StatusMaidReturned,
	}
	for _, status := range models.AllPlacementStatuses {
		if !status.IsTerminal() {
			table[transitionKey{status, EventForceFail}] = models.StatusPlacementFailed
		}
	}
	return table
}

// Decision is the outcome of looking up an event against a placement status.
type Decision struct {
	To models.PlacementStatus
	// NoOp is set when a terminal placement receives the event that led to
	// its current status again.
	NoOp bool
}

// Decide validates event against the current status.
func Decide(placementID string, from models.PlacementStatus, event Event) (Decision, error) {
	invalid := &apperrors.InvalidStateTransitionError{
		PlacementID: placementID,
		From:        string(from),
		Event:       string(event),
	}
	target, ok := eventTarget(event)
	if !ok || !from.Valid() {
		return Decision{}, invalid
	}
	if from.IsTerminal() {
		if target == from {
			return Decision{To: from, NoOp: true}, nil
		}
		return Decision{}, invalid
	}
	to, ok := transitions[transitionKey{from, event}]
	if !ok {
		return Decision{}, invalid
	}
	return Decision{To: to}, nil
}
