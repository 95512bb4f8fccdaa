package models

import "strings"

type Action string

const (
	ActionOpenLong   Action = "OPEN_LONG"
	ActionOpenShort  Action = "OPEN_SHORT"
	ActionCloseLong  Action = "CLOSE_LONG"
	ActionCloseShort Action = "CLOSE_SHORT"
	ActionHold       Action = "HOLD"
)

var Actions = []Action{ActionOpenLong, ActionOpenShort, ActionCloseLong, ActionCloseShort, ActionHold}

// ParseAction принимает и "open_long", и "OPEN_LONG". Неизвестное: ok=false.
func ParseAction(s string) (Action, bool) {
	a := Action(strings.ToUpper(strings.TrimSpace(s)))
	for _, known := range Actions {
		if a == known {
			return a, true
		}
	}
	return a, false
}

func (a Action) IsOpen() bool  { return a == ActionOpenLong || a == ActionOpenShort }
func (a Action) IsClose() bool { return a == ActionCloseLong || a == ActionCloseShort }

// Decision ответ источника решений за один цикл.
type Decision struct {
	Action     Action  `json:"action"`
	Confidence float64 `json:"confidence"`
	Rationale  string  `json:"rationale"`
}

func HoldDecision(reason string) Decision {
	return Decision{Action: ActionHold, Rationale: reason}
}
