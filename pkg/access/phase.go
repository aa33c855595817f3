// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package access

// Phase names a state of the controller.
type Phase int

// Locked side
const (
	PhaseIdle Phase = iota
	PhaseWaitInput
	PhaseVerify
	PhaseGranted
	PhaseDenied
)

// Unlocked side
const (
	PhaseUnlockIdle Phase = iota + 16
	PhaseUnlockOptions
	PhaseNewCodeEnter
	PhaseNewCodeConfirm
	PhaseCodeSuccess
	PhaseCodeFail
	PhaseRelock
)

var phaseNames = map[Phase]string{
	PhaseIdle:           "IDLE",
	PhaseWaitInput:      "WAIT_INPUT",
	PhaseVerify:         "VERIFY",
	PhaseGranted:        "GRANTED",
	PhaseDenied:         "DENIED",
	PhaseUnlockIdle:     "UNLOCK_IDLE",
	PhaseUnlockOptions:  "UNLOCK_OPTIONS",
	PhaseNewCodeEnter:   "NEW_CODE_ENTER",
	PhaseNewCodeConfirm: "NEW_CODE_CONFIRM",
	PhaseCodeSuccess:    "CODE_SUCCESS",
	PhaseCodeFail:       "CODE_FAIL",
	PhaseRelock:         "RELOCK",
}

func (p Phase) String() string {
	if s, ok := phaseNames[p]; ok {
		return s
	}
	return "UNKNOWN"
}

// Unlocked reports whether the bolt is withdrawn while in p.
func (p Phase) Unlocked() bool {
	return p >= PhaseUnlockIdle && p < PhaseRelock || p == PhaseGranted
}

// Interactive reports whether p waits on the user and is subject to the
// inactivity timeout.
func (p Phase) Interactive() bool {
	switch p {
	case PhaseWaitInput, PhaseUnlockOptions, PhaseNewCodeEnter, PhaseNewCodeConfirm:
		return true
	}
	return false
}

// transitions lists every legal phase change.
var transitions = map[Phase][]Phase{
	PhaseIdle:           {PhaseWaitInput},
	PhaseWaitInput:      {PhaseVerify, PhaseIdle},
	PhaseVerify:         {PhaseGranted, PhaseDenied},
	PhaseGranted:        {PhaseUnlockIdle},
	PhaseDenied:         {PhaseIdle},
	PhaseUnlockIdle:     {PhaseUnlockOptions, PhaseRelock},
	PhaseUnlockOptions:  {PhaseNewCodeEnter, PhaseRelock, PhaseUnlockIdle},
	PhaseNewCodeEnter:   {PhaseNewCodeConfirm, PhaseUnlockIdle},
	PhaseNewCodeConfirm: {PhaseCodeSuccess, PhaseCodeFail, PhaseUnlockIdle},
	PhaseCodeSuccess:    {PhaseRelock},
	PhaseCodeFail:       {PhaseNewCodeEnter, PhaseUnlockOptions},
	PhaseRelock:         {PhaseIdle},
}

func allowed(from, to Phase) bool {
	for _, p := range transitions[from] {
		if p == to {
			return true
		}
	}
	return false
}

// state is one variant of the controller state. Each variant carries only
// the data meaningful in that phase.
type state interface {
	phase() Phase
}

type (
	idleState      struct{}
	waitInputState struct{ input []byte }
	verifyState    struct{ attempt []byte }
	grantedState   struct{}
	deniedState    struct{}

	unlockIdleState     struct{}
	unlockOptionsState  struct{}
	newCodeEnterState   struct{ input []byte }
	newCodeConfirmState struct{ pending, input []byte }
	codeSuccessState    struct{}
	codeFailState       struct{}
	relockState         struct{}
)

func (idleState) phase() Phase           { return PhaseIdle }
func (waitInputState) phase() Phase      { return PhaseWaitInput }
func (verifyState) phase() Phase         { return PhaseVerify }
func (grantedState) phase() Phase        { return PhaseGranted }
func (deniedState) phase() Phase         { return PhaseDenied }
func (unlockIdleState) phase() Phase     { return PhaseUnlockIdle }
func (unlockOptionsState) phase() Phase  { return PhaseUnlockOptions }
func (newCodeEnterState) phase() Phase   { return PhaseNewCodeEnter }
func (newCodeConfirmState) phase() Phase { return PhaseNewCodeConfirm }
func (codeSuccessState) phase() Phase    { return PhaseCodeSuccess }
func (codeFailState) phase() Phase       { return PhaseCodeFail }
func (relockState) phase() Phase         { return PhaseRelock }

// ParsePhase is the inverse of Phase.String.
func ParsePhase(s string) (Phase, bool) {
	for p, name := range phaseNames {
		if name == s {
			return p, true
		}
	}
	return 0, false
}
