package dfu

// Transition is one entry of the state table. Next[0] is the next state
// for every action; CheckLen uses Next[0] for a zero-length request and
// Next[1] otherwise.
type Transition struct {
	Action Action
	Next   [2]State
}

func tr(a Action, next ...State) Transition {
	t := Transition{Action: a}
	copy(t.Next[:], next)
	return t
}

// table is the DFU state machine, indexed [request][state]. Its content is
// part of the host compatibility contract, quirks included.
var table = [numRequests][numStates]Transition{
	RequestDetach: {
		StateAppIdle:           tr(ActionNone, StateIdle),
		StateAppDetach:         tr(ActionStall, StateError),
		StateIdle:              tr(ActionStall, StateError),
		StateDnLoadSync:        tr(ActionStall, StateError),
		StateDnLoadBusy:        tr(ActionStall, StateError),
		StateDnLoadIdle:        tr(ActionStall, StateError),
		StateManifestSync:      tr(ActionStall, StateError),
		StateManifest:          tr(ActionStall, StateError),
		StateManifestWaitReset: tr(ActionStall, StateError),
		StateUpLoadIdle:        tr(ActionStall, StateError),
		StateError:             tr(ActionStall, StateError),
	},
	RequestDnLoad: {
		StateAppIdle:           tr(ActionStall, StateError),
		StateAppDetach:         tr(ActionStall, StateError),
		StateIdle:              tr(ActionCheckLen, StateError, StateDnLoadSync),
		StateDnLoadSync:        tr(ActionStall, StateError),
		StateDnLoadBusy:        tr(ActionStall, StateError),
		StateDnLoadIdle:        tr(ActionCheckLen, StateManifestSync, StateDnLoadSync),
		StateManifestSync:      tr(ActionStall, StateError),
		StateManifest:          tr(ActionStall, StateError),
		StateManifestWaitReset: tr(ActionStall, StateError),
		StateUpLoadIdle:        tr(ActionStall, StateError),
		StateError:             tr(ActionStall, StateError),
	},
	RequestUpLoad: {
		StateAppIdle:           tr(ActionStall, StateError),
		StateAppDetach:         tr(ActionStall, StateError),
		StateIdle:              tr(ActionCheckLen, StateUpLoadIdle, StateUpLoadIdle),
		StateDnLoadSync:        tr(ActionStall, StateError),
		StateDnLoadBusy:        tr(ActionStall, StateError),
		StateDnLoadIdle:        tr(ActionStall, StateError),
		StateManifestSync:      tr(ActionStall, StateError),
		StateManifest:          tr(ActionStall, StateError),
		StateManifestWaitReset: tr(ActionStall, StateError),
		StateUpLoadIdle:        tr(ActionCheckLen, StateIdle, StateUpLoadIdle),
		StateError:             tr(ActionStall, StateError),
	},
	RequestGetStatus: {
		StateAppIdle:           tr(ActionStatusResponse, StateAppIdle),
		StateAppDetach:         tr(ActionStatusResponse, StateAppDetach),
		StateIdle:              tr(ActionStatusResponse, StateIdle),
		StateDnLoadSync:        tr(ActionStatusResponse, StateDnLoadIdle),
		StateDnLoadBusy:        tr(ActionStall, StateError),
		StateDnLoadIdle:        tr(ActionStatusResponse, StateDnLoadIdle),
		StateManifestSync:      tr(ActionStatusResponse, StateManifest),
		StateManifest:          tr(ActionStall, StateError),
		StateManifestWaitReset: tr(ActionStall, StateError),
		StateUpLoadIdle:        tr(ActionStatusResponse, StateUpLoadIdle),
		StateError:             tr(ActionStatusResponse, StateError),
	},
	RequestClrStatus: {
		StateAppIdle:           tr(ActionStall, StateError),
		StateAppDetach:         tr(ActionStall, StateError),
		StateIdle:              tr(ActionStall, StateUpLoadIdle),
		StateDnLoadSync:        tr(ActionStall, StateError),
		StateDnLoadBusy:        tr(ActionStall, StateError),
		StateDnLoadIdle:        tr(ActionStall, StateError),
		StateManifestSync:      tr(ActionStall, StateError),
		StateManifest:          tr(ActionStall, StateError),
		StateManifestWaitReset: tr(ActionStall, StateError),
		StateUpLoadIdle:        tr(ActionStall, StateError),
		StateError:             tr(ActionClearError, StateIdle),
	},
	RequestGetState: {
		StateAppIdle:           tr(ActionStateResponse, StateAppIdle),
		StateAppDetach:         tr(ActionStateResponse, StateAppDetach),
		StateIdle:              tr(ActionStateResponse, StateUpLoadIdle),
		StateDnLoadSync:        tr(ActionStateResponse, StateDnLoadIdle),
		StateDnLoadBusy:        tr(ActionStall, StateError),
		StateDnLoadIdle:        tr(ActionStateResponse, StateDnLoadIdle),
		StateManifestSync:      tr(ActionStateResponse, StateManifestSync),
		StateManifest:          tr(ActionStall, StateError),
		StateManifestWaitReset: tr(ActionStall, StateError),
		StateUpLoadIdle:        tr(ActionStateResponse, StateUpLoadIdle),
		StateError:             tr(ActionStateResponse, StateError),
	},
	RequestAbort: {
		StateAppIdle:           tr(ActionStall, StateAppIdle),
		StateAppDetach:         tr(ActionStall, StateAppDetach),
		StateIdle:              tr(ActionNone, StateIdle),
		StateDnLoadSync:        tr(ActionNone, StateIdle),
		StateDnLoadBusy:        tr(ActionStall, StateError),
		StateDnLoadIdle:        tr(ActionNone, StateIdle),
		StateManifestSync:      tr(ActionNone, StateIdle),
		StateManifest:          tr(ActionStall, StateError),
		StateManifestWaitReset: tr(ActionStall, StateError),
		StateUpLoadIdle:        tr(ActionNone, StateIdle),
		StateError:             tr(ActionStall, StateError),
	},
	RequestBusReset: {
		StateAppIdle:           tr(ActionNone, StateAppIdle),
		StateAppDetach:         tr(ActionNone, StateAppIdle),
		StateIdle:              tr(ActionNone, StateIdle),
		StateDnLoadSync:        tr(ActionReset, StateIdle),
		StateDnLoadBusy:        tr(ActionReset, StateIdle),
		StateDnLoadIdle:        tr(ActionReset, StateIdle),
		StateManifestSync:      tr(ActionReset, StateIdle),
		StateManifest:          tr(ActionReset, StateIdle),
		StateManifestWaitReset: tr(ActionReset, StateIdle),
		StateUpLoadIdle:        tr(ActionReset, StateIdle),
		StateError:             tr(ActionReset, StateIdle),
	},
}

// Lookup returns the transition for req in state. Out-of-range inputs
// yield a stall into the error state.
func Lookup(req Request, state State) Transition {
	if req >= numRequests || state >= numStates {
		return Transition{Action: ActionStall, Next: [2]State{StateError, StateError}}
	}
	return table[req][state]
}
