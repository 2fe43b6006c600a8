package storage

import (
	"github.com/google/uuid"

	"github.com/larchdb/larch/larch"
)

// OpCode identifies a request operation.
type OpCode int

const (
	OpSearch OpCode = iota
	OpAdd
	OpModify
	OpDelete
	OpRename
	OpSequenceNumber
	OpStartTransaction
	OpEndTransaction
	OpCancelTransaction
)

// Control is a request extension. The engine recognises no controls, so any
// control flagged critical refuses the request.
type Control struct {
	OID      string
	Critical bool
	Value    []byte
}

// HandleState tracks a request handle through its lifecycle.
type HandleState int

const (
	HandleInit HandleState = iota
	HandlePending
	HandleDone
)

// Handle is the per-request completion record. Requests run to completion
// on the caller's goroutine; the handle reaches HandleDone before Do
// returns.
type Handle struct {
	ID     uuid.UUID
	State  HandleState
	Status error
}

// Result is delivered to the request's continuation.
type Result struct {
	Err     error
	SeqNum  uint64
	Message *larch.Message
}

// Request is one inbound operation plus its completion plumbing.
type Request struct {
	Op       OpCode
	Message  *larch.Message // add and modify payload
	DN       *larch.DN      // delete target, rename source, search base
	NewDN    *larch.DN      // rename destination
	SeqType  SeqType
	Controls []Control

	// Callback, when non-nil, is invoked exactly once after the operation
	// completes, before Do returns.
	Callback func(*Result)

	// Handle is allocated by Do.
	Handle *Handle
}

func hasCriticalControl(controls []Control) bool {
	for _, c := range controls {
		if c.Critical {
			return true
		}
	}
	return false
}

// Do dispatches a request to the matching backend operation. The handle
// transitions to HandleDone and the continuation fires exactly once
// regardless of outcome.
func (b *Backend) Do(req *Request) error {
	req.Handle = &Handle{ID: uuid.New(), State: HandleInit}
	res := &Result{}

	if hasCriticalControl(req.Controls) {
		res.Err = b.errf(larch.ResultUnsupportedCriticalExtension,
			"request carries an unrecognised critical control")
	} else {
		req.Handle.State = HandlePending
		res = b.dispatch(req)
	}

	req.Handle.Status = res.Err
	req.Handle.State = HandleDone
	if req.Callback != nil {
		req.Callback(res)
	}
	return res.Err
}

func (b *Backend) dispatch(req *Request) *Result {
	res := &Result{}
	switch req.Op {
	case OpAdd:
		res.Err = b.Add(req.Message)
	case OpModify:
		res.Err = b.Modify(req.Message)
	case OpDelete:
		res.Err = b.Delete(req.DN)
	case OpRename:
		res.Err = b.Rename(req.DN, req.NewDN)
	case OpSequenceNumber:
		res.SeqNum, res.Err = b.SequenceNumber(req.SeqType)
	case OpStartTransaction:
		res.Err = b.StartTransaction()
	case OpEndTransaction:
		res.Err = b.EndTransaction()
	case OpCancelTransaction:
		res.Err = b.CancelTransaction()
	case OpSearch:
		// Full search belongs to the external planner; the engine only
		// serves base-object lookups.
		if req.DN == nil {
			res.Err = b.errf(larch.ResultOperationsError, "search request without a base DN")
			break
		}
		res.Message, res.Err = b.Fetch(req.DN)
	default:
		res.Err = b.errf(larch.ResultOperationsError, "unsupported operation %d", req.Op)
	}
	return res
}
