// Package transfer implements the sender-side transfer state machine:
// Idle -> WaitingForAcceptance -> Transferring -> {Completed, Cancelled}.
// State is a tagged variant, not a bag of independent booleans, so illegal
// transitions are caught at the call site rather than inferred later from
// inconsistent flags.
package transfer

import (
	"fmt"

	"github.com/localshare-go/localshare/internal/errs"
)

// StateKind tags which variant a TransferStatus currently holds.
type StateKind int

const (
	Idle StateKind = iota
	WaitingForAcceptance
	Transferring
	Completed
	Cancelled
)

func (k StateKind) String() string {
	switch k {
	case Idle:
		return "Idle"
	case WaitingForAcceptance:
		return "WaitingForAcceptance"
	case Transferring:
		return "Transferring"
	case Completed:
		return "Completed"
	case Cancelled:
		return "Cancelled"
	default:
		return "Unknown"
	}
}

// TransferStatus is the tagged-variant status a Sender publishes to its
// caller-observable channel. Only the fields relevant to Kind are
// meaningful; this mirrors a tagged union via a kind discriminant, the
// idiomatic Go substitute for a Rust enum.
type TransferStatus struct {
	Kind       StateKind
	Completed  int // files completed so far, meaningful in Transferring/Completed
	TotalFiles int
	Reason     string // meaningful in Cancelled
}

// Machine drives the legal transitions of a single send operation. It is
// not safe for concurrent use by multiple goroutines without external
// synchronisation — a Sender owns exactly one Machine per send call.
type Machine struct {
	state TransferStatus
}

// NewMachine starts a Machine in the Idle state.
func NewMachine() *Machine {
	return &Machine{state: TransferStatus{Kind: Idle}}
}

// State returns a copy of the current status.
func (m *Machine) State() TransferStatus { return m.state }

func (m *Machine) transition(to StateKind, allowed ...StateKind) error {
	for _, from := range allowed {
		if m.state.Kind == from {
			return nil
		}
	}
	return &errs.InvalidStateError{Current: m.state.Kind.String(), Attempted: to.String()}
}

// BeginRegister moves Idle -> WaitingForAcceptance, the transition a
// successful /register call drives.
func (m *Machine) BeginRegister(totalFiles int) error {
	if err := m.transition(WaitingForAcceptance, Idle); err != nil {
		return err
	}
	m.state = TransferStatus{Kind: WaitingForAcceptance, TotalFiles: totalFiles}
	return nil
}

// BeginTransfer moves WaitingForAcceptance -> Transferring, driven by a
// successful /prepare-upload call.
func (m *Machine) BeginTransfer() error {
	if err := m.transition(Transferring, WaitingForAcceptance); err != nil {
		return err
	}
	m.state = TransferStatus{Kind: Transferring, TotalFiles: m.state.TotalFiles}
	return nil
}

// AdvanceFile increments the completed-file count while Transferring.
func (m *Machine) AdvanceFile() error {
	if err := m.transition(Transferring, Transferring); err != nil {
		return err
	}
	m.state.Completed++
	return nil
}

// Finish moves Transferring -> Completed once every file has succeeded.
func (m *Machine) Finish() error {
	if err := m.transition(Completed, Transferring); err != nil {
		return err
	}
	m.state = TransferStatus{Kind: Completed, Completed: m.state.Completed, TotalFiles: m.state.TotalFiles}
	return nil
}

// Cancel moves any state -> Cancelled{reason}. Unlike the other
// transitions, cancellation is legal from every state — a caller may
// abandon a send at any suspension point.
func (m *Machine) Cancel(reason string) {
	m.state = TransferStatus{
		Kind:       Cancelled,
		Completed:  m.state.Completed,
		TotalFiles: m.state.TotalFiles,
		Reason:     reason,
	}
}

// MustTransferring panics if the machine isn't in Transferring — used by
// callers that have already checked the precondition and want a clear
// programmer-error signal rather than a silently ignored call.
func (m *Machine) MustTransferring() {
	if m.state.Kind != Transferring {
		panic(fmt.Sprintf("transfer: expected Transferring, got %s", m.state.Kind))
	}
}
