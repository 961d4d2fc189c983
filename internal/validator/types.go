package validator

import (
	"github.com/danielpatrickdp/boundary-state/internal/enum"
	"github.com/danielpatrickdp/boundary-state/internal/state"
)

// #region kind
// Kind is the outcome of structural validation.
type Kind int

const (
	Reject Kind = iota
	Pending
	Validated
)

var kindNames = enum.Names{"reject", "pending", "validated"}

func (k Kind) String() string                { return kindNames.String("kind", int(k)) }
func (k Kind) MarshalText() ([]byte, error) { return kindNames.Marshal("kind", int(k)) }
func (k *Kind) UnmarshalText(b []byte) error {
	i, err := kindNames.Parse("kind", b)
	if err != nil {
		return err
	}
	*k = Kind(i)
	return nil
}

// #endregion kind

// #region reason
// Reason explains a Kind.
type Reason int

const (
	EventNotStarted Reason = iota // Reject: channel not at the boundary
	Accumulating                  // Pending: hold below TauMin
	MinimalHold                   // Pending: TauMin reached, waiting for TauOptimal
	StateComplete                 // Validated
)

var reasonNames = enum.Names{
	"event not started",
	"accumulating",
	"minimal, wait for optimal",
	"state complete",
}

func (r Reason) String() string                { return reasonNames.String("reason", int(r)) }
func (r Reason) MarshalText() ([]byte, error) { return reasonNames.Marshal("reason", int(r)) }
func (r *Reason) UnmarshalText(b []byte) error {
	i, err := reasonNames.Parse("reason", b)
	if err != nil {
		return err
	}
	*r = Reason(i)
	return nil
}

// #endregion reason

// #region outcome
// Outcome is the validator's verdict on one state.
type Outcome struct {
	Kind            Kind            `json:"kind"`
	Reason          Reason          `json:"reason"`
	Direction       state.Direction `json:"direction"`
	DeltaMultiplier float64         `json:"delta_multiplier"`
}

// #endregion outcome
