package resolve

import (
	"fmt"

	"github.com/dipeo/core/pkg/diagram"
)

// Kind classifies why InputResolver rejected a node's inputs.
type Kind string

const (
	// MissingRequiredInput: a declared input handle has no bound value once
	// resolution finishes, and strict mode is on.
	MissingRequiredInput Kind = "MISSING_REQUIRED_INPUT"
	// TypeMismatch: a node-type strategy found a bound value whose content
	// type cannot satisfy that node type's contract (e.g. a non-CONVERSATION_STATE
	// envelope on PERSON_JOB's conversation handle).
	TypeMismatch Kind = "TYPE_MISMATCH"
	// ContentTypeMismatch: an inbound envelope's content type does not match
	// its handle's declared InputTypes entry, and coercion could not bridge
	// the two (e.g. RAW_TEXT body that is not valid JSON, targeting OBJECT).
	ContentTypeMismatch Kind = "CONTENT_TYPE_MISMATCH"
)

// ResolutionError is the typed failure InputResolver.Resolve raises instead
// of a bare error, so the scheduler's failure path (and any error-handling
// diagram branch) can distinguish "a value never arrived" from "a value
// arrived but in the wrong shape".
type ResolutionError struct {
	Kind   Kind
	NodeID diagram.NodeID
	Handle diagram.HandleName
	Detail string
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("node %s: handle %q: %s: %s", e.NodeID, e.Handle, e.Kind, e.Detail)
}
