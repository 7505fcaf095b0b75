package action

import (
	"errors"
	"fmt"
	"strings"

	"github.com/hashbridge/swapd/swap"
)

// NoSuchActionError reports that the requested action is not currently
// available for the swap: a structured answer, never a panic, for states
// with no matching action.
type NoSuchActionError struct {
	SwapID swap.ID
	Action Kind
	Reason string
}

func (e *NoSuchActionError) Error() string {
	return fmt.Sprintf("action: no %s action for swap %s: %s",
		e.Action, e.SwapID, e.Reason)
}

// Field describes one query parameter an action expects, returned to the
// caller when parameters are missing or unparseable (spec §4.9: "Missing
// or unparseable parameters produce an error with a structured
// description of what was expected").
type Field struct {
	Name        string   `json:"name"`
	Class       []string `json:"class"`
	Description string   `json:"description"`
}

// InvalidParamsError reports the full set of expected parameters when a
// request's query string can't satisfy an action.
type InvalidParamsError struct {
	Fields []Field
}

func (e *InvalidParamsError) Error() string {
	names := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		names[i] = f.Name
	}
	return fmt.Sprintf("action: missing or invalid parameters: %s",
		strings.Join(names, ", "))
}

// bitcoinSpendFields is the parameter set every Bitcoin redeem/refund
// requires.
var bitcoinSpendFields = []Field{
	{
		Name:        "address",
		Class:       []string{"bitcoin", "address"},
		Description: "The bitcoin address to where the funds should be sent.",
	},
	{
		Name:        "fee_per_byte",
		Class:       []string{"bitcoin", "feePerByte"},
		Description: "The fee per byte to pay, as a positive float.",
	},
}

func errBitcoinSpendParams() error {
	return &InvalidParamsError{Fields: bitcoinSpendFields}
}

// IsNotFound reports whether err should surface as a 404 rather than a
// 400/500 to the HTTP layer.
func IsNotFound(err error) bool {
	var nsa *NoSuchActionError
	return errors.As(err, &nsa)
}
