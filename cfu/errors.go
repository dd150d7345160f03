package cfu

import (
	"fmt"

	"github.com/jangala-dev/ec-services/errcode"
	"github.com/jangala-dev/ec-services/internal/ids"
)

// Error is a CFU routing failure (§7 taxonomy: InvalidDevice,
// ProtocolError).
type Error struct {
	Code        errcode.Code
	ComponentID ids.CfuComponentId
}

func (e *Error) Error() string {
	return fmt.Sprintf("cfu: component %d: %s", e.ComponentID, e.Code)
}
