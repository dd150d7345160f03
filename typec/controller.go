package typec

import (
	"context"

	"github.com/jangala-dev/ec-services/internal/ids"
)

// Error is the port-level error taxonomy (§4.6 "Errors (port-level)").
type Error string

func (e Error) Error() string { return string(e) }

const (
	ErrInvalidPort    Error = "typec: invalid port"
	ErrBusy           Error = "typec: busy"
	ErrFailed         Error = "typec: failed"
	ErrControllerBus  Error = "typec: controller bus error"
	ErrPd             Error = "typec: PD protocol error"
)

// FwUpdateStatus reports a controller's runtime firmware-update readiness.
type FwUpdateStatus struct {
	InProgress bool
	Version    uint32
}

// Controller is the wrapped driver capability every wrapper drives
// (§4.6 "Controller capability (external)"). Out of scope per §1
// ("hardware device drivers"); this is the CORE's boundary onto it.
type Controller interface {
	SyncState(ctx context.Context) error
	WaitPortEvent(ctx context.Context) error
	ClearPortEvents(ctx context.Context, port ids.LocalPortId) (PortEvent, error)
	GetPortStatus(ctx context.Context, port ids.LocalPortId, cached bool) (PortStatus, error)
	EnableSinkPath(ctx context.Context, port ids.LocalPortId, enable bool) error
	SetProviderCapability(ctx context.Context, port ids.LocalPortId, cap ids.ProviderPowerCapability) error

	GetControllerStatus(ctx context.Context) (string, error)
	GetRtFwUpdateStatus(ctx context.Context) (FwUpdateStatus, error)
	SetRtFwUpdateState(ctx context.Context, inProgress bool) error
	SetRtCompliance(ctx context.Context) error

	GetPdAlert(ctx context.Context, port ids.LocalPortId) (Alert, bool, error)

	ExecuteUcsi(ctx context.Context, cmd UcsiCommand) (UcsiResponse, error)

	GetActiveFwVersion(ctx context.Context) (uint32, error)
	StartFwUpdate(ctx context.Context) error
	AbortFwUpdate(ctx context.Context) error
	FinalizeFwUpdate(ctx context.Context) error
	WriteFwContents(ctx context.Context, offset uint32, data []byte) error
}

// Alert is a single PD attention/alert ADO retrieved from the controller.
type Alert struct {
	Port ids.LocalPortId
	Ado  uint32
}
