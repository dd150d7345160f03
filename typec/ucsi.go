package typec

import "github.com/jangala-dev/ec-services/internal/ids"

// UcsiCommand is a UCSI command forwarded to or translated for a
// controller (§4.6 "UCSI command dispatch"). LPM commands target a
// global port and are translated to a local port before reaching the
// controller; PPM commands have no port and are forwarded as-is.
type UcsiCommand struct {
	IsLpm     bool
	GlobalPort ids.GlobalPortId
	LocalPort  ids.LocalPortId // populated by Wrapper.translateUcsi for LPM commands
	Opcode     uint8
	Payload    []byte
}

// Cci is the UCSI command-completion-indicator bitfield a response
// carries; the service layer rewrites these bits per the UCSI state
// machine.
type Cci struct {
	CmdComplete     bool
	AckCommand      bool
	ConnectorChange ids.GlobalPortId
	HasConnectorChange bool
	Error           bool
}

// UcsiResponse is a controller's UCSI command result.
type UcsiResponse struct {
	Cci     Cci
	Payload []byte
}

// translateUcsi resolves an LPM command's global port to this wrapper's
// local port table, leaving PPM commands untouched.
func (w *Wrapper) translateUcsi(cmd UcsiCommand) (UcsiCommand, error) {
	if !cmd.IsLpm {
		return cmd, nil
	}
	local, ok := w.localPort(cmd.GlobalPort)
	if !ok {
		return cmd, ErrInvalidPort
	}
	cmd.LocalPort = local
	return cmd, nil
}

// rewriteCci applies the top-level service's Cci bit policy (§4.6): the
// wrapper reports ack/complete relative to its own dispatch, and maps any
// connector-change local port back to a global port id.
func (w *Wrapper) rewriteCci(local ids.LocalPortId, resp UcsiResponse) UcsiResponse {
	resp.Cci.AckCommand = true
	resp.Cci.CmdComplete = true
	if resp.Cci.HasConnectorChange {
		if global, ok := w.globalPort(local); ok {
			resp.Cci.ConnectorChange = global
		}
	}
	return resp
}

// ExecuteUcsi translates cmd (if LPM), forwards it to the controller, and
// rewrites the response Cci bits.
func (w *Wrapper) ExecuteUcsi(cmd UcsiCommand) (UcsiResponse, error) {
	translated, err := w.translateUcsi(cmd)
	if err != nil {
		return UcsiResponse{}, err
	}

	g := w.fwUpdate.LockNow()
	inProgress := g.Get().state != fwIdle
	g.Release()
	if inProgress {
		return UcsiResponse{}, ErrBusy
	}

	resp, err := w.controller.ExecuteUcsi(w.ctx(), translated)
	if err != nil {
		return UcsiResponse{}, err
	}
	return w.rewriteCci(translated.LocalPort, resp), nil
}
