package transport

import (
	"context"

	"machine"

	"github.com/jangala-dev/tinygo-uartx/uartx"
)

// UARTConfig carries the pin/baud configuration for the host-facing UART
// link, mirroring the shape the teacher platform's own bridge transport
// config expects.
type UARTConfig struct {
	BaudRate int
	TX       machine.Pin
	RX       machine.Pin
}

// uartMedium adapts a *uartx.UART to the Medium interface.
type uartMedium struct {
	u *uartx.UART
}

// NewUARTMedium configures hw for the host link and wraps it as a Medium.
func NewUARTMedium(hw *uartx.UART, cfg UARTConfig) (Medium, error) {
	if err := hw.Configure(uartx.UARTConfig{BaudRate: cfg.BaudRate, TX: cfg.TX, RX: cfg.RX}); err != nil {
		return nil, err
	}
	return &uartMedium{u: hw}, nil
}

func (m *uartMedium) ReadContext(ctx context.Context, buf []byte) (int, error) {
	return m.u.RecvSomeContext(ctx, buf)
}

func (m *uartMedium) Write(buf []byte) (int, error) {
	return m.u.Write(buf)
}
