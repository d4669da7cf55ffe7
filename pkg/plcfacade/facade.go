// Package plcfacade exposes a narrow surface over a Controller for
// higher-level "logic" code that only needs to know whether a PLC
// connection is alive — it carries no semantics of its own (spec.md
// §4.5).
package plcfacade

import (
	"time"

	"github.com/mujin/goplc/internal/plccontroller"
)

// Facade delegates WaitUntilConnected to an underlying Controller.
type Facade struct {
	controller *plccontroller.Controller
}

// New wraps controller.
func New(controller *plccontroller.Controller) *Facade {
	return &Facade{controller: controller}
}

// WaitUntilConnected delegates directly to the wrapped Controller.
func (f *Facade) WaitUntilConnected(timeout time.Duration) bool {
	return f.controller.WaitUntilConnected(timeout)
}
