package plcfacade

import (
	"testing"
	"time"

	"github.com/mujin/goplc/internal/plccontroller"
	"github.com/mujin/goplc/internal/plcmemory"
)

func TestWaitUntilConnectedDelegatesToController(t *testing.T) {
	memory := plcmemory.New()
	controller := plccontroller.New(memory, 0, "")
	defer controller.Close()

	facade := New(controller)
	if !facade.WaitUntilConnected(10 * time.Millisecond) {
		t.Error("WaitUntilConnected = false with heartbeat tracking disabled, want true")
	}
}
