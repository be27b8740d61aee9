package console

import (
	"fmt"

	"github.com/bft-labs/faceshell/pkg/lifecycle"
)

// Color is a status label colour.
type Color int

// Label colours.
const (
	ColorRed Color = iota
	ColorYellow
	ColorGreen
)

func (c Color) ansi() string {
	switch c {
	case ColorYellow:
		return "\x1b[33m"
	case ColorGreen:
		return "\x1b[32m"
	default:
		return "\x1b[31m"
	}
}

const ansiReset = "\x1b[0m"

// View is what the shell shows for one status.
type View struct {
	Label        string
	Color        Color
	StartEnabled bool
	StopEnabled  bool
}

// Present maps a controller status to its label and control enablement.
func Present(st lifecycle.Status, port int) View {
	v := View{
		StartEnabled: st.State.CanStart(),
		StopEnabled:  st.State.CanStop(),
	}
	switch st.State {
	case lifecycle.StateStopped:
		v.Label, v.Color = "Server Status: Stopped", ColorRed
	case lifecycle.StateStarting:
		v.Label, v.Color = "Server Status: Starting...", ColorYellow
	case lifecycle.StateRunning:
		v.Label, v.Color = fmt.Sprintf("Server Status: Running on port %d", port), ColorGreen
	case lifecycle.StateStopRequested:
		v.Label, v.Color = "Server Status: Stopping...", ColorYellow
	case lifecycle.StateFailed:
		msg := st.Error
		if msg == "" {
			msg = st.Reason
		}
		v.Label, v.Color = "Server Error: "+msg, ColorRed
	default:
		v.Label, v.Color = "Server Status: Unknown", ColorRed
	}
	return v
}
