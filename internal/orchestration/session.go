package orchestration

import (
	"fmt"
	"time"
)

// Phase is the lifecycle position of the orchestration session.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseStarting
	PhaseRunning
	PhaseCancelling
	// PhaseCleanup: the task stopped but the backend may still be cleaning up.
	PhaseCleanup
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseStarting:
		return "starting"
	case PhaseRunning:
		return "running"
	case PhaseCancelling:
		return "cancelling"
	case PhaseCleanup:
		return "cleanup"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// BannerKind selects how a banner is presented.
type BannerKind int

const (
	BannerNone BannerKind = iota
	BannerCleanupRunning
	BannerCleanupDone
	BannerInfo
	BannerError
)

func (k BannerKind) String() string {
	switch k {
	case BannerNone:
		return "none"
	case BannerCleanupRunning:
		return "cleanup_running"
	case BannerCleanupDone:
		return "cleanup_done"
	case BannerInfo:
		return "info"
	case BannerError:
		return "error"
	default:
		return fmt.Sprintf("banner(%d)", int(k))
	}
}

// Banner is the single user-facing notice of the session.
type Banner struct {
	Kind BannerKind
	Text string
}

// Banner texts.
const (
	CancelRunningText = "Cleanup is still running in the background. Please wait a few more seconds before generating a new report."
	GraceRunningText  = "Cleanup is still running in the background. Please wait ~20 seconds before generating a new report."
	CancellingText    = "Your AI PDF Report is still being cancelled… please wait while cleanup completes (about 20 s total)."
)

// CancelPrompt is shown to the user before a cancel request is issued.
const CancelPrompt = "Cancel the report that is being generated?"

// Snapshot is a consistent copy of the session state.
type Snapshot struct {
	Phase      Phase
	Processing bool
	Cancelling bool
	TaskID     string
	Banner     Banner
	StartedAt  time.Time
}

// Busy reports whether a new task would be rejected.
func (s Snapshot) Busy() bool {
	return s.Phase != PhaseIdle
}
