package daemon

import (
	"context"
	"os/exec"
	"strings"
	"time"
)

// echoCancelActive probes PulseAudio/PipeWire for a loaded echo cancellation
// module. Best effort only; any probe failure reads as "not active".
func echoCancelActive(ctx context.Context) bool {
	probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	out, err := exec.CommandContext(probeCtx, "pactl", "list", "short", "modules").Output()
	if err != nil {
		return false
	}
	return strings.Contains(string(out), "module-echo-cancel")
}
