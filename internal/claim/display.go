package claim

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/google/uuid"
)

// display prints the one-time claim token, agent ID, claim URL, and local
// expiry time in a boxed instruction panel to the operator log, mirroring
// the one-shot informational output this workflow must never log twice.
func display(logger log.Logger, agentID uuid.UUID, token, claimURL string, expiresAt time.Time) {
	for _, line := range box(agentID, token, claimURL, expiresAt) {
		level.Info(logger).Log("msg", line)
	}
}

func box(agentID uuid.UUID, token, claimURL string, expiresAt time.Time) []string {
	lines := []string{
		"Agent ID:   " + agentID.String(),
		"Claim token: " + token,
		"Claim URL:  " + claimURL,
		"Expires at: " + expiresAt.Local().Format(time.RFC1123),
	}

	width := 0
	for _, l := range lines {
		if len(l) > width {
			width = len(l)
		}
	}

	top := "┌" + strings.Repeat("─", width+2) + "┐"
	bottom := "└" + strings.Repeat("─", width+2) + "┘"

	out := make([]string, 0, len(lines)+2)
	out = append(out, top)
	for _, l := range lines {
		out = append(out, fmt.Sprintf("│ %-*s │", width, l))
	}
	out = append(out, bottom)
	return out
}
