package transport

import (
	"context"
	"strings"

	shellquote "github.com/kballard/go-shellquote"
)

// Sentinel lines chosen to be improbable in real file data. Do not attempt
// to escape them out of remote output; if a path or file body happens to
// contain one verbatim, that is an accepted wire-format limitation.
const (
	beginMarker = "__SS_BEGIN__"
	endMarker   = "__SS_END__"
)

// MarkerResult is the outcome of a marker-framed remote command: Body is
// the slice of stdout strictly between the BEGIN/END sentinels, trimmed,
// with login banners and MOTD text discarded.
type MarkerResult struct {
	ExitCode       int
	Body           string
	Stderr         string
	AuthFailed     bool
	PromptDetected bool
}

// RunWithMarkers wraps remoteCommand so the remote shell prints a BEGIN
// sentinel, then the command's own output, then an END sentinel, and
// returns only what fell between them.
func RunWithMarkers(ctx context.Context, ep Endpoint, remoteCommand []string) (MarkerResult, error) {
	wrapped := wrapWithMarkers(remoteCommand)
	res, err := Run(ctx, ep, wrapped)
	if err != nil {
		return MarkerResult{}, err
	}
	return MarkerResult{
		ExitCode:       res.ExitCode,
		Body:           extractBetweenMarkers(res.Stdout),
		Stderr:         res.Stderr,
		AuthFailed:     res.AuthFailed,
		PromptDetected: res.PromptDetected,
	}, nil
}

func wrapWithMarkers(command []string) []string {
	script := shellquote.Join("printf", beginMarker+"\\n") +
		" && " + shellquote.Join(command...) +
		" && " + shellquote.Join("printf", endMarker+"\\n")
	return []string{"sh", "-c", script}
}

// extractBetweenMarkers returns the strict slice between the BEGIN and END
// sentinel lines, trimmed. If BEGIN never appears the body is empty.
func extractBetweenMarkers(stdout string) string {
	lines := strings.Split(stdout, "\n")
	capturing := false
	var body []string
	for _, line := range lines {
		if !capturing {
			if strings.TrimSpace(line) == beginMarker {
				capturing = true
			}
			continue
		}
		if strings.TrimSpace(line) == endMarker {
			break
		}
		body = append(body, line)
	}
	return strings.TrimSpace(strings.Join(body, "\n"))
}
