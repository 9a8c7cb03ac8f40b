package stream

import "strings"

// ArtifactToken in a command line is replaced by the invocation's artifact
// path, so tools that write their own log file can target the channel file.
const ArtifactToken = "{artifact}"

// Invocation describes one probe command. It is a value and is never
// modified once built.
type Invocation struct {
	Probe          string
	CommandLine    string
	ArtifactPath   string
	RedirectOutput bool
	// ReadRetries overrides the streamer's read budget when positive.
	ReadRetries int
}

// Command returns the command line with ArtifactToken expanded.
func (inv Invocation) Command() string {
	return strings.ReplaceAll(inv.CommandLine, ArtifactToken, inv.ArtifactPath)
}
