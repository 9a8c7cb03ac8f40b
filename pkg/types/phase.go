package types

// Phase tags the step a measurement run has reached. Progress renderers map
// each phase to a share of the overall bar.
type Phase int

const (
	PhaseStart Phase = iota
	PhasePingDone
	PhaseDownloadConnecting
	PhaseDownload
	PhaseDownloadDone
	PhaseUploadConnecting
	PhaseUpload
	PhaseUploadDone
	PhasePersisting
	PhaseReporting
	PhaseDone
)

func (p Phase) String() string {
	switch p {
	case PhaseStart:
		return "start"
	case PhasePingDone:
		return "ping-done"
	case PhaseDownloadConnecting:
		return "download-connecting"
	case PhaseDownload:
		return "download"
	case PhaseDownloadDone:
		return "download-done"
	case PhaseUploadConnecting:
		return "upload-connecting"
	case PhaseUpload:
		return "upload"
	case PhaseUploadDone:
		return "upload-done"
	case PhasePersisting:
		return "persisting"
	case PhaseReporting:
		return "reporting"
	case PhaseDone:
		return "done"
	default:
		return "unknown"
	}
}
