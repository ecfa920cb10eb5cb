package deps

import (
	"fmt"
	"os/exec"
	"strings"

	"ripforge/internal/config"
)

// Requirement defines an external binary ripforge shells out to.
type Requirement struct {
	Name        string
	Command     string
	Description string
	Optional    bool
}

// Status reports the availability of a dependency.
type Status struct {
	Name        string `json:"name"`
	Command     string `json:"command"`
	Description string `json:"description,omitempty"`
	Optional    bool   `json:"optional"`
	Available   bool   `json:"available"`
	Detail      string `json:"detail,omitempty"`
}

// Requirements lists the binaries the configured backup mode and transcode
// backend need.
func Requirements(cfg *config.Config) []Requirement {
	if cfg == nil {
		return nil
	}
	var reqs []Requirement
	if cfg.Backup.Mode == config.BackupModeMakeMKV {
		reqs = append(reqs, Requirement{
			Name:        "MakeMKV",
			Command:     cfg.MakeMKV.Binary,
			Description: "Disc title scan and backup",
		})
	}
	switch cfg.Transcode.Backend {
	case config.BackendHandBrake:
		reqs = append(reqs, Requirement{
			Name:        "HandBrake",
			Command:     cfg.Transcode.HandBrakeBinary,
			Description: "Transcoding",
		})
	case config.BackendDrapto:
		reqs = append(reqs, Requirement{
			Name:        "FFmpeg",
			Command:     "ffmpeg",
			Description: "Used by drapto for encoding",
		}, Requirement{
			Name:        "FFprobe",
			Command:     "ffprobe",
			Description: "Used by drapto for stream analysis",
		})
	}
	if len(cfg.Backup.Drives) > 0 {
		reqs = append(reqs, Requirement{
			Name:        "lsblk",
			Command:     "lsblk",
			Description: "Disc label detection",
			Optional:    true,
		})
	}
	return reqs
}

// CheckBinaries evaluates the provided requirements and reports availability.
func CheckBinaries(requirements []Requirement) []Status {
	results := make([]Status, 0, len(requirements))
	for _, req := range requirements {
		cmd := strings.TrimSpace(req.Command)
		status := Status{
			Name:        req.Name,
			Command:     cmd,
			Description: strings.TrimSpace(req.Description),
			Optional:    req.Optional,
		}
		switch {
		case cmd == "":
			status.Detail = "command not configured"
		default:
			if resolved, err := exec.LookPath(cmd); err != nil {
				status.Detail = fmt.Sprintf("binary %q not found", cmd)
			} else {
				status.Available = true
				status.Command = resolved
			}
		}
		results = append(results, status)
	}
	return results
}

// Missing returns the required dependencies that are unavailable.
func Missing(statuses []Status) []Status {
	var missing []Status
	for _, st := range statuses {
		if !st.Available && !st.Optional {
			missing = append(missing, st)
		}
	}
	return missing
}
