package drapto

import (
	"fmt"
	"log/slog"
	"strings"

	draptolib "github.com/five82/drapto"

	"ripforge/internal/logging"
	"ripforge/internal/media"
	"ripforge/internal/services"
)

// reporter adapts Drapto's Reporter callbacks onto a services.Reporter.
type reporter struct {
	out    services.Reporter
	logger *slog.Logger
}

func newReporter(out services.Reporter, logger *slog.Logger) *reporter {
	return &reporter{out: services.OrNop(out), logger: logger}
}

func (r *reporter) Hardware(s draptolib.HardwareSummary) {
	r.out.AppendLog(fmt.Sprintf("Encoding on %v", s.Hostname), services.SeverityInfo)
}

func (r *reporter) Initialization(s draptolib.InitializationSummary) {
	r.out.AppendLog(fmt.Sprintf("Input %v (%v, %v)", s.InputFile, s.Resolution, s.DynamicRange), services.SeverityInfo)
}

func (r *reporter) StageProgress(s draptolib.StageProgress) {
	task := fmt.Sprint(s.Stage)
	if msg := fmt.Sprint(s.Message); msg != "" {
		task += ": " + msg
	}
	r.out.SetCurrentTask(task)
	r.out.SetProgress(int64(float64(s.Percent)), 100)
	if s.ETA != nil {
		r.out.SetRemaining(media.FormatDuration(*s.ETA))
	}
}

func (r *reporter) CropResult(s draptolib.CropSummary) {
	if msg := fmt.Sprint(s.Message); msg != "" {
		r.out.AppendLog(msg, services.SeverityInfo)
	}
}

func (r *reporter) EncodingConfig(s draptolib.EncodingConfigSummary) {
	r.out.AppendLog(fmt.Sprintf("Encoder %v preset %v quality %v", s.Encoder, s.Preset, s.Quality), services.SeverityInfo)
}

func (r *reporter) EncodingStarted(totalFrames uint64) {
	r.out.SetCurrentTask("Encoding")
	r.logger.Debug("encoding started", logging.Int64("total_frames", int64(totalFrames)))
}

func (r *reporter) EncodingProgress(s draptolib.ProgressSnapshot) {
	r.out.SetProgress(int64(float64(s.Percent)), 100)
	r.out.SetRemaining(media.FormatDuration(s.ETA))
}

func (r *reporter) ValidationComplete(s draptolib.ValidationSummary) {
	if s.Passed {
		r.out.AppendLog("Output validation passed", services.SeverityInfo)
		return
	}
	failed := make([]string, 0, len(s.Steps))
	for _, step := range s.Steps {
		if !step.Passed {
			failed = append(failed, fmt.Sprint(step.Name))
		}
	}
	r.out.AppendLog("Output validation failed: "+strings.Join(failed, ", "), services.SeverityWarning)
}

func (r *reporter) EncodingComplete(s draptolib.EncodingOutcome) {
	r.out.AppendLog(fmt.Sprintf("Encoded %v: %d -> %d bytes", s.OutputFile, int64(s.OriginalSize), int64(s.EncodedSize)), services.SeverityInfo)
}

func (r *reporter) Warning(message string) {
	r.out.AppendLog(message, services.SeverityWarning)
	logging.WarnWithContext(r.logger, "drapto warning", "drapto_warning",
		logging.String("message", message),
		logging.String(logging.FieldImpact, "encode continues"),
	)
}

func (r *reporter) Error(e draptolib.ReporterError) {
	text := fmt.Sprintf("%v: %v", e.Title, e.Message)
	r.out.ReportError(text)
	r.out.AppendLog(text, services.SeverityError)
}

func (r *reporter) OperationComplete(message string) {
	r.out.AppendLog(message, services.SeverityInfo)
}

func (r *reporter) BatchStarted(s draptolib.BatchStartInfo) {
	r.logger.Debug("drapto batch started", logging.Any("files", s.TotalFiles))
}

func (r *reporter) FileProgress(s draptolib.FileProgressContext) {
	r.logger.Debug("drapto file progress", logging.Any("current", s.CurrentFile), logging.Any("total", s.TotalFiles))
}

func (r *reporter) BatchComplete(s draptolib.BatchSummary) {
	r.logger.Debug("drapto batch complete", logging.Any("successful", s.SuccessfulCount))
}

var _ draptolib.Reporter = (*reporter)(nil)
