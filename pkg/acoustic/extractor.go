package acoustic

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"

	"voxpipe-server/pkg/config"
	"voxpipe-server/pkg/errors"
	"voxpipe-server/pkg/fusion"
)

// commandRunner executes an external tool. Injectable for tests.
type commandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

func defaultCommandRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// featureNames are the scalars pulled from the tool output.
var featureNames = []string{
	fusion.FeaturePitch,
	fusion.FeatureVolume,
	fusion.FeatureConfidence,
}

// Extractor runs the external acoustic analysis tool over a recorded audio
// file and extracts the representative paralinguistic scalars. All failures
// here are degraded-path failures; the caller records them and continues.
type Extractor struct {
	logger *logrus.Logger
	config *config.AcousticConfig
	run    commandRunner
}

// NewExtractor creates an acoustic feature extractor.
func NewExtractor(logger *logrus.Logger, cfg *config.AcousticConfig) *Extractor {
	return &Extractor{
		logger: logger,
		config: cfg,
		run:    defaultCommandRunner,
	}
}

// Enabled reports whether extraction is configured.
func (e *Extractor) Enabled() bool {
	return e.config != nil && e.config.Enabled
}

// Extract normalizes the audio to mono 16kHz PCM, runs the analysis tool and
// parses its output. Normalization failure falls back to the original file.
// Tool failure, missing output and absent features all return an error the
// caller treats as non-fatal.
func (e *Extractor) Extract(ctx context.Context, audioPath string) (map[string]float64, error) {
	if !e.Enabled() {
		return nil, errors.New("acoustic extraction is disabled")
	}

	if e.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.config.Timeout)
		defer cancel()
	}

	wavPath := e.normalize(ctx, audioPath)
	if wavPath != audioPath {
		defer os.Remove(wavPath)
	}

	workDir := e.config.WorkDir
	if workDir == "" {
		workDir = os.TempDir()
	}
	outputFile, err := os.CreateTemp(workDir, "acoustic-*.csv")
	if err != nil {
		return nil, errors.Wrap(err, "failed to create analysis output file")
	}
	outputPath := outputFile.Name()
	outputFile.Close()
	os.Remove(outputPath) // the tool refuses to append to an existing file
	defer os.Remove(outputPath)

	output, err := e.run(ctx, e.config.BinaryPath,
		"-C", e.config.ConfigPath,
		"-I", wavPath,
		"-O", outputPath,
	)
	if err != nil {
		e.logger.WithFields(logrus.Fields{
			"binary": e.config.BinaryPath,
			"error":  err,
			"output": truncate(string(output), 512),
		}).Warn("Acoustic analysis tool failed")
		return nil, errors.Wrap(err, "analysis tool exited with error").WithField("tool", e.config.BinaryPath)
	}

	f, err := os.Open(outputPath)
	if err != nil {
		return nil, errors.Wrap(err, "analysis output file was not produced")
	}
	defer f.Close()

	features, err := parseFeatures(f, featureNames)
	if err != nil {
		return nil, err
	}

	e.logger.WithField("features", features).Debug("Acoustic features extracted")
	return features, nil
}

// normalize converts the input to a mono 16kHz PCM WAV file next to the
// original. On any failure the original path is returned so analysis can
// still be attempted against it.
func (e *Extractor) normalize(ctx context.Context, audioPath string) string {
	ffmpeg := e.config.FFmpegPath
	if ffmpeg == "" {
		ffmpeg = "ffmpeg"
	}

	ext := filepath.Ext(audioPath)
	wavPath := strings.TrimSuffix(audioPath, ext) + "_norm.wav"

	output, err := e.run(ctx, ffmpeg,
		"-y", "-i", audioPath,
		"-acodec", "pcm_s16le",
		"-ar", "16000",
		"-ac", "1",
		wavPath,
	)
	if err != nil {
		e.logger.WithFields(logrus.Fields{
			"audio_path": audioPath,
			"error":      err,
			"output":     truncate(string(output), 512),
		}).Warn("Audio normalization failed, analyzing original file")
		os.Remove(wavPath)
		return audioPath
	}

	return wavPath
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
