package recorder

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"VibeTune/config"
	"VibeTune/logger"
)

// ErrNoDevice is returned when no video device is available.
var ErrNoDevice = errors.New("no video capture device found")

// FFmpegCapture records webcam video and microphone audio to WebM with ffmpeg.
type FFmpegCapture struct {
	ffmpegPath  string
	inputFormat string
	audioInput  string
	outputDir   string
	devGlob     string
}

// NewFFmpegCapture creates a capture backend from configuration.
func NewFFmpegCapture(cfg *config.Config) *FFmpegCapture {
	return &FFmpegCapture{
		ffmpegPath:  cfg.FFmpegPath,
		inputFormat: cfg.CaptureFormat,
		audioInput:  cfg.CaptureAudio,
		outputDir:   cfg.RecordingDir,
		devGlob:     "/dev/video*",
	}
}

// Devices lists video devices in name order.
func (c *FFmpegCapture) Devices(ctx context.Context) ([]Device, error) {
	paths, err := filepath.Glob(c.devGlob)
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)
	devices := make([]Device, 0, len(paths))
	for _, p := range paths {
		devices = append(devices, Device{ID: p, Label: filepath.Base(p)})
	}
	return devices, nil
}

type deviceStream struct {
	id string
}

func (s *deviceStream) DeviceID() string { return s.id }
func (s *deviceStream) Close() error     { return nil }

// Open binds to deviceID, or to the first device when it is empty.
func (c *FFmpegCapture) Open(ctx context.Context, deviceID string) (Stream, error) {
	if deviceID == "" {
		devices, err := c.Devices(ctx)
		if err != nil {
			return nil, err
		}
		if len(devices) == 0 {
			return nil, ErrNoDevice
		}
		deviceID = devices[0].ID
	}
	if _, err := os.Stat(deviceID); err != nil {
		return nil, fmt.Errorf("open %s: %w", deviceID, err)
	}
	return &deviceStream{id: deviceID}, nil
}

// recordArgs builds the ffmpeg command line for one recording.
func (c *FFmpegCapture) recordArgs(device, output string) []string {
	args := []string{"-hide_banner", "-loglevel", "error", "-y"}
	if c.inputFormat != "" {
		args = append(args, "-f", c.inputFormat)
	}
	args = append(args, "-i", device)
	if c.audioInput != "" {
		args = append(args, "-f", "alsa", "-i", c.audioInput)
	}
	args = append(args,
		"-t", strconv.Itoa(MaxRecordingSeconds+1),
		"-c:v", "libvpx", "-deadline", "realtime", "-b:v", "1M",
	)
	if c.audioInput != "" {
		args = append(args, "-c:a", "libopus")
	}
	return append(args, "-f", "webm", output)
}

// StartRecording launches ffmpeg for the stream's device.
func (c *FFmpegCapture) StartRecording(stream Stream) (Recording, error) {
	if err := os.MkdirAll(c.outputDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create recording directory: %w", err)
	}
	output := filepath.Join(c.outputDir, fmt.Sprintf("take-%d.webm", time.Now().UnixNano()))

	cmd := exec.Command(c.ffmpegPath, c.recordArgs(stream.DeviceID(), output)...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdin pipe: %w", err)
	}
	rec := &ffmpegRecording{cmd: cmd, stdin: stdin, output: output, ffprobe: ffprobePath(c.ffmpegPath)}
	cmd.Stderr = &rec.stderr
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start FFmpeg: %w", err)
	}
	rec.started = time.Now()
	logger.Info("[Recorder] ffmpeg started",
		logger.String("device", stream.DeviceID()),
		logger.String("output", output))
	return rec, nil
}

type ffmpegRecording struct {
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	stderr  bytes.Buffer
	output  string
	ffprobe string
	started time.Time
	once    sync.Once
	err     error
}

// Stop asks ffmpeg to finish the file by sending "q", killing it after 5s.
func (r *ffmpegRecording) Stop() (Media, error) {
	r.once.Do(func() {
		if _, err := io.WriteString(r.stdin, "q"); err != nil {
			logger.Debug("[Recorder] failed to send quit to ffmpeg", logger.ErrorField(err))
		}
		r.stdin.Close()

		done := make(chan error, 1)
		go func() { done <- r.cmd.Wait() }()

		select {
		case err := <-done:
			if err != nil && !isInterruptExit(err) {
				r.err = fmt.Errorf("FFmpeg process failed: %w: %s", err, strings.TrimSpace(r.stderr.String()))
			}
		case <-time.After(5 * time.Second):
			logger.Warn("[Recorder] ffmpeg did not exit in time, killing")
			r.cmd.Process.Kill()
			<-done
		}
	})
	if r.err != nil {
		return Media{}, r.err
	}

	duration := time.Since(r.started)
	if probed, err := probeDuration(r.ffprobe, r.output); err == nil {
		duration = probed
	}
	return Media{Path: r.output, MIMEType: "video/webm", Duration: duration}, nil
}

func isInterruptExit(err error) bool {
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		return false
	}
	return exitErr.ExitCode() == 255
}

func ffprobePath(ffmpegPath string) string {
	return strings.Replace(ffmpegPath, "ffmpeg", "ffprobe", 1)
}

// probeDuration reads the container duration with ffprobe.
func probeDuration(ffprobe, file string) (time.Duration, error) {
	cmd := exec.Command(ffprobe,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "json",
		file,
	)
	var out bytes.Buffer
	cmd.Stdout = &out
	if err := cmd.Run(); err != nil {
		return 0, fmt.Errorf("ffprobe execution failed for %s: %w", file, err)
	}
	return parseProbeDuration(out.Bytes())
}

func parseProbeDuration(data []byte) (time.Duration, error) {
	var probe struct {
		Format struct {
			Duration string `json:"duration"`
		} `json:"format"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return 0, fmt.Errorf("failed to unmarshal ffprobe output: %w", err)
	}
	seconds, err := strconv.ParseFloat(probe.Format.Duration, 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse duration %q: %w", probe.Format.Duration, err)
	}
	return time.Duration(seconds * float64(time.Second)), nil
}
