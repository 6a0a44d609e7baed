package video

import (
	"context"
	"fmt"
	"strconv"

	"github.com/ivlev/stopcast/internal/system"
)

// Encoder turns rendered frames into a video and joins it with the audio track.
type Encoder interface {
	EncodeFrames(ctx context.Context, pattern string, fps float64, out string) error
	Mux(ctx context.Context, videoPath, audioPath, out string) error
}

type FFmpegEncoder struct {
	Runner  system.Runner
	FFmpeg  string
	Codec   string
	Quality int
	Preset  string
	Tune    string
}

func (e *FFmpegEncoder) EncodeFrames(ctx context.Context, pattern string, fps float64, out string) error {
	if _, err := e.Runner.Run(ctx, e.ffmpeg(), e.EncodeArgs(pattern, fps, out)...); err != nil {
		return fmt.Errorf("encode frames: %w", err)
	}
	return nil
}

// EncodeArgs builds the image-sequence encode command.
func (e *FFmpegEncoder) EncodeArgs(pattern string, fps float64, out string) []string {
	rate := strconv.FormatFloat(fps, 'f', -1, 64)
	args := []string{
		"-y", "-hide_banner", "-loglevel", "error",
		"-framerate", rate,
		"-i", pattern,
		"-c:v", e.codec(),
	}
	args = append(args, e.qualityArgs()...)
	args = append(args, "-pix_fmt", "yuv420p", "-r", rate, out)
	return args
}

func (e *FFmpegEncoder) Mux(ctx context.Context, videoPath, audioPath, out string) error {
	if _, err := e.Runner.Run(ctx, e.ffmpeg(), MuxArgs(videoPath, audioPath, out)...); err != nil {
		return fmt.Errorf("mux: %w", err)
	}
	return nil
}

// MuxArgs copies the video stream and cuts the audio to the video length.
func MuxArgs(videoPath, audioPath, out string) []string {
	return []string{
		"-y", "-hide_banner", "-loglevel", "error",
		"-i", videoPath,
		"-i", audioPath,
		"-map", "0:v:0", "-map", "1:a:0",
		"-c:v", "copy",
		"-c:a", "aac",
		"-shortest",
		"-movflags", "+faststart",
		out,
	}
}

// Качество в зависимости от энкодера
func (e *FFmpegEncoder) qualityArgs() []string {
	switch e.codec() {
	case "h264_videotoolbox":
		// VideoToolbox не понимает crf, используем битрейт: 28 -> 2800k
		return []string{"-b:v", fmt.Sprintf("%dk", e.Quality*100)}
	case "h264_nvenc":
		return []string{"-cq", strconv.Itoa(e.Quality)}
	default: // libx264
		args := []string{"-crf", strconv.Itoa(e.Quality)}
		if e.Preset != "" {
			args = append(args, "-preset", e.Preset)
		}
		if e.Tune != "" {
			args = append(args, "-tune", e.Tune)
		}
		return args
	}
}

func (e *FFmpegEncoder) codec() string {
	if e.Codec == "" {
		return "libx264"
	}
	return e.Codec
}

func (e *FFmpegEncoder) ffmpeg() string {
	if e.FFmpeg == "" {
		return "ffmpeg"
	}
	return e.FFmpeg
}
