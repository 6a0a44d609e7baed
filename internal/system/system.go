package system

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// InitResourceLimits поднимает лимит открытых файлов: ffmpeg держит открытыми все входы микшера.
func InitResourceLimits(log *slog.Logger) {
	var rLimit syscall.Rlimit
	if err := syscall.Getrlimit(syscall.RLIMIT_NOFILE, &rLimit); err != nil {
		log.Warn("get file limit failed", "error", err)
		return
	}

	rLimit.Cur = 2048
	if rLimit.Cur > rLimit.Max {
		rLimit.Cur = rLimit.Max
	}

	if err := syscall.Setrlimit(syscall.RLIMIT_NOFILE, &rLimit); err != nil {
		log.Warn("set file limit failed", "error", err)
		return
	}
	log.Debug("file limit raised", "limit", rLimit.Cur)
}

// ProbeDuration returns the media duration in seconds reported by ffprobe.
func ProbeDuration(ctx context.Context, r Runner, ffprobe, path string) (float64, error) {
	res, err := r.Run(ctx, ffprobe, "-v", "error", "-show_entries", "format=duration", "-of", "default=noprint_wrappers=1:nokey=1", path)
	if err != nil {
		return 0, err
	}
	d, err := strconv.ParseFloat(strings.TrimSpace(res.Stdout), 64)
	if err != nil {
		return 0, fmt.Errorf("parse duration of %s: %w", path, err)
	}
	return d, nil
}

// BestH264Encoder выбирает энкодер по приоритету:
// 1. MacOS (VideoToolbox)
// 2. NVIDIA (NVENC)
// 3. Software (libx264)
func BestH264Encoder(ctx context.Context, r Runner, ffmpeg string) string {
	res, err := r.Run(ctx, ffmpeg, "-hide_banner", "-encoders")
	if err != nil {
		return "libx264"
	}
	for _, name := range []string{"h264_videotoolbox", "h264_nvenc"} {
		if strings.Contains(res.Stdout, name) {
			return name
		}
	}
	return "libx264"
}

// CleanStaleDirs удаляет временные каталоги задач, оставшиеся после падения процесса.
// Удаляются только каталоги с префиксом prefix старше olderThan.
func CleanStaleDirs(root, prefix string, olderThan time.Duration, now time.Time) ([]string, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, err
	}

	var removed []string
	for _, e := range entries {
		if !e.IsDir() || !strings.HasPrefix(e.Name(), prefix) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if now.Sub(info.ModTime()) < olderThan {
			continue
		}
		path := filepath.Join(root, e.Name())
		if err := os.RemoveAll(path); err != nil {
			return removed, err
		}
		removed = append(removed, path)
	}
	return removed, nil
}
