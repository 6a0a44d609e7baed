// Package tts turns narration text into audio clips.
package tts

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/ivlev/stopcast/internal/config"
	"github.com/ivlev/stopcast/internal/system"
)

var ErrEmptyText = errors.New("tts: empty text")

// Synthesizer writes one audio clip for text to outPath.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, outPath string) error
}

// New builds the synthesizer selected in cfg.
func New(cfg config.TTS, runner system.Runner) (Synthesizer, error) {
	switch cfg.Driver {
	case "", "http":
		return &HTTPSynthesizer{
			BaseURL:   cfg.URL,
			Lang:      cfg.Lang,
			ChunkSize: cfg.ChunkSize,
			Client:    &http.Client{Timeout: cfg.Timeout},
		}, nil
	case "command":
		if cfg.Command == "" {
			return nil, errors.New("tts: command driver requires tts.command")
		}
		return &CommandSynthesizer{Runner: runner, Command: cfg.Command, Args: cfg.Args}, nil
	}
	return nil, fmt.Errorf("tts: unknown driver %q", cfg.Driver)
}

// HTTPSynthesizer calls a translate_tts style endpoint. Long texts are split
// into chunks on word boundaries and the returned MP3 frames are concatenated.
type HTTPSynthesizer struct {
	BaseURL   string
	Lang      string
	ChunkSize int
	Client    *http.Client
}

func (s *HTTPSynthesizer) Synthesize(ctx context.Context, text, outPath string) error {
	chunks := Split(text, s.ChunkSize)
	if len(chunks) == 0 {
		return ErrEmptyText
	}

	client := s.Client
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}

	var buf bytes.Buffer
	for i, chunk := range chunks {
		if err := s.fetch(ctx, client, chunk, i, len(chunks), &buf); err != nil {
			return err
		}
	}
	return os.WriteFile(outPath, buf.Bytes(), 0644)
}

func (s *HTTPSynthesizer) fetch(ctx context.Context, client *http.Client, chunk string, idx, total int, w io.Writer) error {
	q := url.Values{}
	q.Set("ie", "UTF-8")
	q.Set("q", chunk)
	q.Set("tl", s.lang())
	q.Set("client", "tw-ob")
	q.Set("total", strconv.Itoa(total))
	q.Set("idx", strconv.Itoa(idx))
	q.Set("textlen", strconv.Itoa(utf8.RuneCountInString(chunk)))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.BaseURL+"?"+q.Encode(), nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", "Mozilla/5.0")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("tts request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("tts request: unexpected status %d", resp.StatusCode)
	}
	n, err := io.Copy(w, resp.Body)
	if err != nil {
		return fmt.Errorf("tts read: %w", err)
	}
	if n == 0 {
		return errors.New("tts read: empty audio")
	}
	return nil
}

func (s *HTTPSynthesizer) lang() string {
	if s.Lang == "" {
		return "en"
	}
	return s.Lang
}

// Split breaks text into pieces of at most size characters, preferring word
// boundaries. Words longer than size are cut between runes.
func Split(text string, size int) []string {
	if size <= 0 {
		size = 200
	}
	var out []string
	var cur []rune
	flush := func() {
		if len(cur) > 0 {
			out = append(out, string(cur))
			cur = cur[:0]
		}
	}
	for _, word := range strings.Fields(text) {
		w := []rune(word)
		for len(w) > size {
			flush()
			out = append(out, string(w[:size]))
			w = w[size:]
		}
		if len(cur) > 0 && len(cur)+1+len(w) > size {
			flush()
		}
		if len(cur) > 0 {
			cur = append(cur, ' ')
		}
		cur = append(cur, w...)
	}
	flush()
	return out
}

// CommandSynthesizer runs a local TTS binary. {text} and {out} in Args are
// replaced with the narration text and the target file.
type CommandSynthesizer struct {
	Runner  system.Runner
	Command string
	Args    []string
}

func (s *CommandSynthesizer) Synthesize(ctx context.Context, text, outPath string) error {
	if strings.TrimSpace(text) == "" {
		return ErrEmptyText
	}
	args := make([]string, len(s.Args))
	for i, a := range s.Args {
		a = strings.ReplaceAll(a, "{text}", text)
		args[i] = strings.ReplaceAll(a, "{out}", outPath)
	}
	if _, err := s.Runner.Run(ctx, s.Command, args...); err != nil {
		return fmt.Errorf("tts command: %w", err)
	}
	info, err := os.Stat(outPath)
	if err != nil {
		return fmt.Errorf("tts command produced no file: %w", err)
	}
	if info.Size() == 0 {
		return errors.New("tts command produced an empty file")
	}
	return nil
}
