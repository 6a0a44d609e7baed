package tts

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/ivlev/stopcast/internal/config"
	"github.com/ivlev/stopcast/internal/system"
)

func TestSplit(t *testing.T) {
	tests := []struct {
		name string
		text string
		size int
		want []string
	}{
		{"short", "Next stop, Market", 200, []string{"Next stop, Market"}},
		{"word_boundary", "aaa bbb ccc", 7, []string{"aaa bbb", "ccc"}},
		{"long_word", "abcdefghij", 4, []string{"abcd", "efgh", "ij"}},
		{"blank", "   ", 10, nil},
		{"multibyte_word", strings.Repeat("駅", 5), 2, []string{"駅駅", "駅駅", "駅"}},
		{"multibyte_counts_runes", "Zürich Köln", 11, []string{"Zürich Köln"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Split(tt.text, tt.size)
			if strings.Join(got, "|") != strings.Join(tt.want, "|") || len(got) != len(tt.want) {
				t.Errorf("Split(%q, %d) = %q, want %q", tt.text, tt.size, got, tt.want)
			}
		})
	}
}

func TestSplitKeepsRunesWhole(t *testing.T) {
	chunks := Split(strings.Repeat("駅", 250), 200)
	if len(chunks) != 2 {
		t.Fatalf("Expected 2 chunks, got %d", len(chunks))
	}
	for i, c := range chunks {
		if !utf8.ValidString(c) {
			t.Errorf("Chunk %d is not valid UTF-8", i)
		}
	}
	if n := utf8.RuneCountInString(chunks[0]); n != 200 {
		t.Errorf("Expected 200 characters in the first chunk, got %d", n)
	}
}

func TestHTTPSynthesizer(t *testing.T) {
	var queries []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		queries = append(queries, r.URL.Query().Get("q"))
		if r.URL.Query().Get("tl") != "en" {
			t.Errorf("Expected tl=en, got %s", r.URL.Query().Get("tl"))
		}
		w.Write([]byte("ID3-" + r.URL.Query().Get("idx")))
	}))
	defer srv.Close()

	s := &HTTPSynthesizer{BaseURL: srv.URL, ChunkSize: 10, Client: srv.Client()}
	out := filepath.Join(t.TempDir(), "welcome.mp3")
	if err := s.Synthesize(context.Background(), "Welcome aboard friends", out); err != nil {
		t.Fatalf("Synthesize failed: %v", err)
	}

	data, _ := os.ReadFile(out)
	if string(data) != "ID3-0ID3-1ID3-2" {
		t.Errorf("Unexpected audio payload %q", data)
	}
	if len(queries) != 3 || queries[0] != "Welcome" {
		t.Errorf("Unexpected chunks %v", queries)
	}
}

func TestHTTPSynthesizerStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	s := &HTTPSynthesizer{BaseURL: srv.URL, Client: srv.Client()}
	out := filepath.Join(t.TempDir(), "x.mp3")
	if err := s.Synthesize(context.Background(), "hello", out); err == nil {
		t.Error("Expected error on 429")
	}
	if _, err := os.Stat(out); err == nil {
		t.Error("No file should be written on failure")
	}
	if err := s.Synthesize(context.Background(), " ", out); !errors.Is(err, ErrEmptyText) {
		t.Errorf("Expected ErrEmptyText, got %v", err)
	}
}

type writingRunner struct {
	args []string
}

func (w *writingRunner) Run(ctx context.Context, name string, args ...string) (system.Result, error) {
	w.args = args
	out := args[len(args)-1]
	return system.Result{}, os.WriteFile(out, []byte("RIFF"), 0644)
}

func TestCommandSynthesizer(t *testing.T) {
	r := &writingRunner{}
	s, err := New(config.TTS{Driver: "command", Command: "espeak-ng", Args: []string{"-v", "en", "{text}", "-w", "{out}"}}, r)
	if err != nil {
		t.Fatal(err)
	}
	out := filepath.Join(t.TempDir(), "a.wav")
	if err := s.Synthesize(context.Background(), "Next stop, Harbor", out); err != nil {
		t.Fatalf("Synthesize failed: %v", err)
	}
	if r.args[2] != "Next stop, Harbor" || r.args[4] != out {
		t.Errorf("Unexpected args %v", r.args)
	}
}

func TestNewUnknownDriver(t *testing.T) {
	if _, err := New(config.TTS{Driver: "carrier-pigeon"}, nil); err == nil {
		t.Error("Expected error for unknown driver")
	}
	if _, err := New(config.TTS{Driver: "command"}, nil); err == nil {
		t.Error("Expected error for command driver without command")
	}
}
