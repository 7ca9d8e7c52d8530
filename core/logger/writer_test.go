package logger

import (
	"bytes"
	"errors"
	"io"
	"testing"
)

type brokenWriter struct{}

func (brokenWriter) Write([]byte) (int, error) { return 0, errors.New("disk full") }

func TestAsyncWriterKeepsHealthySinks(t *testing.T) {
	good := &bytes.Buffer{}
	aw := newAsyncWriter([]io.Writer{brokenWriter{}, good}, 1)

	if err := aw.Write([]byte("first line\n")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := aw.Flush(); err == nil {
		t.Fatal("expected the broken sink to be reported")
	}
	if err := aw.Write([]byte("second line\n")); err != nil {
		t.Fatalf("write after sink failure: %v", err)
	}
	if err := aw.Close(); err == nil {
		t.Fatal("expected close to report the broken sink")
	}
	if got := good.String(); got != "first line\nsecond line\n" {
		t.Fatalf("healthy sink got %q", got)
	}
}

func TestAsyncWriterFailsWhenEverySinkFails(t *testing.T) {
	aw := newAsyncWriter([]io.Writer{brokenWriter{}}, 1)
	defer aw.Close()

	_ = aw.Write([]byte("lost\n"))
	_ = aw.Flush()
	if err := aw.Write([]byte("again\n")); !errors.Is(err, errAllSinksFailed) {
		t.Fatalf("write err = %v, want errAllSinksFailed", err)
	}
}

func TestRatioSampler(t *testing.T) {
	s := newRatioSampler(2, 5)
	allowed := 0
	for i := 0; i < 10; i++ {
		if s.Allow() {
			allowed++
		}
	}
	if allowed != 4 {
		t.Fatalf("allowed %d of 10, want 4", allowed)
	}

	s.Set(0, 0)
	for i := 0; i < 3; i++ {
		if !s.Allow() {
			t.Fatal("disabled sampler must allow everything")
		}
	}
}

func TestParseRatioSpec(t *testing.T) {
	cases := map[string][2]int{
		"":     {0, 0},
		"1/50": {1, 50},
		"50":   {1, 50},
		"5%":   {5, 100},
		"250%": {100, 100},
		"0":    {0, 0},
		"x/y":  {0, 0},
		"-3%":  {0, 0},
	}
	for spec, want := range cases {
		num, den := parseRatioSpec(spec)
		if num != want[0] || den != want[1] {
			t.Errorf("parseRatioSpec(%q) = %d/%d, want %d/%d", spec, num, den, want[0], want[1])
		}
	}
}
