package memalloc

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/james1993/memalloc/heap"
	"github.com/james1993/memalloc/region"
)

const (
	envMaxHeap = "MEMALLOC_MAX_HEAP"
	envBacking = "MEMALLOC_BACKING"
	envDebug   = "MEMALLOC_DEBUG"
)

func optionsFromEnv(getenv func(string) string) (heap.Options, error) {
	var opts heap.Options

	if s := getenv(envMaxHeap); s != "" {
		n, err := ParseSize(s)
		if err != nil {
			return opts, fmt.Errorf("memalloc: %s: %w", envMaxHeap, err)
		}
		opts.MaxSize = n
	}

	backing, err := region.ParseBacking(getenv(envBacking))
	if err != nil {
		return opts, fmt.Errorf("memalloc: %s: %w", envBacking, err)
	}
	opts.Backing = backing

	if getenv(envDebug) == "1" {
		opts.Logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}
	return opts, nil
}

// ParseSize parses a byte count with an optional K, M or G suffix (powers of
// 1024, case-insensitive, optional trailing B).
func ParseSize(s string) (uint64, error) {
	t := strings.ToUpper(strings.TrimSpace(s))
	t = strings.TrimSuffix(t, "B")

	shift := 0
	if n := len(t); n > 0 {
		switch t[n-1] {
		case 'K':
			shift = 10
		case 'M':
			shift = 20
		case 'G':
			shift = 30
		}
		if shift != 0 {
			t = t[:n-1]
		}
	}

	v, err := strconv.ParseUint(t, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q", s)
	}
	if v > (^uint64(0))>>shift {
		return 0, fmt.Errorf("size %q overflows", s)
	}
	return v << shift, nil
}
