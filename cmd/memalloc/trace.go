package main

import (
	"fmt"
	"io"
	"unsafe"

	"github.com/spf13/cobra"

	"github.com/james1993/memalloc/heap"
	"github.com/james1993/memalloc/region"
)

var traceBacking string

func init() {
	cmd := newTraceCmd()
	cmd.Flags().StringVar(&traceBacking, "backing", "os", "Region backing: os or slice")
	rootCmd.AddCommand(cmd)
}

func newTraceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "trace",
		Short: "Replay the reference allocation scenario",
		Long: `The trace command allocates 16 and 32 bytes, frees the first block and
allocates 8 bytes, printing the block chain after every step. The last
allocation reuses the first block.

Example:
  memalloc trace
  memalloc trace --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrace(cmd.OutOrStdout())
		},
	}
	return cmd
}

type traceBlock struct {
	Name   string  `json:"name"`
	Offset uintptr `json:"offset"`
	Size   uintptr `json:"size"`
	Free   bool    `json:"free"`
}

type traceStep struct {
	Op          string       `json:"op"`
	Result      string       `json:"result,omitempty"`
	Blocks      []traceBlock `json:"blocks"`
	RegionBytes uint64       `json:"region_bytes"`
}

func runTrace(w io.Writer) error {
	backing, err := region.ParseBacking(traceBacking)
	if err != nil {
		return err
	}
	h, err := heap.New(heap.Options{MaxSize: 1 << 20, Backing: backing, Logger: newLogger()})
	if err != nil {
		return err
	}
	defer h.Close()

	steps := traceScenario(h)
	if jsonOut {
		return printJSON(w, steps)
	}
	for i, s := range steps {
		fmt.Fprintf(w, "step %d: %s", i+1, s.Op)
		if s.Result != "" {
			fmt.Fprintf(w, " -> %s", s.Result)
		}
		fmt.Fprintf(w, "\n  region: %d bytes\n", s.RegionBytes)
		for _, b := range s.Blocks {
			state := "in use"
			if b.Free {
				state = "free"
			}
			fmt.Fprintf(w, "  %-2s offset=%-4d size=%-4d %s\n", b.Name, b.Offset, b.Size, state)
		}
	}
	return nil
}

// traceScenario runs the scenario against h and records the chain after each
// operation. Blocks are named after the pointer that first carved them.
func traceScenario(h *heap.Heap) []traceStep {
	names := map[unsafe.Pointer]string{}
	var steps []traceStep

	record := func(op string, p unsafe.Pointer) {
		s := traceStep{Op: op, RegionBytes: h.Stats().RegionBytes}
		if p != nil {
			s.Result = names[p]
		}
		h.Walk(func(b heap.BlockInfo) bool {
			s.Blocks = append(s.Blocks, traceBlock{Name: names[b.Payload], Offset: b.Offset, Size: b.Size, Free: b.Free})
			return true
		})
		steps = append(steps, s)
	}
	malloc := func(name string, size uintptr) unsafe.Pointer {
		p := h.Malloc(size)
		if _, ok := names[p]; !ok && p != nil {
			names[p] = name
		}
		record(fmt.Sprintf("%s = malloc(%d)", name, size), p)
		return p
	}

	a := malloc("a", 16)
	malloc("b", 32)
	h.Free(a)
	record("free(a)", nil)
	malloc("c", 8)
	return steps
}
