package main

import (
	"fmt"
	"io"
	"math/rand/v2"
	"sync"
	"time"
	"unsafe"

	"github.com/spf13/cobra"

	"github.com/james1993/memalloc"
	"github.com/james1993/memalloc/heap"
	"github.com/james1993/memalloc/region"
)

type stressConfig struct {
	Workers int
	Ops     int
	MaxSize int
	MaxLive int
	Reserve string
	Backing string
	Seed    uint64
}

var stressCfg stressConfig

func init() {
	cmd := newStressCmd()
	f := cmd.Flags()
	f.IntVar(&stressCfg.Workers, "workers", 8, "Concurrent goroutines")
	f.IntVar(&stressCfg.Ops, "ops", 10000, "Operations per goroutine")
	f.IntVar(&stressCfg.MaxSize, "max-size", 512, "Largest allocation in bytes")
	f.IntVar(&stressCfg.MaxLive, "max-live", 32, "Live allocations per goroutine before one is freed")
	f.StringVar(&stressCfg.Reserve, "reserve", "256M", "Address space to reserve (K, M, G suffixes)")
	f.StringVar(&stressCfg.Backing, "backing", "os", "Region backing: os or slice")
	f.Uint64Var(&stressCfg.Seed, "seed", 1, "Random seed")
	rootCmd.AddCommand(cmd)
}

func newStressCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stress",
		Short: "Allocate and free from many goroutines at once",
		Long: `The stress command runs goroutines that allocate random sizes, fill
each block with a per-goroutine pattern, and verify the pattern before
freeing. It fails if a block is corrupted or a pointer is handed to two
goroutines at once.

Example:
  memalloc stress
  memalloc stress --workers 32 --ops 100000 --backing slice`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := runStress(stressCfg)
			if err != nil && res.Mallocs == 0 {
				return err
			}
			if perr := printStress(cmd.OutOrStdout(), res); perr != nil {
				return perr
			}
			return err
		},
	}
	return cmd
}

type stressResult struct {
	Mallocs    uint64        `json:"mallocs"`
	Frees      uint64        `json:"frees"`
	Failures   uint64        `json:"failures"`
	Duplicates uint64        `json:"duplicates"`
	Corrupted  uint64        `json:"corrupted"`
	Elapsed    time.Duration `json:"elapsed_ns"`
	Peak       uint64        `json:"peak_region_bytes"`
	Final      heap.Stats    `json:"final"`
}

func (r stressResult) ok() bool {
	return r.Failures == 0 && r.Duplicates == 0 && r.Corrupted == 0 && r.Final.InUseBytes == 0
}

func runStress(cfg stressConfig) (stressResult, error) {
	var res stressResult
	if cfg.Workers < 1 || cfg.Ops < 0 || cfg.MaxSize < 1 || cfg.MaxLive < 1 {
		return res, fmt.Errorf("workers, max-size and max-live must be positive")
	}
	reserve, err := memalloc.ParseSize(cfg.Reserve)
	if err != nil {
		return res, fmt.Errorf("reserve: %w", err)
	}
	backing, err := region.ParseBacking(cfg.Backing)
	if err != nil {
		return res, err
	}
	h, err := heap.New(heap.Options{MaxSize: reserve, Backing: backing, Logger: newLogger()})
	if err != nil {
		return res, err
	}
	defer h.Close()

	var (
		mu   sync.Mutex // guards res and live
		live = map[uintptr]int{}
		wg   sync.WaitGroup
	)

	type alloc struct {
		p unsafe.Pointer
		n uintptr
	}

	start := time.Now()
	for w := 0; w < cfg.Workers; w++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			rng := rand.New(rand.NewPCG(cfg.Seed, uint64(id)))
			pattern := byte(id%255 + 1)
			var mine []alloc

			release := func(i int) {
				a := mine[i]
				corrupted := false
				for _, c := range heap.Bytes(a.p, a.n) {
					if c != pattern {
						corrupted = true
						break
					}
				}
				mu.Lock()
				delete(live, uintptr(a.p))
				res.Frees++
				if corrupted {
					res.Corrupted++
				}
				mu.Unlock()
				h.Free(a.p)
				mine[i] = mine[len(mine)-1]
				mine = mine[:len(mine)-1]
			}

			for i := 0; i < cfg.Ops; i++ {
				if len(mine) == cfg.MaxLive || (len(mine) > 0 && rng.IntN(3) == 0) {
					release(rng.IntN(len(mine)))
					continue
				}
				n := uintptr(rng.IntN(cfg.MaxSize) + 1)
				p := h.Malloc(n)

				mu.Lock()
				res.Mallocs++
				if p == nil {
					res.Failures++
					mu.Unlock()
					continue
				}
				_, dup := live[uintptr(p)]
				if dup {
					res.Duplicates++
				} else {
					live[uintptr(p)] = id
				}
				if s := h.Stats().RegionBytes; s > res.Peak {
					res.Peak = s
				}
				mu.Unlock()

				if dup {
					continue
				}
				b := heap.Bytes(p, n)
				for j := range b {
					b[j] = pattern
				}
				mine = append(mine, alloc{p, n})
			}
			for len(mine) > 0 {
				release(len(mine) - 1)
			}
		}(w)
	}
	wg.Wait()

	res.Elapsed = time.Since(start)
	res.Final = h.Stats()
	if !res.ok() {
		return res, fmt.Errorf("stress failed: %d failed allocations, %d duplicate pointers, %d corrupted blocks, %d bytes leaked",
			res.Failures, res.Duplicates, res.Corrupted, res.Final.InUseBytes)
	}
	return res, nil
}

func printStress(w io.Writer, res stressResult) error {
	if jsonOut {
		return printJSON(w, res)
	}
	fmt.Fprintf(w, "mallocs:      %d\n", res.Mallocs)
	fmt.Fprintf(w, "frees:        %d\n", res.Frees)
	fmt.Fprintf(w, "elapsed:      %s\n", res.Elapsed)
	fmt.Fprintf(w, "peak region:  %d bytes\n", res.Peak)
	fmt.Fprintf(w, "final blocks: %d (%d free, %d bytes reusable)\n", res.Final.Blocks, res.Final.FreeBlocks, res.Final.FreeBytes)
	fmt.Fprintf(w, "final region: %d bytes (%d committed)\n", res.Final.RegionBytes, res.Final.CommittedBytes)
	return nil
}
