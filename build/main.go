package main

import (
	"flag"

	"github.com/curioswitch/go-build"
	"github.com/goyek/goyek/v2"
	"github.com/goyek/x/boot"
	"github.com/goyek/x/cmd"
)

func main() {
	_ = flag.Lookup("v").Value.Set("true") // Force verbose output
	build.DefineTasks()

	goyek.Define(goyek.Task{
		Name:  "bench",
		Usage: "Runs the heap benchmarks.",
		Action: func(a *goyek.A) {
			cmd.Exec(a, "go test -run=^$ -bench=. -benchmem ./heap/...")
		},
	})

	goyek.Define(goyek.Task{
		Name:  "stress",
		Usage: "Runs the concurrent allocation stress test against both backings.",
		Action: func(a *goyek.A) {
			for _, backing := range []string{"os", "slice"} {
				if !cmd.Exec(a, "go run ./cmd/memalloc stress --workers 16 --ops 200000 --backing "+backing) {
					return
				}
			}
		},
	})

	boot.Main()
}
