// currentop runs a simulated worker pool that publishes per-operation
// metadata into lock-free slots and serves an in-progress report of it.
package main

// Version information injected at build time.
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	Execute()
}
