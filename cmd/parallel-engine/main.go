// Command parallel-engine orchestrates autonomous coding agents against
// a task backlog: it analyzes the dependency graph, runs ready tasks in
// parallel inside isolated git worktrees, and merges completed work back
// in topological order.
package main

import "os"

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
