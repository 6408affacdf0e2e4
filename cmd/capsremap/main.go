package main

import (
	"fmt"
	"os"
	"runtime"

	child_process_manager "github.com/AgustinSRG/go-child-process-manager"

	"github.com/offlinefirst/capsremap/internal/cmd"
)

func init() {
	// The session run loop has to own the main thread.
	runtime.LockOSThread()
}

func main() {
	if err := child_process_manager.InitializeChildProcessManager(); err != nil {
		fmt.Fprintf(os.Stderr, "capsremap: child process manager: %v\n", err)
		os.Exit(1)
	}

	root := cmd.NewRootCommand()
	err := root.Execute(os.Args[1:])
	child_process_manager.DisposeChildProcessManager()
	if err != nil {
		os.Exit(1)
	}
}
