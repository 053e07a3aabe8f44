// Package main provides uioattn, a command-line driver for the attention core:
// it inspects rotary caches, initializes and checkpoints weights, runs
// self-attention on random inputs and samples task prompts.
package main

import (
	"flag"
	"fmt"
	"os"

	"k8s.io/klog/v2"
)

const version = "v0.1.0-dev"

type command struct {
	name    string
	summary string
	run     func(args []string) error
}

var commands = []command{
	{"version", "Show version", func([]string) error {
		fmt.Printf("uioattn %s\n", version)
		return nil
	}},
	{"rope", "Print statistics of a rotary cache", runRope},
	{"init", "Initialize attention and MLP weights and write a checkpoint", runInit},
	{"attend", "Run self-attention and the MLP block on random input", runAttend},
	{"prompt", "Sample a task prompt", runPrompt},
}

func usage() {
	out := flag.CommandLine.Output()
	_, _ = fmt.Fprintf(out, "uioattn %s\n\nUsage: uioattn [global flags] <command> [flags]\n\nCommands:\n", version)
	for _, c := range commands {
		_, _ = fmt.Fprintf(out, "  %-10s %s\n", c.name, c.summary)
	}
	_, _ = fmt.Fprintf(out, "\nGlobal flags:\n")
	flag.PrintDefaults()
}

func main() {
	klog.InitFlags(nil)
	flag.Usage = usage
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		usage()
		os.Exit(2)
	}
	for _, c := range commands {
		if c.name != args[0] {
			continue
		}
		if err := c.run(args[1:]); err != nil {
			klog.Errorf("%s: %+v", c.name, err)
			os.Exit(1)
		}
		return
	}
	klog.Errorf("Unknown command %q. See 'uioattn -help'.", args[0])
	os.Exit(2)
}
