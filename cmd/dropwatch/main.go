// dropwatch monitors TCP packet drops reported by the kernel on
// tracepoint/skb/kfree_skb and streams them to a configurable sink.
package main

import (
	"fmt"
	"os"
)

func main() {
	cli := NewCLI()
	if err := cli.RootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
