// Command agentbank runs the agent banking platform.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/R3E-Network/agentbank/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "agentbank:", err)
		os.Exit(1)
	}
}
