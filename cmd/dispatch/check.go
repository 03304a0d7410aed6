package dispatch

import (
	"context"
	"fmt"

	"github.com/ValentinKolb/dCall/lib/call"
	"github.com/ValentinKolb/dCall/lib/registry"
	"github.com/spf13/cobra"
)

var checkCmd = &cobra.Command{
	Use:   "check [system.method...]",
	Short: "Validates a routing document and prints it",
	Long: `Validates a routing document, creates its pools and prints the document as yaml.
For every system.method argument the resolved queue and timeout are printed.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		reg, err := registry.FromDocument(document)
		if err != nil {
			return err
		}
		defer func() { _ = reg.Shutdown(context.Background()) }()

		if err := reg.Validate(); err != nil {
			return err
		}

		out, err := document.YAML()
		if err != nil {
			return err
		}
		fmt.Print(string(out))

		fmt.Println("\nPOOLS")
		for _, snap := range reg.Snapshots() {
			fmt.Printf("  %-22s: core=%d max=%d queue=%d\n", snap.Name, snap.CoreSize, snap.MaxSize, snap.QueueCapacity)
		}

		if len(args) > 0 {
			fmt.Println("\nROUTES")
		}
		for _, arg := range args {
			system, method, ok := cutName(arg)
			if !ok {
				return fmt.Errorf("invalid call name %q (expected system.method)", arg)
			}
			route := reg.Resolve(call.Name{System: system, Method: method})
			fmt.Printf("  %-22s: queue=%s timeout=%s\n", arg, route.Queue, route.Timeout)
		}
		return nil
	},
}
