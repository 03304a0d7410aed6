package cmd

import (
	"fmt"
	"os"

	"github.com/ValentinKolb/dCall/cmd/cache"
	"github.com/ValentinKolb/dCall/cmd/dispatch"
	"github.com/ValentinKolb/dCall/cmd/serve"
	"github.com/ValentinKolb/dCall/cmd/util"
	"github.com/spf13/cobra"
)

const (
	Version = "0.3.0"
)

var (

	// RootCmd represents the base command when called without any subcommands
	RootCmd = &cobra.Command{
		Use:          "dcall",
		Short:        "backend call dispatcher with a version-checked cache",
		SilenceUsage: true,
		Long: fmt.Sprintf(`dCall (v%s)

Dispatches backend calls (HTTP, SOAP, SQL) through bounded worker pools with
per-call timeouts, and keeps local caches coherent through a shared store
that can be replicated with RAFT.`, Version),
	}
	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of dCall",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("dCall v%s\n", Version)
		},
	}
)

func init() {
	RootCmd.AddCommand(serve.ServeCmd)
	RootCmd.AddCommand(cache.CacheCommands)
	RootCmd.AddCommand(dispatch.DispatchCommands)
	RootCmd.AddCommand(versionCmd)

	key := "serializer"
	RootCmd.PersistentFlags().String(key, "binary", util.WrapString("serializer of the cache rpc (binary, json, gob)"))
	key = "transport"
	RootCmd.PersistentFlags().String(key, "http", util.WrapString("transport of the cache rpc (http, tcp, unix)"))
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the RootCmd.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
