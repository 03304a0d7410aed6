package cache

import (
	"fmt"

	"github.com/ValentinKolb/dCall/lib/cache"
	"github.com/spf13/cobra"
)

var (
	getCmd = &cobra.Command{
		Use:   "get [key]",
		Short: "Gets the value for a key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			value, found, err := vCache.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if !found {
				fmt.Println("key not found")
				return nil
			}
			version, _ := vCache.Version(args[0])
			fmt.Printf("%s (version %d)\n", value, version)
			return nil
		},
	}
	putCmd = &cobra.Command{
		Use:   "put [key] [value]",
		Short: "Stores the value for a key as a new version",
		Long: `Stores the value for a key as a new version. The current entry is read first,
so the write is only rejected if another writer changes the key in between.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			key := args[0]
			// a fresh process has no local copy, pull it so the put starts from the latest version
			if _, _, err := vCache.Get(cmd.Context(), key); err != nil {
				return err
			}
			if err := vCache.Put(cmd.Context(), key, args[1]); err != nil {
				return err
			}
			version, _ := vCache.Version(key)
			fmt.Printf("stored version %d\n", version)
			return nil
		},
	}
	versionCmd = &cobra.Command{
		Use:   "version [key]",
		Short: "Prints the distributed version marker of a key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			marker, found, err := rpcStore.Get(cmd.Context(), cache.MarkerKey(args[0]))
			if err != nil {
				return err
			}
			if !found {
				fmt.Println("no version")
				return nil
			}
			fmt.Printf("version %s\n", marker)
			return nil
		},
	}
)
