package cache

import (
	"github.com/ValentinKolb/dCall/cmd/util"
	"github.com/ValentinKolb/dCall/lib/cache"
	"github.com/ValentinKolb/dCall/rpc/client"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	rpcStore *client.RPCStore
	vCache   *cache.VersionedCache[string]

	// CacheCommands represents the cache command group
	CacheCommands = &cobra.Command{
		Use:               "cache",
		Short:             "Use a version-checked cache backed by a cache node",
		PersistentPreRunE: setupCacheClient,
		PersistentPostRunE: func(*cobra.Command, []string) error {
			if rpcStore != nil {
				return rpcStore.Close()
			}
			return nil
		},
	}
)

func init() {
	cobra.OnInitialize(util.InitConfig)

	util.SetupRPCClientFlags(CacheCommands)

	key := "name"
	CacheCommands.PersistentFlags().String(key, "cli", util.WrapString("Name of the cache, used in log lines"))
	key = "ttl"
	CacheCommands.PersistentFlags().Duration(key, 0, util.WrapString("Expiry of the distributed entries (e.g. 10m), 0 keeps them forever"))
	key = "cas-attempts"
	CacheCommands.PersistentFlags().Int(key, cache.DefaultMaxCASAttempts, util.WrapString("How many compare-and-swap attempts a put makes before it gives up"))

	CacheCommands.AddCommand(getCmd)
	CacheCommands.AddCommand(putCmd)
	CacheCommands.AddCommand(versionCmd)
	CacheCommands.AddCommand(perfTestCmd)
}

// setupCacheClient connects to the cache node and creates the cache on top of it
func setupCacheClient(cmd *cobra.Command, _ []string) error {
	if err := util.BindCommandFlags(cmd); err != nil {
		return err
	}

	s, err := util.GetSerializer()
	if err != nil {
		return err
	}

	t, err := util.GetTransport()
	if err != nil {
		return err
	}

	rpcStore, err = client.NewRPCStore(
		util.GetShardID(),
		*util.GetClientConfig(),
		t,
		s,
	)
	if err != nil {
		return err
	}

	vCache = cache.NewVersioned(rpcStore, cache.String(),
		cache.WithName(viper.GetString("name")),
		cache.WithTTL(viper.GetDuration("ttl")),
		cache.WithMaxCASAttempts(viper.GetInt("cas-attempts")),
	)
	return nil
}
