package dispatch

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ValentinKolb/dCall/cmd/util"
	"github.com/ValentinKolb/dCall/lib/config"
	"github.com/ValentinKolb/dCall/lib/dispatch"
	"github.com/ValentinKolb/dCall/rpc/common"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// closeTimeout bounds the draining of the pools when a command ends
const closeTimeout = 10 * time.Second

var (
	document *config.Document

	// DispatchCommands represents the dispatch command group
	DispatchCommands = &cobra.Command{
		Use:               "dispatch",
		Short:             "Work with routing documents and run calls through the dispatcher",
		PersistentPreRunE: loadDocument,
	}
)

func init() {
	cobra.OnInitialize(util.InitConfig)

	key := "config"
	DispatchCommands.PersistentFlags().String(key, "", util.WrapString("Path of the routing document (json or yaml). Without it a single default queue is used"))
	key = "log-level"
	DispatchCommands.PersistentFlags().String(key, "warn", util.WrapString("LogLevel is the level at which logs will be output (debug, info, warn, error)"))

	DispatchCommands.AddCommand(checkCmd)
	DispatchCommands.AddCommand(perfCmd)
	DispatchCommands.AddCommand(httpCmd)
	DispatchCommands.AddCommand(sqlCmd)
}

// loadDocument reads the routing document named by the config flag
func loadDocument(cmd *cobra.Command, _ []string) error {
	if err := util.BindCommandFlags(cmd); err != nil {
		return err
	}
	if err := common.InitLoggers(viper.GetString("log-level")); err != nil {
		return err
	}

	path := viper.GetString("config")
	if path == "" {
		document = &config.Document{}
		return nil
	}

	var err error
	if document, err = config.Load(path); err != nil {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

// newDispatcher creates a dispatcher for the loaded document
func newDispatcher(opts ...dispatch.Option) (*dispatch.Dispatcher, error) {
	opts = append([]dispatch.Option{dispatch.WithSink(dispatch.NewLogSink())}, opts...)
	return dispatch.FromDocument(document, opts...)
}

// closeDispatcher drains the pools of d
func closeDispatcher(d *dispatch.Dispatcher) {
	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	if err := d.Close(ctx); err != nil {
		fmt.Printf("failed to close dispatcher: %v\n", err)
	}
}

// cutName splits a system.method argument
func cutName(arg string) (system, method string, ok bool) {
	system, method, ok = strings.Cut(arg, ".")
	return system, method, ok && system != "" && method != ""
}
