package dispatch

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/ValentinKolb/dCall/cmd/util"
	"github.com/ValentinKolb/dCall/lib/backend/httpcall"
	"github.com/ValentinKolb/dCall/lib/call"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var httpCmd = &cobra.Command{
	Use:   "http [system.method] [url]",
	Short: "Sends one HTTP request through the dispatcher",
	Long: `Sends one HTTP request through the dispatcher. The call is routed like any other
call of system.method, so its queue and timeout come from the routing document.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := util.BindCommandFlags(cmd); err != nil {
			return err
		}
		system, method, ok := cutName(args[0])
		if !ok {
			return fmt.Errorf("invalid call name %q (expected system.method)", args[0])
		}

		header := http.Header{}
		for _, h := range viper.GetStringSlice("header") {
			k, v, ok := strings.Cut(h, ":")
			if !ok {
				return fmt.Errorf("invalid header %q (expected name:value)", h)
			}
			header.Add(strings.TrimSpace(k), strings.TrimSpace(v))
		}

		d, err := newDispatcher()
		if err != nil {
			return err
		}
		defer closeDispatcher(d)

		env := httpcall.NewCall(system, method, http.DefaultClient, httpcall.Request{
			Method: strings.ToUpper(viper.GetString("method")),
			URL:    args[1],
			Header: header,
			Body:   []byte(viper.GetString("body")),
		})
		return printResult(d.Execute(cmd.Context(), env), env)
	},
}

func init() {
	key := "method"
	httpCmd.Flags().String(key, http.MethodGet, util.WrapString("HTTP method of the request"))
	key = "body"
	httpCmd.Flags().String(key, "", util.WrapString("Body of the request"))
	key = "header"
	httpCmd.Flags().StringSlice(key, nil, util.WrapString("Request header as name:value, can be repeated"))
}

// printResult prints the outcome of a finished call. A call that did not
// succeed is returned as error so the exit code reflects it.
func printResult(res *call.Result, env *call.Envelope) error {
	fmt.Printf("%-10s: %s\n", "Call", env.Name())
	fmt.Printf("%-10s: %s\n", "ID", env.ID())
	fmt.Printf("%-10s: %s\n", "Status", res.Status())
	fmt.Printf("%-10s: %s\n", "Timing", env.Stats())

	if p := res.Payload(); p != nil {
		if p.StatusCode != 0 {
			fmt.Printf("%-10s: %d\n", "Code", p.StatusCode)
		}
		for k, v := range p.Meta {
			fmt.Printf("%-10s: %s=%s\n", "Meta", k, v)
		}
		if len(p.Body) > 0 {
			fmt.Printf("\n%s\n", p.Body)
		}
	}

	if !res.IsSuccess() {
		return fmt.Errorf("call %s: %w", res.Status(), res.Err())
	}
	return nil
}
