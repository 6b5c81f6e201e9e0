package commands

import (
	"log/slog"
	"net"
	"os"

	"github.com/kralicky/polyls/pkg/bridge"
	"github.com/kralicky/polyls/pkg/lsprpc"
	"github.com/kralicky/tools-lite/gopls/pkg/protocol"
	"github.com/kralicky/tools-lite/pkg/jsonrpc2"
	"github.com/spf13/cobra"
)

// ServeCmd represents the serve command
func BuildServeCmd() *cobra.Command {
	var pipe string
	var logTraffic bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the polyglot bridge language server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cc, err := net.Dial("unix", pipe)
			if err != nil {
				return err
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{
				Level: bridge.GlobalAtomicLeveler,
			})))

			stream := jsonrpc2.NewHeaderStream(cc)
			if logTraffic {
				stream = protocol.LoggingStream(stream, os.Stderr)
			}
			conn := jsonrpc2.NewConn(stream)
			return lsprpc.NewStreamServer().ServeStream(cmd.Context(), conn)
		},
	}

	cmd.Flags().StringVar(&pipe, "pipe", "", "socket name to listen on")
	cmd.Flags().BoolVar(&logTraffic, "log-traffic", false, "log all protocol traffic to stderr")
	cmd.MarkFlagRequired("pipe")

	return cmd
}
