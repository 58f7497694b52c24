package commands

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/satindergrewal/aaes/internal/stubservice"
)

func stubServiceCmd() *cobra.Command {
	var port int
	cmd := &cobra.Command{
		Use:   "stub-service",
		Short: "Run a stand-in enhancement service that echoes uploads back",
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("port") {
				cfg.StubPort = port
			}
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			addr := fmt.Sprintf(":%d", cfg.StubPort)
			server := &http.Server{Addr: addr, Handler: stubservice.New()}
			go func() {
				<-ctx.Done()
				server.Close()
			}()

			logrus.WithFields(logrus.Fields{
				"function": "stubServiceCmd",
				"addr":     addr,
			}).Info("Stub enhancement service listening")
			if err := server.ListenAndServe(); err != http.ErrServerClosed {
				return err
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&port, "port", 0, "listen port (default $AAES_STUB_PORT)")
	return cmd
}
