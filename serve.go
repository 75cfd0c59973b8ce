package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"airose/pkg/channels"
	"airose/pkg/config"
	"airose/pkg/gateway"
	"airose/pkg/handler"
	"airose/pkg/monitor"

	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the gateway with every configured channel",
	Long: `Starts the gateway and the channels listed in config.json (web, telegram).
system.json is watched and the conversation graph is rebuilt when it changes.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		appPath, _ := cmd.Flags().GetString("config")
		sysPath, _ := cmd.Flags().GetString("system")
		quiet, _ := cmd.Flags().GetBool("quiet")

		monitor.PrintBanner()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := bootstrap(ctx, appPath, sysPath)
		if err != nil {
			return err
		}
		defer a.close()

		g, sysCfg := a.current()
		chat := handler.NewChatHandler(g, a.locker, sysCfg, handler.WithAsync())

		// 每個 graph 共用同一個 store，history 讀第一個即可
		chs := channels.LoadFromConfig(a.cfg.Channels, sysCfg, channels.Deps{History: g})
		if len(chs) == 0 {
			return fmt.Errorf("no channel could be started, check the 'channels' section of %s", appPath)
		}

		var mon monitor.Monitor = monitor.NewCLIMonitor()
		if quiet {
			mon = monitor.Nop{}
		}

		gw, err := gateway.NewGatewayBuilder().
			WithMonitor(mon).
			WithChannel(chs...).
			WithHandler(chat).
			Build()
		if err != nil {
			return fmt.Errorf("failed to build gateway: %w", err)
		}

		// system.json 熱更新：重建 graph 並替換 handler 的 runner
		go func() {
			for next := range config.WatchSystemConfig(ctx, sysPath) {
				if err := a.reload(next); err != nil {
					slog.Error("System config rejected, keeping the previous graph", "error", err)
					continue
				}
				g, _ := a.current()
				chat.SetRunner(g)
				chat.SetSystemConfig(next)
			}
		}()

		slog.Info("AI Rose is up", "channels", gw.ChannelIDs())

		// 等待信號
		<-ctx.Done()
		slog.Info("Received shutdown signal. Stopping services...")

		gw.StopAll()
		chat.Wait()
		_ = mon.Stop()
		slog.Info("Bye!")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().BoolP("quiet", "q", false, "Do not print the conversation transcript")
}
