package main

import (
	"github.com/spf13/cobra"
)

var configFile string

var rootCmd = &cobra.Command{
	Use:   "rcsd",
	Short: "rcsd - RCS signaling core",
	Long: `rcsd accepts and initiates RCS sessions over SIP: one-to-one and group
chats, file transfer invitations, IP calls and RTP streams. Pager-mode
MESSAGE requests carry chat messages and IMDN delivery reports; files are
uploaded to an FT-HTTP content server and handed off to a chat.

Configuration is read from a YAML file and RCS_* environment variables
(for example RCS_SIP_LISTEN=0.0.0.0:5070).`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "",
		"config file path (defaults and environment only when empty)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(uploadCmd)
	rootCmd.AddCommand(versionCmd)
}
