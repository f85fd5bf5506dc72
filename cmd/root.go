package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/ircrelay/pkg/protocol"
)

// Version is set at build time via -ldflags "-X github.com/nextlevelbuilder/ircrelay/cmd.Version=v1.0.0"
var Version = "dev"

var (
	cfgFile string
	verbose bool
	flags   relayFlags
)

// relayFlags override config values when set on the command line.
type relayFlags struct {
	model    string
	server   string
	port     int
	channel  string
	nickname string
	tls      bool
	leader   bool
}

var rootCmd = &cobra.Command{
	Use:   "ircrelay",
	Short: "ircrelay: IRC channel to LLM relay",
	Long:  "ircrelay joins one IRC channel, coalesces each participant's bursts of lines, and answers through an OpenAI-compatible chat completion backend.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runRelay(cmd)
	},
	SilenceUsage: true,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "config file (default: config.json or $IRCRELAY_CONFIG)")
	pf.BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	bindRelayFlags(rootCmd)

	rootCmd.AddCommand(versionCmd())
}

func bindRelayFlags(c *cobra.Command) {
	f := c.Flags()
	f.StringVarP(&flags.model, "model", "m", "", "completion model name (required unless set in config)")
	f.StringVarP(&flags.server, "server", "s", "", "IRC server host (default irc.libera.chat)")
	f.IntVarP(&flags.port, "port", "p", 0, "IRC server port (default 6667)")
	f.StringVarP(&flags.channel, "channel", "c", "", "IRC channel to join (default #chat_0098)")
	f.StringVarP(&flags.nickname, "nickname", "n", "", "IRC nickname (default bot)")
	f.BoolVar(&flags.tls, "tls", false, "connect to the IRC server over TLS")
	f.BoolVarP(&flags.leader, "leader", "l", false, "reply to the first buffered message too")
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("ircrelay %s (protocol %d)\n", Version, protocol.ProtocolVersion)
		},
	}
}

func resolveConfigPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	if v := os.Getenv("IRCRELAY_CONFIG"); v != "" {
		return v
	}
	return "config.json"
}

// Execute runs the root cobra command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
