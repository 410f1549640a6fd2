// Command nelctl is the admin CLI for the Nelson daemon: it operates
// directly on the badger peer store and the viper config file, out of
// process from the node binary it accompanies.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/lra/nelson.cli/config"
	"github.com/lra/nelson.cli/global"
	"github.com/lra/nelson.cli/peerlist"
)

var configFile string

func main() {
	cobra.OnInitialize(initConfig)

	root := &cobra.Command{
		Use:   "nelctl",
		Short: "admin CLI for the Nelson peer-discovery daemon",
	}
	root.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file (default .nelson.yaml)")

	root.AddCommand(newConfigCmd(), newPeersCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func initConfig() {
	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else {
		viper.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			viper.AddConfigPath(home)
		}
		viper.SetConfigName(".nelson")
		viper.SetConfigType("yaml")
	}
	viper.AutomaticEnv()
	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintf(os.Stderr, "using config: %s\n", viper.ConfigFileUsed())
	}
}

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "read or write nelson config values",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "set <key> <value>",
		Short: "set a configuration value and write it back to the config file",
		Args:  cobra.ExactArgs(2),
		Run: func(cmd *cobra.Command, args []string) {
			switch args[1] {
			case "true":
				viper.Set(args[0], true)
			case "false":
				viper.Set(args[0], false)
			default:
				viper.Set(args[0], args[1])
			}
			if err := viper.WriteConfig(); err != nil {
				fmt.Fprintf(os.Stderr, "nelctl: %v\n", err)
				os.Exit(1)
			}
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "get <key>",
		Short: "print a configuration value",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(viper.Get(args[0]))
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "init <path>",
		Short: "write a default .nelson.yaml template to path",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			if err := config.WriteTemplate(args[0]); err != nil {
				fmt.Fprintf(os.Stderr, "nelctl: %v\n", err)
				os.Exit(1)
			}
			fmt.Printf("wrote %s\n", args[0])
		},
	})
	return cmd
}

func newPeersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "peers",
		Short: "inspect or clear the peer store",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "list every peer known to the store",
		Run: func(cmd *cobra.Command, args []string) {
			list := openStore()
			defer list.Close()
			for _, p := range list.All() {
				d := p.Data()
				fmt.Printf("%-32s port=%-6d tcp=%-6d udp=%-6d trusted=%-5v weight=%.2f connected=%d tried=%d\n",
					d.Hostname, d.Port, d.TCPPort, d.UDPPort, d.IsTrusted, d.Weight, d.Connected, d.Tried)
			}
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "remove <address>",
		Short: "remove every peer matching address from the store",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			list := openStore()
			defer list.Close()
			matches := list.FindByAddress(args[0], 0)
			if len(matches) == 0 {
				fmt.Fprintf(os.Stderr, "nelctl: no peer matches %s\n", args[0])
				os.Exit(1)
			}
			for _, p := range matches {
				if err := list.Remove(p); err != nil {
					fmt.Fprintf(os.Stderr, "nelctl: %v\n", err)
					os.Exit(1)
				}
			}
			fmt.Printf("removed %d peer(s)\n", len(matches))
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "wipe the peer store",
		Run: func(cmd *cobra.Command, args []string) {
			list := openStore()
			defer list.Close()
			if err := list.Clear(); err != nil {
				fmt.Fprintf(os.Stderr, "nelctl: %v\n", err)
				os.Exit(1)
			}
		},
	})
	return cmd
}

func openStore() *peerlist.PeerList {
	env := global.NewDefault()
	list, err := peerlist.New(env, peerlist.Config{
		DataPath:  viper.GetString("nelson.dataPath"),
		Temporary: false,
		IsMaster:  viper.GetBool("nelson.isMaster"),
		MultiPort: viper.GetBool("nelson.multiPort"),
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "nelctl: cannot open peer store: %v\n", err)
		os.Exit(1)
	}
	if err := list.Load(nil); err != nil {
		fmt.Fprintf(os.Stderr, "nelctl: cannot load peer store: %v\n", err)
		os.Exit(1)
	}
	return list
}
