package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	configPath string
	instanceID int
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "electvote",
		Short:         "选举管理后端",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "config/config.yaml", "配置文件路径")
	root.PersistentFlags().IntVar(&instanceID, "instance", 1, "实例ID，用于区分多个实例")

	root.AddCommand(newServeCmd(), newMigrateCmd())
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
