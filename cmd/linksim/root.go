package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "linksim",
	Short: "linksim drives two dialup nodes over a simulated lossy link",
	Long: `linksim 在进程内搭起两个节点和一条可注入噪声的虚拟链路，
把消息从 A 发到 B 并打印各层的收发统计。
用它验证纠错参数、观察信道自动降级，不需要真实的屏幕或麦克风。`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
