package main

import (
	"context"
	"fmt"
	"runtime"

	"github.com/urfave/cli/v3"

	"github.com/jiangyanpeng/simple-nn/internal/backend"
	"github.com/jiangyanpeng/simple-nn/internal/quant"
	"github.com/jiangyanpeng/simple-nn/internal/version"
)

func versionCmd() *cli.Command {
	return &cli.Command{
		Name:  "version",
		Usage: "Print version information",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			info := version.Resolve()
			fmt.Printf("version:    %s\n", info.Version)
			if info.Commit != "" {
				fmt.Printf("commit:     %s\n", info.Commit)
			}
			if info.BuildTime != "" {
				fmt.Printf("build time: %s\n", info.BuildTime)
			}
			fmt.Printf("platform:   %s/%s\n", runtime.GOOS, runtime.GOARCH)
			fmt.Printf("engines:    %s\n", backend.Available())
			fmt.Printf("kernel:     %s\n", quant.DetectKernel())
			return nil
		},
	}
}
