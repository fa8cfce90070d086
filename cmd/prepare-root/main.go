//go:build linux

package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/google/uuid"

	"rootprep/internal/prepare"
	"rootprep/pkg/utils/contextkey"
	"rootprep/pkg/utils/logger"
)

const defaultConfigPath = "configs/prepare_root.yaml"

func main() {
	configPath := flag.String("config", defaultConfigPath, "Path to config file")
	flag.Parse()

	appCfg, err := loadAppConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: load config failed: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Init(appCfg.Logger); err != nil {
		fmt.Fprintf(os.Stderr, "Error: init logger failed: %v\n", err)
		os.Exit(1)
	}

	if flag.NArg() < 1 {
		fmt.Fprintf(os.Stderr, "Error: Usage: %s /path/to/root\n", os.Args[0])
		os.Exit(1)
	}
	root := flag.Arg(0)

	ctx := context.WithValue(context.Background(), contextkey.RunID, uuid.NewString())
	ctx = context.WithValue(ctx, contextkey.Root, root)

	preparer := prepare.New(appCfg.Prepare.toPrepareConfig(), nil)
	if err := preparer.Run(ctx, root); err != nil {
		_ = logger.Sync()
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(preparer.Checkpoint())
	}
	_ = logger.Sync()
}
