package main

import (
	"context"
	"fmt"
	"os"

	"dvbrx/internal/daemonrun"
	"dvbrx/internal/logging"
)

func main() {
	cfg, path, err := loadConfig(os.Args[1:], os.Getenv)
	if err != nil {
		fmt.Fprintf(os.Stderr, "dvbrxd: load config: %v\n", err)
		os.Exit(1)
	}

	if err := daemonrun.Run(context.Background(), cfg, daemonrun.Options{}); err != nil {
		logger, logErr := logging.NewFromConfig(cfg)
		if logErr != nil {
			fmt.Fprintf(os.Stderr, "dvbrxd: %v\n", err)
			os.Exit(1)
		}
		logging.ErrorWithContext(logger, "dvbrxd exited", "daemon_failed",
			logging.Error(err),
			logging.String("config", path),
			logging.String(logging.FieldErrorHint, "run dvbrx config validate and dvbrx status"),
			logging.String(logging.FieldImpact, "the receiver is not running"),
		)
		os.Exit(1)
	}
}
