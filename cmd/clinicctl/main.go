package main

import (
	"os"

	"github.com/odyssey-erp/clinic-ledger/cmd/clinicctl/cli"
	"github.com/odyssey-erp/clinic-ledger/internal/app"
)

func main() {
	if err := cli.NewRootCommand(app.LoadConfig).Execute(); err != nil {
		os.Exit(1)
	}
}
