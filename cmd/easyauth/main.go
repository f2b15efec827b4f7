// Package main is the entry point for the easyauth gateway.
package main

import (
	"os"

	"github.com/easyauth-k8s/easyauth/cmd/easyauth/app"
	"github.com/easyauth-k8s/easyauth/pkg/logger"
)

func main() {
	logger.Initialize()

	if err := app.NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
