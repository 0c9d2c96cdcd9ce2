package main

import (
	"context"
	"log/slog"
	"os"
)

// App is the global app instance - individual command actions reference it
// directly rather than threading it through every call.
var App *DropApp

func main() {
	App = initApp()
	err := App.cliCmd.Run(context.Background(), os.Args)
	if err != nil {
		slog.Error("Error", "msg", err)
		os.Exit(1)
	}
}
