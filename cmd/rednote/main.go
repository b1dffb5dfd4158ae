// Command rednote automates search, note extraction, publishing and login
// for stored user sessions.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

const version = "0.1.0"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a := &app{}
	err := newRootCmd(a).ExecuteContext(ctx)
	if cerr := a.close(); cerr != nil {
		fmt.Fprintf(os.Stderr, "shutdown: %v\n", cerr)
	}
	cancel()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		var exit *exitError
		if errors.As(err, &exit) {
			os.Exit(exit.code)
		}
		os.Exit(1)
	}
}
