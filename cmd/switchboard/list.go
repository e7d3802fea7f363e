package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/shhac/switchboard/internal/client"
	"github.com/shhac/switchboard/internal/logging"
)

// ListCmd prints every bridged method of a running server.
// Usage: switchboard list --addr 127.0.0.1:7410
type ListCmd struct {
	remote
}

func (c *ListCmd) Execute(_ []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(c.Timeout)*time.Second)
	defer cancel()

	cl, err := client.New(ctx, c.Addr, logging.New(os.Stderr, c.Debug))
	if err != nil {
		return err
	}
	defer cl.Close()

	services, err := cl.Services(ctx)
	if err != nil {
		return err
	}
	for _, svc := range services {
		for _, m := range svc.Methods {
			kind := "unary"
			if m.Streaming {
				kind = "stream"
			}
			fmt.Printf("%s\t%s\t(%s) -> (%s)\n",
				m.Path, kind, strings.Join(m.Input, ", "), strings.Join(m.Output, ", "))
		}
	}
	return nil
}
