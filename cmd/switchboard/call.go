package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/shhac/switchboard/internal/client"
	apperrors "github.com/shhac/switchboard/internal/errors"
	"github.com/shhac/switchboard/internal/logging"
)

// CallCmd invokes one method and prints each reply as JSON.
// Usage: switchboard call /switchboard.Service/echo '{"s":"hey"}'
type CallCmd struct {
	remote
	Header []string `short:"H" long:"header" description:"request metadata as key:value"`
	Args   struct {
		Method  string `positional-arg-name:"method" required:"yes"`
		Request string `positional-arg-name:"json"`
	} `positional-args:"yes"`
}

func (c *CallCmd) Execute(_ []string) error {
	md, err := parseHeaders(c.Header)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(c.Timeout)*time.Second)
	defer cancel()

	cl, err := client.New(ctx, c.Addr, logging.New(os.Stderr, c.Debug))
	if err != nil {
		return err
	}
	defer cl.Close()

	replies, err := cl.Call(ctx, c.Args.Method, c.Args.Request, md)
	for _, r := range replies {
		fmt.Println(r)
	}
	if err != nil {
		st, ok := status.FromError(err)
		if !ok {
			return err
		}
		if details := apperrors.FormatStatusDetails(st); details != "" {
			return fmt.Errorf("%s: %s\n%s", st.Code(), st.Message(), details)
		}
		return fmt.Errorf("%s: %s", st.Code(), st.Message())
	}
	return nil
}

func parseHeaders(headers []string) (metadata.MD, error) {
	md := metadata.MD{}
	for _, h := range headers {
		k, v, ok := strings.Cut(h, ":")
		if !ok || strings.TrimSpace(k) == "" {
			return nil, fmt.Errorf("invalid header %q, want key:value", h)
		}
		md.Append(strings.ToLower(strings.TrimSpace(k)), strings.TrimSpace(v))
	}
	return md, nil
}
