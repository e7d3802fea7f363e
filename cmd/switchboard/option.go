package main

// Options is the root command that groups sub-commands. The struct tags are
// interpreted by github.com/jessevdk/go-flags.
type Options struct {
	Serve ServeCmd `command:"serve" description:"Serve the registered services over gRPC"`
	List  ListCmd  `command:"list" description:"List the methods a running server exposes"`
	Call  CallCmd  `command:"call" description:"Call a method on a running server"`
}

// remote holds the flags shared by commands that talk to a running server.
type remote struct {
	Addr    string `short:"a" long:"addr" description:"server address" default:"127.0.0.1:7410"`
	Debug   bool   `short:"d" long:"debug" description:"enable debug logging"`
	Timeout int    `short:"t" long:"timeout" description:"call timeout in seconds" default:"10"`
}
