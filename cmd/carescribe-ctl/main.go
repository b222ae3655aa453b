package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	cli "github.com/spf13/pflag"

	"carescribe/internal/ipc"
)

func main() {
	socket := cli.StringP("socket", "s", ipc.DefaultSocketPath, "Control socket path")
	session := cli.String("session", "", "Session handle")
	text := cli.StringP("text", "t", "", "Turn text for begin/submit")
	segment := cli.String("segment", "", "Segment id for retry/delete")
	path := cli.StringP("path", "p", "", "Audio file for import")
	timeout := cli.Duration("timeout", 5*time.Minute, "Request timeout")
	cli.Usage = func() {
		fmt.Fprintln(os.Stderr, "usage: carescribe-ctl [flags] open|begin|submit|record|pause|resume|stop|retry|delete|import|voice|segments|report|close")
		cli.PrintDefaults()
	}
	cli.Parse()

	if cli.NArg() != 1 {
		cli.Usage()
		os.Exit(2)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	resp, err := ipc.Send(ctx, *socket, ipc.Request{
		Cmd:     cli.Arg(0),
		Session: *session,
		Text:    *text,
		Segment: *segment,
		Path:    *path,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "carescribe-daemon not running:", err)
		os.Exit(1)
	}

	out, _ := json.MarshalIndent(resp, "", "  ")
	fmt.Println(string(out))
	if !resp.OK {
		os.Exit(1)
	}
}
