// Command main is a small onion client: it wraps a request for a path of service nodes, posts it to the
// first hop and prints the decrypted reply.
package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/KelvinWu602/forus-snode/onion"
	"github.com/go-resty/resty/v2"
	"github.com/urfave/cli/v2"
)

var (
	entryFlag = &cli.StringFlag{
		Name:     "entry",
		Usage:    "HTTP address of the first hop, e.g. 127.0.0.1:22021",
		Required: true,
	}
	hopFlag = &cli.StringSliceFlag{
		Name:     "hop",
		Usage:    "hop as <ed25519 hex>:<x25519 hex>, first hop first",
		Required: true,
	}
	encTypeFlag = &cli.StringFlag{
		Name:  "enc-type",
		Usage: "aes-gcm, aes-cbc or xchacha20",
		Value: "xchacha20",
	}
	bodyFlag = &cli.StringFlag{
		Name:  "body",
		Usage: `client request executed by the last hop, e.g. {"method":"retrieve","params":{...}}`,
	}
	hostFlag = &cli.StringFlag{
		Name:  "server-host",
		Usage: "let the last hop post --body to this server instead",
	}
	targetFlag = &cli.StringFlag{
		Name:  "server-target",
		Usage: "path on --server-host",
		Value: "/oxen/v4/lsrpc",
	}
)

func main() {
	app := &cli.App{
		Name:   "onion-client",
		Usage:  "send an onion request through a path of service nodes",
		Flags:  []cli.Flag{entryFlag, hopFlag, encTypeFlag, bodyFlag, hostFlag, targetFlag},
		Action: send,
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func parseHop(s string) (onion.Hop, error) {
	ed, x, ok := strings.Cut(s, ":")
	if !ok {
		return onion.Hop{}, fmt.Errorf("hop %q is not <ed25519>:<x25519>", s)
	}
	key, err := onion.ParseX25519Pubkey(x)
	if err != nil {
		return onion.Hop{}, fmt.Errorf("hop %q: %w", s, err)
	}
	return onion.Hop{Ed25519: ed, X25519: key}, nil
}

func send(ctx *cli.Context) error {
	encType, err := onion.ParseEncryptType(ctx.String(encTypeFlag.Name))
	if err != nil {
		return err
	}
	builder := onion.NewBuilder(encType)
	for _, s := range ctx.StringSlice(hopFlag.Name) {
		hop, err := parseHop(s)
		if err != nil {
			return err
		}
		builder.AddHop(hop)
	}

	body := []byte(ctx.String(bodyFlag.Name))
	var req *onion.Request
	if host := ctx.String(hostFlag.Name); host != "" {
		req, err = builder.BuildForServer(body, onion.ServerDestination{Host: host, Target: ctx.String(targetFlag.Name)})
	} else {
		req, err = builder.BuildForSnode(body, true, true)
	}
	if err != nil {
		return err
	}

	resp, err := resty.New().R().
		SetContext(ctx.Context).
		SetBody(req.Body).
		Post("http://" + ctx.String(entryFlag.Name) + "/onion_req/v2")
	if err != nil {
		return err
	}
	if resp.StatusCode() != 200 {
		return fmt.Errorf("entry node answered %s: %s", resp.Status(), resp.String())
	}
	plain, err := req.DecryptReply(resp.Body(), true)
	if err != nil {
		return fmt.Errorf("could not decrypt reply: %w", err)
	}
	fmt.Println(string(plain))
	return nil
}
