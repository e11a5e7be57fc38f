package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/Ryfis/geo-mini/internal/config"
	"github.com/Ryfis/geo-mini/internal/session"
)

func main() {
	addrFlag := flag.String("addr", "", "daemon address (overrides config server.listen)")
	jsonFlag := flag.Bool("json", false, "output raw JSON")
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	addr := *addrFlag
	if addr == "" {
		addr = config.DefaultListen
		if cfg, err := config.Load(session.ConfigPath()); err == nil {
			addr = cfg.Server.Listen
		}
	}
	c := &ctl{base: "http://" + addr, raw: *jsonFlag, http: &http.Client{Timeout: 10 * time.Second}}

	var err error
	switch args[0] {
	case "status":
		err = c.get("/v1/status")
	case "chats":
		err = c.get("/v1/chats")
	case "counters":
		err = c.get("/v1/counters")
	case "markers":
		err = c.get("/v1/markers")
	case "locations":
		err = c.get("/v1/saved-locations")
	case "transcript":
		if len(args) < 3 {
			fmt.Fprintln(os.Stderr, "usage: geominictl transcript <message|group> <id>")
			os.Exit(1)
		}
		err = c.get("/v1/transcripts/" + args[1] + "/" + args[2])
	case "send":
		if len(args) < 4 {
			fmt.Fprintln(os.Stderr, "usage: geominictl send <message|group> <id> <text>")
			os.Exit(1)
		}
		err = c.post("/v1/messages", map[string]string{
			"parent_type": args[1],
			"parent_id":   args[2],
			"content":     args[3],
		})
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", args[0])
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

type ctl struct {
	base string
	raw  bool
	http *http.Client
}

func (c *ctl) get(path string) error {
	resp, err := c.http.Get(c.base + path)
	if err != nil {
		return fmt.Errorf("cannot reach daemon at %s: %w", c.base, err)
	}
	defer func() { _ = resp.Body.Close() }()
	return c.print(resp)
}

func (c *ctl) post(path string, body any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	resp, err := c.http.Post(c.base+path, "application/json", bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("cannot reach daemon at %s: %w", c.base, err)
	}
	defer func() { _ = resp.Body.Close() }()
	return c.print(resp)
}

func (c *ctl) print(resp *http.Response) error {
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("daemon returned %d: %s", resp.StatusCode, bytes.TrimSpace(data))
	}
	if c.raw {
		fmt.Println(string(data))
		return nil
	}
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, data, "", "  "); err != nil {
		fmt.Println(string(data))
		return nil
	}
	fmt.Println(pretty.String())
	return nil
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "usage: geominictl [--addr <host:port>] [--json] <command>")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "commands:")
	fmt.Fprintln(os.Stderr, "  status                          Show daemon and feed channel status")
	fmt.Fprintln(os.Stderr, "  chats                           List conversation previews")
	fmt.Fprintln(os.Stderr, "  counters                        Show derived counters")
	fmt.Fprintln(os.Stderr, "  markers                         List map markers")
	fmt.Fprintln(os.Stderr, "  locations                       List saved locations")
	fmt.Fprintln(os.Stderr, "  transcript <type> <id>          Show a chat transcript")
	fmt.Fprintln(os.Stderr, "  send <type> <id> <text>         Send a chat message")
}
