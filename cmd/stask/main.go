package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/avlonitis/synapse/internal/natsbridge"
)

type ipcRequest struct {
	ID       string `json:"id,omitempty"`
	Name     string `json:"name,omitempty"`
	Node     string `json:"node,omitempty"`
	Schedule string `json:"schedule,omitempty"`
	Prompt   string `json:"prompt,omitempty"`
}

type ipcResponse struct {
	OK         bool        `json:"ok,omitempty"`
	Error      string      `json:"error,omitempty"`
	ID         string      `json:"id,omitempty"`
	Injections []injection `json:"injections,omitempty"`
}

type injection struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Node     string `json:"node"`
	Schedule string `json:"schedule"`
	Prompt   string `json:"prompt"`
	Status   string `json:"status"`
}

func sendIPC(natsURL, subject string, req ipcRequest) (*ipcResponse, error) {
	client, err := natsbridge.NewClientFromURL(natsURL)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	defer client.Close()

	data, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	msg, err := client.Request(subject, data, 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("ipc request: %w", err)
	}

	var resp ipcResponse
	if err := json.Unmarshal(msg.Data, &resp); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	return &resp, nil
}

func parseArgs(args []string) map[string]string {
	result := make(map[string]string)
	for i := 0; i < len(args); i++ {
		if len(args[i]) > 2 && args[i][:2] == "--" && i+1 < len(args) {
			result[args[i][2:]] = args[i+1]
			i++
		}
	}
	return result
}

func usage() {
	fmt.Fprintln(os.Stderr, "Usage:")
	fmt.Fprintln(os.Stderr, `  stask add --name "..." --node "..." --schedule "..." --prompt "..."`)
	fmt.Fprintln(os.Stderr, "  stask list")
	fmt.Fprintln(os.Stderr, `  stask remove --id "..."`)
	fmt.Fprintln(os.Stderr, `  stask pause --id "..."`)
	fmt.Fprintln(os.Stderr, `  stask resume --id "..."`)
	os.Exit(1)
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}

func main() {
	natsURL := os.Getenv("NATS_URL")
	if natsURL == "" {
		natsURL = "nats://localhost:4222"
	}

	if len(os.Args) < 2 {
		usage()
	}

	command := os.Args[1]
	rest := os.Args[2:]

	switch command {
	case "add":
		args := parseArgs(rest)
		if args["name"] == "" || args["node"] == "" || args["schedule"] == "" || args["prompt"] == "" {
			fatal("--name, --node, --schedule, and --prompt are required")
		}
		resp, err := sendIPC(natsURL, natsbridge.TopicIPCInjectionAdd, ipcRequest{
			Name:     args["name"],
			Node:     args["node"],
			Schedule: args["schedule"],
			Prompt:   args["prompt"],
		})
		if err != nil {
			fatal("%v", err)
		}
		if resp.Error != "" {
			fatal("%s", resp.Error)
		}
		fmt.Printf("Injection created: %s\n", resp.ID)

	case "list":
		resp, err := sendIPC(natsURL, natsbridge.TopicIPCInjectionList, ipcRequest{})
		if err != nil {
			fatal("%v", err)
		}
		if resp.Error != "" {
			fatal("%s", resp.Error)
		}
		if len(resp.Injections) == 0 {
			fmt.Println("No injections found.")
		} else {
			for _, inj := range resp.Injections {
				fmt.Printf("  %s  %s  %s@%s  [%s]\n", inj.ID, inj.Status, inj.Name, inj.Node, inj.Schedule)
			}
		}

	case "remove":
		requireID(natsURL, rest, natsbridge.TopicIPCInjectionRemove, "Injection removed.")

	case "pause":
		requireID(natsURL, rest, natsbridge.TopicIPCInjectionPause, "Injection paused.")

	case "resume":
		requireID(natsURL, rest, natsbridge.TopicIPCInjectionResume, "Injection resumed.")

	default:
		fatal("unknown command: %s", command)
	}
}

func requireID(natsURL string, rest []string, subject, done string) {
	args := parseArgs(rest)
	if args["id"] == "" {
		fatal("--id is required")
	}
	resp, err := sendIPC(natsURL, subject, ipcRequest{ID: args["id"]})
	if err != nil {
		fatal("%v", err)
	}
	if resp.Error != "" {
		fatal("%s", resp.Error)
	}
	fmt.Println(done)
}
