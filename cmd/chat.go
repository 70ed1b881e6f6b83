package cmd

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/crewd/internal/config"
	"github.com/nextlevelbuilder/crewd/internal/orchestrator"
	"github.com/nextlevelbuilder/crewd/pkg/protocol"
)

func chatCmd() *cobra.Command {
	var serverURL string
	var showThoughts bool
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Interactive chat with a running daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			if serverURL == "" {
				cfg, err := config.Load(resolveConfigPath())
				if err != nil {
					return err
				}
				serverURL = fmt.Sprintf("http://%s:%d", cfg.Gateway.Host, cfg.Gateway.Port)
			}
			return runChat(serverURL, showThoughts)
		},
	}
	cmd.Flags().StringVar(&serverURL, "server", "", "daemon base URL (default from config)")
	cmd.Flags().BoolVar(&showThoughts, "thoughts", false, "print agent reasoning and chatroom traffic")
	return cmd
}

func runChat(serverURL string, showThoughts bool) error {
	fmt.Println("crewd chat. Type a message, or /quit to exit.")

	conversationID := ""
	stdin := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !stdin.Scan() {
			return stdin.Err()
		}
		line := strings.TrimSpace(stdin.Text())
		if line == "" {
			continue
		}
		if line == "/quit" || line == "/exit" {
			return nil
		}

		id, err := streamChat(serverURL, orchestrator.Request{
			Message:        line,
			ConversationID: conversationID,
		}, showThoughts)
		if err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
			continue
		}
		if id != "" {
			conversationID = id
		}
	}
}

// streamChat posts one message and renders the NDJSON event stream. It
// returns the conversation id announced by the server, if any.
func streamChat(serverURL string, req orchestrator.Request, showThoughts bool) (string, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return "", err
	}
	resp, err := http.Post(serverURL+"/api/chat", "application/json", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var apiErr struct {
			Error string `json:"error"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&apiErr); err == nil && apiErr.Error != "" {
			return "", fmt.Errorf("server: %s", apiErr.Error)
		}
		return "", fmt.Errorf("server returned %s", resp.Status)
	}

	conversationID := ""
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var ev protocol.StreamEvent
		if err := json.Unmarshal(line, &ev); err != nil {
			continue
		}

		switch ev.Type {
		case protocol.StreamConversation:
			conversationID = ev.ConversationID
		case protocol.StreamConversationTitle:
			fmt.Printf("[title] %s\n", ev.Title)
		case protocol.StreamToken:
			fmt.Print(ev.Content)
		case protocol.StreamDone:
			fmt.Println()
			return conversationID, nil
		case protocol.StreamError:
			fmt.Println()
			return conversationID, fmt.Errorf("%s", ev.Content)
		case protocol.StreamThought:
			if showThoughts {
				fmt.Printf("[%s] %s\n", ev.Agent, ev.Content)
			}
		case protocol.StreamChatroomSend:
			if showThoughts {
				fmt.Printf("[%s -> %s] %s\n", ev.Agent, ev.To, ev.Content)
			}
		case protocol.StreamToolUse:
			if showThoughts {
				fmt.Printf("[%s uses %s] %s\n", ev.Agent, ev.Tool, ev.Query)
			}
		}
	}
	return conversationID, scanner.Err()
}
