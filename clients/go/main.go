// greenhub CLI - command line client for the greenhub chat API
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"github.com/eldtechnologies/greenhub/clients/go/greenhub"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	client := greenhub.NewClient(os.Getenv("GREENHUB_URL"), os.Getenv("GREENHUB_TOKEN"))
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd := os.Args[1]

	switch cmd {
	case "health":
		resp, err := client.Health(ctx)
		exitOnError(err)
		printJSON(resp)

	case "chats":
		chats, err := client.ListChats(ctx)
		exitOnError(err)
		for _, ch := range chats {
			title := ch.Participants
			if ch.Title != nil {
				title = *ch.Title + " (" + ch.Participants + ")"
			}
			fmt.Printf("  %d  %s\n", ch.ID, title)
		}

	case "create":
		if len(os.Args) < 3 {
			fmt.Fprintln(os.Stderr, "Usage: greenhub create <user_id>... [-title <title>]")
			os.Exit(1)
		}
		var ids []int64
		var title string
		for i := 2; i < len(os.Args); i++ {
			if os.Args[i] == "-title" && i+1 < len(os.Args) {
				title = os.Args[i+1]
				i++
				continue
			}
			ids = append(ids, mustID(os.Args[i]))
		}
		id, err := client.CreateChat(ctx, ids, title)
		exitOnError(err)
		fmt.Printf("Created chat: %d\n", id)

	case "read":
		if len(os.Args) < 3 {
			fmt.Fprintln(os.Stderr, "Usage: greenhub read <chat_id>")
			os.Exit(1)
		}
		msgs, err := client.GetMessages(ctx, mustID(os.Args[2]), 20, 0)
		exitOnError(err)
		// Oldest first for reading
		for i := len(msgs) - 1; i >= 0; i-- {
			m := msgs[i]
			ts := m.CreatedAt.Local().Format("2006-01-02 15:04:05")
			text := ""
			if m.Body != nil {
				text = *m.Body
			}
			if m.AttachmentURL != nil {
				text += " [" + m.Type + ": " + *m.AttachmentURL + "]"
			}
			fmt.Printf("[%s] %s: %s\n", ts, m.SenderName, text)
		}

	case "send":
		if len(os.Args) < 4 {
			fmt.Fprintln(os.Stderr, "Usage: greenhub send <chat_id> <message>")
			os.Exit(1)
		}
		msg, err := client.SendText(ctx, mustID(os.Args[2]), os.Args[3])
		exitOnError(err)
		fmt.Printf("Posted: %d\n", msg.ID)

	case "upload":
		if len(os.Args) < 5 {
			fmt.Fprintln(os.Stderr, "Usage: greenhub upload <chat_id> <image|video|audio|file> <path> [caption]")
			os.Exit(1)
		}
		f, err := os.Open(os.Args[4])
		exitOnError(err)
		defer f.Close()
		caption := ""
		if len(os.Args) > 5 {
			caption = os.Args[5]
		}
		msg, err := client.SendAttachment(ctx, mustID(os.Args[2]), os.Args[3], caption, filepath.Base(os.Args[4]), f)
		exitOnError(err)
		fmt.Printf("Uploaded: %s\n", *msg.AttachmentURL)

	case "listen":
		channel := greenhub.ChannelChat
		if len(os.Args) > 2 {
			channel = os.Args[2]
		}
		err := client.Subscribe(ctx, channel, func(e greenhub.Event) error {
			name := e.Name
			if name == "" {
				name = "message"
			}
			fmt.Printf("%s %s\n", name, e.Data)
			return nil
		})
		if err != nil && ctx.Err() == nil {
			exitOnError(err)
		}

	case "help", "--help", "-h":
		usage()

	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Println(`greenhub CLI

Usage: greenhub <command> [options]

Commands:
  chats                              List your chats
  create <user_id>... [-title t]     Create a direct or group chat
  read <chat_id>                     Read recent messages
  send <chat_id> <message>           Post a text message
  upload <chat_id> <type> <path>     Post an attachment
  listen [iot|notifications|chat]    Print stream events until interrupted
  health                             Check server health

Environment:
  GREENHUB_URL     Server URL (default: http://localhost:8080)
  GREENHUB_TOKEN   Bearer token (see cmd/token)`)
}

func mustID(s string) int64 {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		fmt.Fprintf(os.Stderr, "Invalid id: %s\n", s)
		os.Exit(1)
	}
	return id
}

func exitOnError(err error) {
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func printJSON(v interface{}) {
	data, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(data))
}
