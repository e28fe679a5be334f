package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/matheus3301/sockchat/internal/api"
	"github.com/matheus3301/sockchat/internal/config"
	"github.com/matheus3301/sockchat/internal/profile"
	"github.com/spf13/cobra"
)

func initCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default config file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := profile.ConfigPath()
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			} else if err != nil && !errors.Is(err, fs.ErrNotExist) {
				return err
			}
			if err := config.Save(path, config.Default()); err != nil {
				return err
			}
			fmt.Printf("wrote %s\n", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config file")
	return cmd
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show connection, queue and chat status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return call(api.MethodStatus, nil, func(v map[string]any) {
				fmt.Printf("Profile:    %s\n", str(v, "profile"))
				fmt.Printf("Network:    %s\n", onOff(truthy(v, "reachable"), "reachable", "unreachable"))
				fmt.Printf("Socket:     %s (%s)\n", onOff(truthy(v, "connected"), "connected", "disconnected"), str(v, "state"))
				fmt.Printf("Offline:    %v\n", truthy(v, "offline"))
				fmt.Printf("Queued:     %d\n", num(v, "queue_depth"))
				fmt.Printf("Unsent:     %d\n", num(v, "unsent"))
				fmt.Printf("Chats:      %d\n", num(v, "chats"))
				if sel := str(v, "selected_chat"); sel != "" {
					fmt.Printf("Selected:   %s\n", sel)
				}
				if notice := str(v, "notice"); notice != "" {
					fmt.Printf("Notice:     %s\n", notice)
				}
				fmt.Printf("Uptime:     %dms\n", num(v, "uptime_ms"))
			})
		},
	}
}

func chatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "chats",
		Short: "List active chats, most recent first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return call(api.MethodListChats, nil, func(v map[string]any) {
				chats := list(v, "chats")
				if len(chats) == 0 {
					fmt.Println("No chats.")
					return
				}
				for _, c := range chats {
					printChat(c)
				}
			})
		},
	}
}

func messagesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "messages [chat-id]",
		Short: "List messages of a chat (default: the selected chat)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := map[string]any{}
			if len(args) == 1 {
				req["chat_id"] = args[0]
			}
			return call(api.MethodListMessages, req, func(v map[string]any) {
				msgs := list(v, "messages")
				if len(msgs) == 0 {
					fmt.Println("No messages.")
					return
				}
				for _, m := range msgs {
					printMessage(m)
				}
			})
		},
	}
}

func newCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "new",
		Short: "Create a chat and select it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return call(api.MethodCreateChat, nil, func(v map[string]any) {
				c, _ := v["chat"].(map[string]any)
				fmt.Printf("created %s (%s)\n", str(c, "id"), str(c, "title"))
			})
		},
	}
}

func selectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "select <chat-id>",
		Short: "Select a chat and mark it read",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return call(api.MethodSelectChat, map[string]any{"chat_id": args[0]}, func(v map[string]any) {
				fmt.Printf("selected %s\n", str(v, "chat_id"))
			})
		},
	}
}

func sendCmd() *cobra.Command {
	var chatID string
	cmd := &cobra.Command{
		Use:   "send <text...>",
		Short: "Send a message to the selected chat",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := map[string]any{"content": strings.Join(args, " ")}
			if chatID != "" {
				req["chat_id"] = chatID
			}
			return call(api.MethodSendMessage, req, func(v map[string]any) {
				if truthy(v, "delivered") {
					fmt.Println("sent")
				} else {
					fmt.Println("queued for retry when connection is restored")
				}
			})
		},
	}
	cmd.Flags().StringVar(&chatID, "chat", "", "select this chat before sending")
	return cmd
}

func deleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <chat-id>...",
		Short: "Delete chats and their messages",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids := make([]any, len(args))
			for i, id := range args {
				ids[i] = id
			}
			return call(api.MethodDeleteChats, map[string]any{"chat_ids": ids}, func(v map[string]any) {
				fmt.Printf("deleted %d chat(s)\n", num(v, "deleted"))
			})
		},
	}
}

func clearCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Delete every chat and message",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return call(api.MethodClearChats, nil, func(map[string]any) {
				fmt.Println("all chats cleared")
			})
		},
	}
}

func dismissCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dismiss",
		Short: "Dismiss the current notice",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return call(api.MethodClearNotice, nil, nil)
		},
	}
}

func retryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "retry",
		Short: "Retransmit persisted unsent messages now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return call(api.MethodRetryUnsent, nil, func(v map[string]any) {
				fmt.Printf("retried %d message(s)\n", num(v, "retried"))
			})
		},
	}
}

func connectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "connect",
		Short: "Open the socket, resetting an exhausted reconnect budget",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return call(api.MethodConnect, nil, func(map[string]any) {
				fmt.Println("connect requested")
			})
		},
	}
}

func disconnectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "disconnect",
		Short: "Close the socket and drop the outbound queue",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return call(api.MethodDisconnect, nil, func(map[string]any) {
				fmt.Println("disconnected")
			})
		},
	}
}

func offlineCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "offline <on|off>",
		Short:     "Simulate losing the socket for outgoing messages",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"on", "off"},
		RunE: func(cmd *cobra.Command, args []string) error {
			req := map[string]any{"offline": args[0] == "on"}
			return call(api.MethodSetOffline, req, func(v map[string]any) {
				fmt.Printf("offline=%v queued=%d\n", truthy(v, "offline"), num(v, "queued"))
			})
		},
	}
}

func networkCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "network <up|down>",
		Short:     "Force the observed reachability until the next probe",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"up", "down"},
		RunE: func(cmd *cobra.Command, args []string) error {
			req := map[string]any{"reachable": args[0] == "up"}
			return call(api.MethodSetNetwork, req, func(v map[string]any) {
				fmt.Printf("reachable=%v\n", truthy(v, "reachable"))
			})
		},
	}
}

func watchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch [namespace]",
		Short: "Stream daemon events (e.g. socket., queue., store., ui.)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			namespace := ""
			if len(args) == 1 {
				namespace = args[0]
			}
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return withClient(ctx, func(ctx context.Context, c *api.Client) error {
				err := c.Watch(ctx, namespace, func(evt map[string]any) error {
					return render(evt, func(v map[string]any) {
						fmt.Printf("%s  %-24s %v\n", millis(num(v, "ts_ms")), str(v, "kind"), v["payload"])
					})
				})
				if ctx.Err() != nil {
					return nil
				}
				return err
			})
		},
	}
}

func onOff(b bool, on, off string) string {
	if b {
		return on
	}
	return off
}
