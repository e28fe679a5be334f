package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/matheus3301/sockchat/internal/api"
	"github.com/matheus3301/sockchat/internal/profile"
	"github.com/spf13/cobra"
)

var (
	profileFlag string
	outputFlag  string
	timeout     time.Duration
)

func main() {
	root := &cobra.Command{
		Use:           "chatctl",
		Short:         "Control a running chatd daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			switch outputFlag {
			case "text", "json", "yaml":
				return nil
			}
			return fmt.Errorf("unknown output format %q (want text, json or yaml)", outputFlag)
		},
	}

	root.PersistentFlags().StringVarP(&profileFlag, "profile", "p", "", "profile name (overrides config default)")
	root.PersistentFlags().StringVarP(&outputFlag, "output", "o", "text", "output format: text, json or yaml")
	root.PersistentFlags().DurationVar(&timeout, "timeout", 10*time.Second, "request timeout")

	root.AddCommand(
		initCmd(),
		statusCmd(),
		chatsCmd(),
		messagesCmd(),
		newCmd(),
		selectCmd(),
		sendCmd(),
		deleteCmd(),
		clearCmd(),
		dismissCmd(),
		retryCmd(),
		connectCmd(),
		disconnectCmd(),
		offlineCmd(),
		networkCmd(),
		watchCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// withClient resolves the profile, dials its daemon and runs fn.
func withClient(ctx context.Context, fn func(ctx context.Context, c *api.Client) error) error {
	name := profile.Resolve(profileFlag)
	if err := profile.ValidateName(name); err != nil {
		return err
	}
	c, err := api.Dial(profile.SocketPath(name))
	if err != nil {
		return fmt.Errorf("cannot connect to daemon for profile %q: %w", name, err)
	}
	defer func() { _ = c.Close() }()
	return fn(ctx, c)
}

// call runs a unary method and prints the response with text as the
// human-readable renderer.
func call(method string, args map[string]any, text func(map[string]any)) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return withClient(ctx, func(ctx context.Context, c *api.Client) error {
		resp, err := c.Call(ctx, method, args)
		if err != nil {
			return err
		}
		return render(resp, text)
	})
}
