// Package cli is the command-line access channel.
package cli

import (
	"context"
	"fmt"
	"strings"

	"lifelog/app/access"
	"lifelog/app/access/bot"
	"lifelog/app/access/mcpserver"
	"lifelog/app/config"
	"lifelog/app/service/extension"
	"lifelog/app/service/router"
	"lifelog/app/storage"
	"lifelog/app/util/mylog"

	"github.com/samber/do"
	"github.com/spf13/cobra"
)

func New(di *do.Injector) *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "lifelog",
		Short:         "Track your life with AI",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}

			if err = mylog.Init(cfg); err != nil {
				return err
			}

			do.ProvideValue(di, cfg)

			return nil
		},
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "path to the config file")

	root.AddCommand(
		newChatCmd(di),
		newServeCmd(di),
		newMCPCmd(di),
		newExtensionsCmd(di),
		newInitDBCmd(di),
	)

	return root
}

func newChatCmd(di *do.Injector) *cobra.Command {
	var userID string

	cmd := &cobra.Command{
		Use:   "chat <text>",
		Short: "Send one natural-language message and print the response",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			manager := do.MustInvoke[*extension.Manager](di)
			if manager.LoadAll(ctx) == 0 {
				return fmt.Errorf("no extensions loaded")
			}

			routerSvc := do.MustInvoke[*router.Service](di)

			response := routerSvc.Route(ctx, access.Request{
				UserID:   userID,
				Text:     strings.Join(args, " "),
				Channel:  access.ChannelCLI,
				Context:  map[string]any{},
				Metadata: map[string]any{},
			})

			if !response.Success {
				return fmt.Errorf("%s", response.Error)
			}

			fmt.Println(response.Message)

			if markdown, ok := response.Metadata[access.MetaMarkdown].(string); ok && markdown != response.Message {
				fmt.Println()
				fmt.Println(markdown)
			}

			return nil
		},
	}

	cmd.Flags().StringVarP(&userID, "user", "u", "1", "user id to act as")

	return cmd
}

func newServeCmd(di *do.Injector) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the bot webhook service",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			manager := do.MustInvoke[*extension.Manager](di)
			manager.LoadAll(ctx)

			return do.MustInvoke[*bot.Service](di).Run(ctx)
		},
	}
}

func newMCPCmd(di *do.Injector) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve the assistant as an MCP stdio server",
		RunE: func(cmd *cobra.Command, args []string) error {
			manager := do.MustInvoke[*extension.Manager](di)
			manager.LoadAll(cmd.Context())

			return do.MustInvoke[*mcpserver.Server](di).Run(cmd.Context())
		},
	}
}

func newExtensionsCmd(di *do.Injector) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "extensions",
		Short: "Inspect and manage extensions",
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List all extensions with their state",
			RunE: func(cmd *cobra.Command, args []string) error {
				manager := do.MustInvoke[*extension.Manager](di)
				manager.LoadAll(cmd.Context())

				for _, record := range manager.List() {
					fmt.Printf("%-12s %-10s v%-8s %s\n",
						record.Name, record.State, record.Version, record.DisplayName)
				}

				return nil
			},
		},
		&cobra.Command{
			Use:   "reload <name>",
			Short: "Hot-reload one extension from disk",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				manager := do.MustInvoke[*extension.Manager](di)
				manager.LoadAll(cmd.Context())

				if !manager.Reload(cmd.Context(), args[0]) {
					return fmt.Errorf("failed to reload extension %q", args[0])
				}

				fmt.Printf("reloaded %s\n", args[0])

				return nil
			},
		},
	)

	return cmd
}

func newInitDBCmd(di *do.Injector) *cobra.Command {
	return &cobra.Command{
		Use:   "initdb",
		Short: "Initialize the database",
		RunE: func(cmd *cobra.Command, args []string) error {
			_ = do.MustInvoke[*storage.Store](di)

			fmt.Println("database initialized")

			return nil
		},
	}
}

// ExecuteContext runs the CLI with the app context so commands stop on
// interrupt.
func ExecuteContext(ctx context.Context, di *do.Injector) error {
	return New(di).ExecuteContext(ctx)
}
