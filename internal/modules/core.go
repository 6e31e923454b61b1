// Package modules defines the bot's built-in command modules and builds
// the command tree from them.
package modules

import (
	"fmt"
	"strings"

	"github.com/ThePrimedTNT/astolfo/internal/command"
	"github.com/ThePrimedTNT/astolfo/internal/config"
)

// Tree assembles the full command tree. shutdown is invoked by the
// developer stop command to exit the process cleanly.
func Tree(cfg *config.Config, shutdown func()) *command.Tree {
	return command.NewTree(
		coreModule(cfg, shutdown),
		adminModule(),
		permissionsModule(),
	)
}

func coreModule(cfg *config.Config, shutdown func()) *command.Module {
	return &command.Module{
		Name: "Core",
		Roots: []*command.Node{
			{
				Name:    "help",
				Aliases: []string{"h", "commands"},
				Action:  helpAction,
			},
			{
				Name:   "ping",
				Action: func(ctx *command.Context) error { ctx.Reply("Pong!"); return nil },
			},
			{
				Name:      "stop",
				Inherited: []command.Predicate{developerOnly(cfg)},
				Action: func(ctx *command.Context) error {
					ctx.Reply("Shutting down. Bye!")
					shutdown()
					return nil
				},
			},
		},
	}
}

// developerOnly gates a subtree to the configured developers. Silent on
// failure: hidden commands should not advertise themselves.
func developerOnly(cfg *config.Config) command.Predicate {
	return func(ctx *command.Context) bool {
		return cfg.IsDeveloper(ctx.Message.Member.UserID)
	}
}

func helpAction(ctx *command.Context) error {
	if ctx.Args != "" {
		return helpFor(ctx)
	}

	var b strings.Builder
	b.WriteString("**Commands**\n")
	for _, m := range ctx.Tree.Modules() {
		if m.Hidden {
			continue
		}
		var names []string
		for _, root := range m.Roots {
			names = append(names, root.Name)
		}
		fmt.Fprintf(&b, "%s: `%s`\n", m.Name, strings.Join(names, "`, `"))
	}
	b.WriteString("Type `help <command>` for details.")
	ctx.Reply(b.String())
	return nil
}

func helpFor(ctx *command.Context) error {
	res := ctx.Tree.Resolve(ctx.Args)
	if res == nil {
		ctx.Reply(fmt.Sprintf("No such command `%s`.", ctx.Args))
		return nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "**%s**\n", res.Path)
	if len(res.Node.Aliases) > 0 {
		fmt.Fprintf(&b, "Aliases: `%s`\n", strings.Join(res.Node.Aliases, "`, `"))
	}
	if len(res.Node.Children) > 0 {
		var names []string
		for _, c := range res.Node.Children {
			names = append(names, c.Name)
		}
		fmt.Fprintf(&b, "Subcommands: `%s`\n", strings.Join(names, "`, `"))
	}
	fmt.Fprintf(&b, "Permission: `%s`", res.Node.Permission.Node)
	ctx.Reply(b.String())
	return nil
}
