package main

import (
	"strconv"

	"github.com/spf13/cobra"
	"github.com/yudame/valor/internal/authz"
	"github.com/yudame/valor/internal/workspace"
)

func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List configured workspaces and the DM whitelist",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := newPrinterFor(cmd)
			if err != nil {
				return err
			}
			rt, err := openRuntime(false)
			if err != nil {
				return err
			}
			defer rt.Close()
			return p.printList(newListView(rt.Validator().Registry()))
		},
	}
}

// chatFlag registers the required --chat flag. Telegram group ids are
// negative, so they cannot be positional arguments.
func chatFlag(cmd *cobra.Command, dst *string) {
	cmd.Flags().StringVar(dst, "chat", "", "Telegram chat id (group ids are negative)")
	if err := cmd.MarkFlagRequired("chat"); err != nil {
		panic(err)
	}
}

func newCheckCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Check whether a chat may access a resource",
	}

	var notionChat string
	notion := &cobra.Command{
		Use:   "notion --chat <chat-id> <workspace>",
		Short: "Check access to a Notion workspace (aliases allowed)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheck(cmd, workspace.OperationNotion, notionChat, args[0],
				func(v *workspace.Validator) error { return v.ValidateNotionAccess(notionChat, args[0]) })
		},
	}
	chatFlag(notion, &notionChat)
	cmd.AddCommand(notion)

	var dirChat string
	dir := &cobra.Command{
		Use:     "dir --chat <chat-id> <path>",
		Aliases: []string{"directory"},
		Short:   "Check access to a file or directory",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheck(cmd, workspace.OperationDirectory, dirChat, args[0],
				func(v *workspace.Validator) error { return v.ValidateDirectoryAccess(dirChat, args[0]) })
		},
	}
	chatFlag(dir, &dirChat)
	cmd.AddCommand(dir)

	return cmd
}

func runCheck(cmd *cobra.Command, op, chatID, resource string, check func(*workspace.Validator) error) error {
	p, err := newPrinterFor(cmd)
	if err != nil {
		return err
	}
	rt, err := openRuntime(false)
	if err != nil {
		return err
	}
	defer rt.Close()

	v := rt.Validator()
	checkErr := check(v)
	name, _ := v.WorkspaceForChat(chatID)
	if err := p.printCheck(newCheckResult(chatID, op, resource, name, checkErr)); err != nil {
		return err
	}
	if checkErr != nil {
		return errRejected
	}
	return nil
}

func newWhitelistCmd() *cobra.Command {
	var (
		chat     string
		private  bool
		username string
	)
	cmd := &cobra.Command{
		Use:   "whitelist --chat <chat-id>",
		Short: "Check whether a chat may reach the bot at all",
		Long: `Checks a chat against TELEGRAM_ALLOWED_GROUPS, TELEGRAM_ALLOW_DMS and the
DM whitelist in the workspace config. For private chats pass --private and the
sender's --username; without a username the chat id is matched against the
whitelisted user ids.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			chatID, err := authz.ParseChatID(chat)
			if err != nil {
				return err
			}
			p, err := newPrinterFor(cmd)
			if err != nil {
				return err
			}
			rt, err := openRuntime(false)
			if err != nil {
				return err
			}
			defer rt.Close()

			reg := rt.Validator().Registry()
			allowed := workspace.NewEnvironmentValidator(reg, nil).IsChatWhitelisted(chatID, private, username)
			result := checkResult{
				ChatID:    strconv.FormatInt(chatID, 10),
				Operation: "whitelist",
				Resource:  "messages",
				Allowed:   allowed,
			}
			if !private {
				result.Workspace, _ = reg.WorkspaceForChat(result.ChatID)
			} else if username != "" {
				result.Resource = "messages from @" + username
			}
			if !allowed {
				result.Message = "Chat is not whitelisted."
			}
			if err := p.printCheck(result); err != nil {
				return err
			}
			if !allowed {
				return errRejected
			}
			return nil
		},
	}
	chatFlag(cmd, &chat)
	cmd.Flags().BoolVar(&private, "private", false, "Treat the chat as a private (DM) chat")
	cmd.Flags().StringVar(&username, "username", "", "Sender username for private chats")
	return cmd
}

func newValidateEnvCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate-env",
		Short: "Validate TELEGRAM_ALLOWED_GROUPS and TELEGRAM_ALLOW_DMS",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := newPrinterFor(cmd)
			if err != nil {
				return err
			}
			rt, err := openRuntime(false)
			if err != nil {
				return err
			}
			defer rt.Close()

			report, validateErr := workspace.NewEnvironmentValidator(rt.Validator().Registry(), nil).Validate()
			if err := p.printEnvironment(report); err != nil {
				return err
			}
			if validateErr != nil || report.Status != workspace.StatusValid {
				return errRejected
			}
			return nil
		},
	}
}
