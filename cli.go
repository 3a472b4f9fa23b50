package main

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"vm-console/dispatch"
	"vm-console/progress"
	"vm-console/sidebar"
	"vm-console/tree"
	"vm-console/upstream"
	"vm-console/vnc"
	"vm-console/wizard"
)

// errReported is returned once a failure has already been shown to the user.
var errReported = errors.New("reported")

// cliNotifier prints notices to w, errors and warnings prefixed.
func cliNotifier(w io.Writer) dispatch.Notifier {
	return dispatch.NotifierFunc(func(n dispatch.Notice) {
		switch n.Level {
		case dispatch.LevelError:
			fmt.Fprintf(w, "Error: %s\n", n.Message)
		case dispatch.LevelWarning:
			fmt.Fprintf(w, "Warning: %s\n", n.Message)
		default:
			fmt.Fprintln(w, n.Message)
		}
	})
}

// cliDispatcher loads config and returns a dispatcher with the tree already
// fetched, so moves are checked against current folders.
func cliDispatcher(cmd *cobra.Command) (*dispatch.Dispatcher, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	d := dispatch.New(newClient(cfg), cliNotifier(cmd.ErrOrStderr()))
	ctx, cancel := commandContext(cmd)
	defer cancel()
	if res := d.Reload(ctx); !res.OK() {
		return nil, errReported
	}
	return d, nil
}

func outcome(res dispatch.Result) error {
	switch res.Outcome {
	case dispatch.Applied:
		return nil
	case dispatch.Cancelled:
		return errors.New("cancelled")
	}
	return errReported
}

func newTreeCmd() *cobra.Command {
	var search string
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "tree",
		Short: "Print the folder tree",
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := cliDispatcher(cmd)
			if err != nil {
				return err
			}
			payload := d.Tree()
			out := cmd.OutOrStdout()

			if payload.Data == nil {
				fmt.Fprintln(out, payload.HTML)
				return nil
			}
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(payload.Data)
			}

			forest := tree.New(payload.Data.Folders, payload.Data.VMs)
			sidebar.Apply(forest, nil)
			sidebar.Search(forest, search)
			return tree.Fprint(out, forest)
		},
	}

	cmd.Flags().StringVarP(&search, "search", "s", "", "Only show VMs whose name contains this text")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the flat folder and VM lists as JSON")
	return cmd
}

func newMoveCmd() *cobra.Command {
	var itemType string

	cmd := &cobra.Command{
		Use:   "move <item-id> <parent-id>",
		Short: "Move a VM or folder into a folder (use \"root\" for the top level)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := cliDispatcher(cmd)
			if err != nil {
				return err
			}
			ctx, cancel := commandContext(cmd)
			defer cancel()

			res := d.Move(ctx, upstream.MoveRequest{ItemID: args[0], ItemType: itemType, ParentID: args[1]})
			if res.OK() {
				fmt.Fprintf(cmd.OutOrStdout(), "Moved %s %s to %s\n", itemType, args[0], args[1])
			}
			return outcome(res)
		},
	}

	cmd.Flags().StringVarP(&itemType, "type", "t", tree.ItemVM, "Item type: vm or folder")
	return cmd
}

func newRenameCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rename <folder-id> <name>",
		Short: "Rename a folder",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := cliDispatcher(cmd)
			if err != nil {
				return err
			}
			ctx, cancel := commandContext(cmd)
			defer cancel()

			res := d.Rename(ctx, args[0], args[1])
			if res.OK() {
				fmt.Fprintf(cmd.OutOrStdout(), "Renamed folder %s\n", args[0])
			}
			return outcome(res)
		},
	}
}

// stdinConfirmer asks on the terminal and accepts y or yes.
func stdinConfirmer(in io.Reader, out io.Writer) dispatch.Confirmer {
	return dispatch.ConfirmFunc(func(prompt string) bool {
		fmt.Fprintf(out, "%s [y/N]: ", prompt)
		line, err := bufio.NewReader(in).ReadString('\n')
		if err != nil && line == "" {
			return false
		}
		answer := strings.ToLower(strings.TrimSpace(line))
		return answer == "y" || answer == "yes"
	})
}

func newDeleteCmd() *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "delete <folder-id>",
		Short: "Delete a folder; its contents move to its parent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := cliDispatcher(cmd)
			if err != nil {
				return err
			}
			ctx, cancel := commandContext(cmd)
			defer cancel()

			var confirm dispatch.Confirmer = dispatch.Always(true)
			if !yes {
				confirm = stdinConfirmer(cmd.InOrStdin(), cmd.OutOrStdout())
			}
			res := d.Delete(ctx, args[0], confirm)
			if res.OK() {
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted folder %s\n", args[0])
			}
			return outcome(res)
		},
	}

	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Do not ask for confirmation")
	return cmd
}

func newMkdirCmd() *cobra.Command {
	var parent string

	cmd := &cobra.Command{
		Use:   "mkdir <name>",
		Short: "Create a folder",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := cliDispatcher(cmd)
			if err != nil {
				return err
			}
			ctx, cancel := commandContext(cmd)
			defer cancel()

			res := d.CreateFolder(ctx, args[0], parent)
			if res.OK() {
				if res.FolderID != "" {
					fmt.Fprintf(cmd.OutOrStdout(), "Created folder %s (%s)\n", args[0], res.FolderID)
				} else {
					fmt.Fprintf(cmd.OutOrStdout(), "Created folder %s\n", args[0])
				}
			}
			return outcome(res)
		},
	}

	cmd.Flags().StringVarP(&parent, "parent", "p", tree.RootID, "Parent folder id")
	return cmd
}

func newCreateVMCmd() *cobra.Command {
	var form wizard.Form
	var listOnly bool

	cmd := &cobra.Command{
		Use:   "create-vm",
		Short: "Create a VM from an ISO image or a template",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx, cancel := commandContext(cmd)
			defer cancel()

			client := newClient(cfg)
			errOut := cmd.ErrOrStderr()

			spin := progress.Start(errOut, "Loading options")
			opts := wizard.LoadOptions(ctx, client)
			spin.Stop(len(opts.Errors) == 0, "Loaded options")

			if listOnly {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(opts)
			}

			if form.Name == "" {
				form.Name = opts.DefaultName
			}
			if form.Node == "" && opts.Node != nil {
				form.Node = opts.Node.Name
				fmt.Fprintf(errOut, "Selected node: %s\n", opts.NodeLabel)
			}

			spin = progress.Start(errOut, "Creating VM "+form.Name)
			res := wizard.New(client, nil).Create(ctx, form)
			spin.Stop(res.OK(), "Submitted")

			cliNotifier(cmd.OutOrStdout()).Notify(dispatch.Notice{Level: levelFor(res), Message: res.Message})
			return outcome(res)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&form.CreationType, "type", "t", wizard.FromISO, "Creation type: iso or template")
	f.StringVarP(&form.Name, "name", "n", "", "VM name (default VM-<random>)")
	f.StringVar(&form.Node, "node", "", "Target node (default: the node the server suggests)")
	f.StringVar(&form.VLAN, "vlan", "", "VLAN tag")
	f.BoolVar(&form.StartAfterCreate, "start", false, "Start the VM once created")
	f.StringVar(&form.ISO, "iso", "", "ISO volume id (iso)")
	f.IntVar(&form.CPU, "cpu", wizard.DefaultCPU, "CPU cores (iso)")
	f.IntVar(&form.Memory, "memory", wizard.DefaultMemory, "Memory in MB (iso)")
	f.IntVar(&form.DiskSize, "disk", wizard.DefaultDiskSize, "Disk size in GB (iso)")
	f.StringVar(&form.TemplateVMID, "template", "", "Template VM id (template)")
	f.StringVar(&form.Storage, "storage", "", "Target storage (required for iso, optional for template)")
	f.BoolVar(&listOnly, "list", false, "Print the available nodes, images, templates and storage and exit")
	return cmd
}

func levelFor(res dispatch.Result) dispatch.Level {
	switch res.Outcome {
	case dispatch.Applied:
		return dispatch.LevelInfo
	case dispatch.Rejected:
		return dispatch.LevelWarning
	}
	return dispatch.LevelError
}

func newConsoleCmd() *cobra.Command {
	var rawURL string

	cmd := &cobra.Command{
		Use:   "console <node> <vmid>",
		Short: "Open the remote console of a VM and report its connection state",
		Args:  cobra.RangeArgs(0, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			target := rawURL
			if target == "" {
				if len(args) != 2 {
					return errors.New("console needs <node> <vmid> or --url")
				}
				target = consoleURL(cfg.ConsoleURL, args[0], args[1])
			}

			ctx, cancel := commandContext(cmd)
			defer cancel()

			out := cmd.OutOrStdout()
			display := vnc.DisplayFunc(func(st vnc.Status) { fmt.Fprintf(out, "[%s]\n", st.Text) })
			onEvent := func(e vnc.Event) {
				if e.Reason != "" {
					fmt.Fprintf(out, "%s: %s\n", e.Type, e.Reason)
					return
				}
				fmt.Fprintln(out, e.Type)
			}

			session, err := vnc.Dial(ctx, display, target, vnc.Options{OnEvent: onEvent})
			if err != nil {
				return errReported
			}
			select {
			case <-ctx.Done():
				session.Disconnect()
			case <-session.Done():
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&rawURL, "url", "", "Console websocket URL (overrides the configured pattern)")
	return cmd
}
