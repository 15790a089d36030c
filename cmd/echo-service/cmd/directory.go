package cmd

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/GoCodeAlone/fabrichost/directory"
	"github.com/GoCodeAlone/fabrichost/testruntime"
	"github.com/spf13/cobra"
)

// NewDirectoryCommand creates the directory command, which prints the
// published endpoints.
func NewDirectoryCommand() *cobra.Command {
	var (
		flags directoryFlags
		watch bool
	)
	cmd := &cobra.Command{
		Use:   "directory",
		Short: "List services, applications and endpoints in the directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			fallback := os.Getenv(testruntime.EnvPrefix + "_RUNTIME_PATH")
			dir, closeDir, err := flags.open(ctx, fallback, nil)
			if err != nil {
				return err
			}
			defer func() { _ = closeDir() }()

			out := cmd.OutOrStdout()
			if err := listDirectory(ctx, dir, out); err != nil {
				return err
			}
			if !watch {
				return nil
			}
			return watchDirectory(ctx, dir, out)
		},
	}
	flags.register(cmd)
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "Keep running and print changes")
	return cmd
}

func listDirectory(ctx context.Context, dir directory.Directory, out io.Writer) error {
	services, err := dir.Services(ctx)
	if err != nil {
		return err
	}
	for _, svc := range services {
		apps, err := dir.Applications(ctx, svc)
		if err != nil {
			return err
		}
		for _, app := range apps {
			endpoints, err := dir.Endpoints(ctx, svc, app)
			if err != nil {
				return err
			}
			for _, ep := range endpoints {
				fmt.Fprintln(out, directory.Entry{ServiceName: svc, ApplicationName: app, Address: ep})
			}
		}
	}
	return nil
}

func watchDirectory(ctx context.Context, dir directory.Directory, out io.Writer) error {
	w, ok := dir.(directory.Watcher)
	if !ok {
		return fmt.Errorf("directory %T does not support watching", dir)
	}
	changes, err := w.Watch(ctx)
	if err != nil {
		return err
	}
	for change := range changes {
		if change.Kind != directory.ChangeEndpoints {
			continue
		}
		endpoints, err := dir.Endpoints(ctx, change.ServiceName, change.ApplicationName)
		if err != nil {
			return err
		}
		for _, ep := range endpoints {
			fmt.Fprintln(out, directory.Entry{ServiceName: change.ServiceName, ApplicationName: change.ApplicationName, Address: ep})
		}
	}
	return ctx.Err()
}
