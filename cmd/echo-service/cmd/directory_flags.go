package cmd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/GoCodeAlone/fabrichost"
	"github.com/GoCodeAlone/fabrichost/directory"
	"github.com/GoCodeAlone/fabrichost/directory/etcd"
	"github.com/spf13/cobra"
	clientv3 "go.etcd.io/etcd/client/v3"
)

// directoryFlags selects the directory backend shared by the commands.
type directoryFlags struct {
	root          string
	etcdEndpoints []string
	etcdPrefix    string
	leaseTTL      int
}

func (f *directoryFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.root, "directory-root", "", "Directory for file-based endpoint records (defaults to the runtime path)")
	cmd.Flags().StringSliceVar(&f.etcdEndpoints, "etcd-endpoints", nil, "etcd endpoints; when set the directory is stored in etcd")
	cmd.Flags().StringVar(&f.etcdPrefix, "etcd-prefix", "/fabrichost", "Key prefix for the etcd directory")
	cmd.Flags().IntVar(&f.leaseTTL, "etcd-lease-ttl", 0, "Lease TTL in seconds for etcd endpoint keys (0 disables leases)")
}

// open returns the selected directory and a function releasing it.
func (f *directoryFlags) open(ctx context.Context, fallbackRoot string, logger fabrichost.Logger) (directory.Directory, func() error, error) {
	if len(f.etcdEndpoints) > 0 {
		client, err := clientv3.New(clientv3.Config{
			Endpoints:   f.etcdEndpoints,
			DialTimeout: 5 * time.Second,
			Context:     ctx,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("connect etcd %s: %w", strings.Join(f.etcdEndpoints, ","), err)
		}
		dir, err := etcd.NewBuilder(client).KeyPrefix(f.etcdPrefix).LeaseTTL(f.leaseTTL).Logger(logger).Build()
		if err != nil {
			_ = client.Close()
			return nil, nil, err
		}
		return dir, func() error {
			derr := dir.Close()
			if cerr := client.Close(); derr == nil {
				derr = cerr
			}
			return derr
		}, nil
	}

	root := f.root
	if root == "" {
		root = fallbackRoot
	}
	dir, err := directory.NewFileDirectory(root, logger)
	if err != nil {
		return nil, nil, err
	}
	return dir, func() error { return nil }, nil
}
