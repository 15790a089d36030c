package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/GoCodeAlone/fabrichost"
	"github.com/GoCodeAlone/fabrichost/directory"
	"github.com/GoCodeAlone/fabrichost/feeders"
	"github.com/GoCodeAlone/fabrichost/internal/logging"
	"github.com/GoCodeAlone/fabrichost/testruntime"
	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

type runOptions struct {
	configFile    string
	logLevel      string
	logEncoding   string
	bindHost      string
	uniqueURL     bool
	sweepSchedule string
	directory     directoryFlags
	signals       bool

	// ready is called with the runtime once the host started.
	ready func(*testruntime.Runtime)
}

// NewRunCommand creates the run command.
func NewRunCommand() *cobra.Command {
	opts := &runOptions{signals: true}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the echo service and block until interrupted",
		Long: `Loads the runtime configuration from --config and E2E_TEST_* variables,
registers the echo service with the test runtime and serves /echo and
/metrics until SIGINT or SIGTERM.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.run(cmd.Context(), cmd.ErrOrStderr())
		},
	}

	cmd.Flags().StringVarP(&opts.configFile, "config", "c", "", "Runtime configuration file (.yaml, .toml or .json)")
	cmd.Flags().StringVar(&opts.logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	cmd.Flags().StringVar(&opts.logEncoding, "log-encoding", "json", "Log encoding (json, console)")
	cmd.Flags().StringVar(&opts.bindHost, "bind", "+", "Host the web server binds to")
	cmd.Flags().BoolVar(&opts.uniqueURL, "unique-url", false, "Publish /{partition}/{replica} unique service URLs")
	cmd.Flags().StringVar(&opts.sweepSchedule, "sweep", "", "Cron schedule for pruning unreachable endpoints, e.g. @every 30s")
	opts.directory.register(cmd)

	return cmd
}

func (o *runOptions) run(ctx context.Context, stderr io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	logger, err := logging.New(logging.Config{Level: o.logLevel, Encoding: o.logEncoding, OutputPath: "stderr"})
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	var sources []feeders.Feeder
	if o.configFile != "" {
		feeder, err := feeders.ForFile(o.configFile)
		if err != nil {
			return err
		}
		sources = append(sources, feeder)
	}
	cfg, err := testruntime.LoadConfig(sources...)
	if err != nil {
		return fmt.Errorf("load runtime config: %w", err)
	}
	runtimePath, err := cfg.EnsureRuntimePath()
	if err != nil {
		return err
	}

	dir, closeDir, err := o.directory.open(ctx, runtimePath, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := closeDir(); err != nil {
			logger.Warn("Failed to close directory", "error", err)
		}
	}()

	if o.sweepSchedule != "" {
		sweeper, err := directory.NewSweeper(dir, o.sweepSchedule, directory.WithSweeperLogger(logger))
		if err != nil {
			return err
		}
		if err := sweeper.Start(ctx); err != nil {
			return err
		}
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = sweeper.Stop(stopCtx)
		}()
	}

	hostname, _ := os.Hostname()
	rt, err := testruntime.New(cfg, dir, testruntime.WithLogger(logger), testruntime.WithHostname(hostname))
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := rt.Close(closeCtx); err != nil {
			logger.Warn("Failed to close runtime instances", "error", err)
		}
	}()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	hostOptions := fabrichost.DefaultHostOptions()
	hostOptions.Server.Host = o.bindHost
	hostOptions.UniqueServiceURL = o.uniqueURL
	if ep, ok := endpointFor(cfg, hostOptions.EndpointName); ok {
		hostOptions.Server.Port = ep.Port
	}

	opts := append(rt.HostOptions(mountEcho(registry)),
		fabrichost.WithLogger(logger),
		fabrichost.WithHostOptions(hostOptions),
		fabrichost.WithMetrics(registry),
		fabrichost.WithConfig(cfg),
	)
	if o.signals {
		opts = append(opts, fabrichost.WithSignalHandling())
	}
	if o.ready != nil {
		opts = append(opts, fabrichost.WithObserver(func(_ context.Context, event cloudevents.Event) error {
			if event.Type() == fabrichost.EventTypeHostStarted {
				o.ready(rt)
			}
			return nil
		}))
	}
	host, err := fabrichost.NewHost(opts...)
	if err != nil {
		return err
	}

	if err := host.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(stderr, "echo-service: %v\n", err)
		return err
	}
	return nil
}

func endpointFor(cfg *testruntime.Config, name string) (fabrichost.EndpointResource, bool) {
	for _, ep := range cfg.Endpoints {
		if ep.Name == name {
			return ep, true
		}
	}
	return fabrichost.EndpointResource{}, false
}

type instanceInfo struct {
	ServiceName         string `json:"serviceName"`
	ServiceTypeName     string `json:"serviceTypeName"`
	ApplicationName     string `json:"applicationName"`
	PartitionID         string `json:"partitionId"`
	ReplicaOrInstanceID int64  `json:"replicaOrInstanceId"`
	Node                string `json:"node"`
}

// mountEcho adds the echo, info and metrics routes to the instance's
// web server.
func mountEcho(registry *prometheus.Registry) fabrichost.InstanceConfigurer {
	return func(scope *fabrichost.Scope, ictx fabrichost.InstanceContext) error {
		server, err := fabrichost.ResolveAs[*fabrichost.HTTPServer](scope, fabrichost.ServiceWebServer)
		if err != nil {
			return err
		}
		info := instanceInfo{
			ServiceName:         ictx.ServiceName,
			ServiceTypeName:     ictx.ServiceTypeName,
			ApplicationName:     ictx.ApplicationName(),
			PartitionID:         ictx.PartitionID.String(),
			ReplicaOrInstanceID: ictx.ReplicaOrInstanceID,
			Node:                ictx.Node.NodeName,
		}

		r := server.Router()
		r.Use(middleware.RequestID, middleware.Recoverer)
		r.Get("/echo", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
			_, _ = io.WriteString(w, r.URL.Query().Get("msg"))
		})
		r.Post("/echo", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", r.Header.Get("Content-Type"))
			_, _ = io.Copy(w, http.MaxBytesReader(w, r.Body, 1<<20))
		})
		r.Get("/info", func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(info)
		})
		r.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}))
		return nil
	}
}
