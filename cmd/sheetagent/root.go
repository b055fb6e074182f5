// Command sheetagent is the headless sync agent: it mirrors a project's
// sheets from the backend, follows the push stream so remat completions
// trigger coalesced reloads, and serves the mirrored state plus a live
// console feed over a small local HTTP surface.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"sheetsync/api"
	"sheetsync/editmap"
	"sheetsync/headerrows"
	"sheetsync/insertid"
	"sheetsync/push"
	"sheetsync/refresh"
	"sheetsync/sheets"
	"sheetsync/uiconsole"
)

var flags struct {
	backendURL string
	projectID  int64
	sheetList  []string
	transport  string
	wsURL      string
	listenAddr string
	cachePath  string
	debounce   time.Duration
	verbose    bool
}

var rootCmd = &cobra.Command{
	Use:   "sheetagent",
	Short: "Headless sheet sync agent",
	Long: `sheetagent mirrors the materialized sheets of one project, keeps them
fresh via the backend's push stream and serves the mirror locally.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return run(cmd.Context())
	},
}

func init() {
	f := rootCmd.Flags()
	f.StringVar(&flags.backendURL, "backend", envOr("SHEETSYNC_BACKEND", "http://localhost:5000"), "backend base URL")
	f.Int64Var(&flags.projectID, "project", 0, "project ID to mirror (required)")
	f.StringSliceVar(&flags.sheetList, "sheets", nil, "sheet tables to mirror (required)")
	f.StringVar(&flags.transport, "push", "sse", "push transport: sse or ws")
	f.StringVar(&flags.wsURL, "ws-url", envOr("SHEETSYNC_WS", ""), "websocket base URL (defaults to --backend with ws scheme)")
	f.StringVar(&flags.listenAddr, "listen", ":8090", "local HTTP listen address")
	f.StringVar(&flags.cachePath, "cache", "", "bbolt snapshot cache path (empty disables caching)")
	f.DurationVar(&flags.debounce, "debounce", refresh.DefaultDebounce, "push event debounce window")
	f.BoolVar(&flags.verbose, "verbose", false, "debug logging")
	rootCmd.MarkFlagRequired("project")
	rootCmd.MarkFlagRequired("sheets")
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func run(ctx context.Context) error {
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if flags.verbose {
		logrus.SetLevel(logrus.DebugLevel)
	}

	store := sheets.NewStore()
	ledger := editmap.NewStore()
	hr := headerrows.NewStore()
	alloc := insertid.NewAllocator()
	console := uiconsole.NewFeed()
	client := api.NewClient(flags.backendURL, flags.projectID)

	var cache *snapshotCache
	if flags.cachePath != "" {
		var err error
		cache, err = openSnapshotCache(flags.cachePath)
		if err != nil {
			return err
		}
		defer cache.Close()
		if cached, err := cache.Load(); err != nil {
			logrus.WithError(err).Warn("agent: cache load failed")
		} else if len(cached) > 0 {
			store.ReplaceAll(cached)
			logrus.WithField("sheets", len(cached)).Info("agent: serving cached snapshots until first reload")
		}
	}

	reloader := refresh.NewReloader(client, store, ledger, func() []string {
		return flags.sheetList
	})
	reload := func(ctx context.Context) error {
		if err := reloader.ReloadAll(ctx); err != nil {
			return err
		}
		if watermark, err := client.NextInsertedID(ctx); err != nil {
			logrus.WithError(err).Warn("agent: inserted-ID watermark fetch failed")
		} else {
			alloc.Initialize(watermark)
		}
		if cache != nil {
			if err := cache.Save(store.All()); err != nil {
				logrus.WithError(err).Warn("agent: cache save failed")
			}
		}
		return nil
	}

	coalescer := refresh.NewCoalescer(flags.projectID, flags.debounce, reload, hr)
	defer coalescer.Close()

	src, err := newPushSource()
	if err != nil {
		return err
	}
	defer src.Close()
	go coalescer.Run(src)

	go func() {
		if err := reload(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logrus.WithError(err).Error("agent: initial reload failed")
		}
	}()

	hub := newFeedHub()
	go hub.run()
	console.Subscribe(func(e uiconsole.Entry) { hub.Publish(e) })

	srv := &http.Server{
		Addr:    flags.listenAddr,
		Handler: newRouter(store, ledger, alloc, console, client, hub),
	}
	go func() {
		logrus.WithField("addr", flags.listenAddr).Info("agent: listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logrus.WithError(err).Error("agent: http server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-stop:
	case <-ctx.Done():
	}
	logrus.Info("agent: shutting down")

	reloader.CancelInflight()
	shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutCtx)
}

func newPushSource() (push.Source, error) {
	switch flags.transport {
	case "sse":
		return push.NewSSESource(flags.backendURL, flags.projectID), nil
	case "ws":
		wsURL := flags.wsURL
		if wsURL == "" {
			wsURL = strings.Replace(flags.backendURL, "http", "ws", 1)
		}
		return push.NewWSSource(wsURL, flags.projectID), nil
	default:
		return nil, errors.New("push transport must be sse or ws")
	}
}

func newRouter(store *sheets.Store, ledger *editmap.Store, alloc *insertid.Allocator,
	console *uiconsole.Feed, client *api.Client, hub *feedHub) *mux.Router {

	r := mux.NewRouter()

	r.HandleFunc("/api/status", func(w http.ResponseWriter, _ *http.Request) {
		counts := make(map[string]int)
		for _, name := range store.Names() {
			if snap, ok := store.Get(name); ok {
				counts[name] = len(snap.Data)
			}
		}
		writeJSON(w, map[string]any{
			"project":        flags.projectID,
			"session":        client.Session(),
			"sheets":         counts,
			"lastInsertedId": alloc.LastAllocated(),
			"pendingEdits":   len(ledger.UnsavedEdits("")),
		})
	}).Methods(http.MethodGet)

	r.HandleFunc("/api/sheets/{name}", func(w http.ResponseWriter, req *http.Request) {
		name := mux.Vars(req)["name"]
		snap, ok := store.Get(name)
		if !ok {
			http.NotFound(w, req)
			return
		}
		writeJSON(w, snap)
	}).Methods(http.MethodGet)

	r.HandleFunc("/api/console", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, console.History())
	}).Methods(http.MethodGet)

	r.HandleFunc("/ws/console", hub.serveWS)

	return r
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logrus.WithError(err).Debug("agent: response encode failed")
	}
}
