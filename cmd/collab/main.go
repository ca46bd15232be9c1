package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"doc-collab/internal/api"
	"doc-collab/internal/config"
	"doc-collab/internal/db"
	"doc-collab/internal/identity"
	"doc-collab/internal/repository"
	"doc-collab/internal/services/collaboration"
	"doc-collab/internal/telemetry"

	"github.com/docopt/docopt-go"
	"github.com/golang/glog"
)

const CollabVersion = "0.1.0"

/*
LEARNING: GRACEFUL SHUTDOWN FOR A LONG-LIVED CLIENT

The client wires everything up front (config, tracing, identity, reachability,
HTTP API, websocket transport), hands it to the session Controller and then
just waits for a signal. Cleanup runs in reverse order of construction.
*/

func main() {
	usage := `Collaborative document session client.

Configuration is read from the environment (and .env):
    COLLAB_SERVER_URL, COLLAB_AUTH_TOKEN, COLLAB_PROFILE_DIR, COLLAB_PROFILE,
    DB_HOST (optional shared identity store), JAEGER_ENDPOINT.

Usage:
    collab open <document-id> [--token=<token>] [--verbose=<level>]
    collab whoami [--verbose=<level>]
    collab -h | --help
    collab --version

Options:
    -h --help           Show this screen.
    --version           Show version.
    --token=<token>     Share token for the document.
    --verbose=<level>   glog verbosity [default: 0].`

	opts, err := docopt.ParseArgs(usage, os.Args[1:], CollabVersion)
	if err != nil {
		panic(err)
	}

	flag.Set("logtostderr", "true")
	if level, _ := opts.String("--verbose"); level != "" {
		flag.Set("v", level)
	}
	flag.CommandLine.Parse(nil)
	defer glog.Flush()

	cfg, err := config.Load()
	if err != nil {
		glog.Exitf("❌ Failed to load config: %v", err)
	}

	if whoami_, _ := opts.Bool("whoami"); whoami_ {
		whoami(cfg)
	} else if open_, _ := opts.Bool("open"); open_ {
		documentID, _ := opts.String("<document-id>")
		token, _ := opts.String("--token")
		open(cfg, documentID, token)
	}
}

// identityStore picks the shared postgres store when configured, the profile
// file otherwise. The returned func releases it.
func identityStore(cfg *config.Config) (identity.Store, func()) {
	if cfg.UseDatabase() {
		database, err := db.NewGorm(cfg)
		if err == nil {
			return repository.NewIdentityRepository(database.DB, cfg.ProfileName), func() { database.Close() }
		}
		glog.Warningf("⚠️  Failed to connect to identity database: %v (using profile file)", err)
	}
	return identity.NewFileStore(cfg.ProfilePath()), func() {}
}

func whoami(cfg *config.Config) {
	store, release := identityStore(cfg)
	defer release()

	id := identity.NewResolver(store, cfg.AuthToken).Resolve(context.Background())
	kind := "authenticated"
	if id.IsGuest() {
		kind = "guest"
	}
	fmt.Printf("%s\t%s\t(%s)\n", id.ID, id.Name, kind)
}

func open(cfg *config.Config, documentID, token string) {
	glog.Infof("🚀 Starting collaborative session for document %s...", documentID)

	// Initialize Jaeger tracing first so all operations are traced
	jaegerShutdown, err := telemetry.InitJaeger("doc-collab", cfg.JaegerEndpoint)
	if err != nil {
		glog.Warningf("⚠️  Failed to initialize Jaeger: %v (continuing without tracing)", err)
		jaegerShutdown = func(ctx context.Context) error { return nil }
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := jaegerShutdown(ctx); err != nil {
			glog.Warningf("⚠️  Failed to shutdown Jaeger: %v", err)
		}
	}()

	store, release := identityStore(cfg)
	defer release()
	me := identity.NewResolver(store, cfg.AuthToken).Resolve(context.Background())
	glog.Infof("✓ Participating as %s (%s)", me.Name, me.ID)

	probeAddr, err := collaboration.ProbeAddress(cfg.ServerURL)
	if err != nil {
		glog.Exitf("❌ Invalid server url: %v", err)
	}
	monitor := collaboration.NewNetworkMonitor(probeAddr, cfg.ProbeInterval, cfg.ProbeTimeout)
	monitor.Start()
	defer monitor.Stop()

	provider, err := collaboration.NewWebSocketProvider(cfg.ServerURL, cfg.AuthToken, cfg.ReconnectMaxInterval)
	if err != nil {
		glog.Exitf("❌ Failed to create transport: %v", err)
	}

	client := api.NewClient(cfg.ServerURL, cfg.AuthToken)
	notifier := collaboration.NewLogNotifier()

	controller := collaboration.NewController(collaboration.ControllerConfig{
		Provider:     provider,
		Reachability: monitor,
		Metadata:     client,
		Access:       collaboration.NewAccessResolver(client, notifier),
		Notifier:     notifier,
		Identity:     me,
	})
	controller.Start()

	updates, stopWatching := controller.Watch(32)
	go func() {
		var last collaboration.Update
		for u := range updates {
			if u.State.Status != last.State.Status || u.State.IsReadOnly != last.State.IsReadOnly || u.State.Title != last.State.Title {
				glog.Infof("📄 %q status=%s read-only=%t archived=%t", u.State.Title, u.State.Status, u.State.IsReadOnly, u.State.Archived)
			}
			if u.State.Error != "" && u.State.Error != last.State.Error {
				glog.Errorf("❌ %s", u.State.Error)
			}
			if u.RosterChanged {
				glog.Infof("👥 %d participant(s):", u.Participants)
				for _, p := range u.Roster {
					glog.Infof("   %s %s", p.Color, p.DisplayName)
				}
			}
			last = u
		}
	}()

	controller.Open(documentID, token)

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	glog.Info("🛑 Closing session...")

	stopWatching()
	controller.Shutdown()

	glog.Info("✓ Session closed")
}
