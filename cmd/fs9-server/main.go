// Command fs9-server runs the namespaced filesystem server.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	_ "github.com/fs9fs/fs9/backend/all"
	"github.com/fs9fs/fs9/fs"
	"github.com/fs9fs/fs9/plugin"
	"github.com/fs9fs/fs9/server"
)

var (
	addr          string
	jwtSecret     string
	metaURL       string
	metaAdminKey  string
	disableAuth   bool
	handleTTL     time.Duration
	nsRate        int
	userRate      int
	mounts        []string
	pluginDir     string
	logLevel      string
	provisionRoot bool
)

var root = &cobra.Command{
	Use:   "fs9-server",
	Short: "Namespaced network filesystem server",
	Long: `fs9-server serves a multi-tenant virtual filesystem over HTTP.
Each tenant namespace has its own mount table routing paths to pluggable
backends (memfs, localfs, pagefs, streamfs, proxyfs or loaded plugins).`,
	RunE: run,
}

func init() {
	flags := root.Flags()
	flags.StringVar(&addr, "addr", ":9999", "listen address")
	flags.StringVar(&jwtSecret, "jwt-secret", envOr("FS9_JWT_SECRET", ""), "HMAC secret for local token validation")
	flags.StringVar(&metaURL, "meta-url", envOr("FS9_META_URL", ""), "base URL of the fs9-meta service")
	flags.StringVar(&metaAdminKey, "meta-admin-key", envOr("FS9_META_ADMIN_KEY", ""), "shared secret for meta admin calls")
	flags.BoolVar(&disableAuth, "disable-auth", false, "serve everything under the default namespace (development only)")
	flags.DurationVar(&handleTTL, "handle-ttl", 5*time.Minute, "idle handle lifetime before the sweeper reclaims it")
	flags.IntVar(&nsRate, "ns-rate", 0, "requests per second per namespace (0 = default, -1 = unlimited)")
	flags.IntVar(&userRate, "user-rate", 0, "requests per second per user (0 = default, -1 = unlimited)")
	flags.StringArrayVar(&mounts, "mount", nil, "static mount for the default namespace, e.g. /=memfs or /data=localfs:/srv/data")
	flags.StringVar(&pluginDir, "plugin-dir", envOr("FS9_PLUGIN_DIR", ""), "directory of provider plugins to load")
	flags.StringVar(&logLevel, "log-level", "info", "log level (debug, info, warning, error)")
	flags.BoolVar(&provisionRoot, "auto-provision", false, "auto-provision unknown namespaces with a pagefs root")
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func run(cmd *cobra.Command, args []string) error {
	level, err := logrus.ParseLevel(logLevel)
	if err != nil {
		return fmt.Errorf("bad log level %q: %w", logLevel, err)
	}
	fs.SetLogLevel(level)

	if pluginDir != "" {
		manager := plugin.NewManager()
		if err := manager.LoadDir(pluginDir); err != nil {
			return fmt.Errorf("failed to load plugins: %w", err)
		}
		defer manager.UnloadAll()
	}

	opt := server.Options{
		Addr:          addr,
		JWTSecret:     jwtSecret,
		DisableAuth:   disableAuth,
		HandleTTL:     handleTTL,
		NamespaceRate: nsRate,
		UserRate:      userRate,
	}
	if provisionRoot {
		opt.DefaultProvision = &server.ProvisionConfig{
			Provider: "pagefs",
			Config:   map[string]interface{}{"backend": "memory"},
		}
	}

	var meta server.MetaClient
	if metaURL != "" {
		meta = server.NewHTTPMetaClient(metaURL, metaAdminKey)
	}
	if metaURL == "" && jwtSecret == "" && !disableAuth {
		return fmt.Errorf("no authentication configured: set --jwt-secret, --meta-url or --disable-auth")
	}

	s := server.New(opt, meta)
	if err := applyStaticMounts(cmd.Context(), s); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return s.ListenAndServe(ctx)
}

// applyStaticMounts parses --mount flags of the form PATH=PROVIDER[:ARG]
// into the default namespace.
func applyStaticMounts(ctx context.Context, s *server.Server) error {
	if len(mounts) == 0 {
		return nil
	}
	ns := s.Namespaces().GetOrCreate(server.DefaultNamespace)
	for _, mount := range mounts {
		path, spec, ok := strings.Cut(mount, "=")
		if !ok {
			return fmt.Errorf("bad --mount %q, want PATH=PROVIDER[:ARG]", mount)
		}
		providerName, arg, _ := strings.Cut(spec, ":")
		config := map[string]interface{}{}
		switch providerName {
		case "localfs":
			config["root"] = arg
		case "pagefs":
			if arg != "" {
				config["backend"] = "bolt"
				config["path"] = arg
			}
		case "proxyfs":
			config["upstream"] = arg
		}
		provider, err := fs.NewProvider(ctx, providerName, config)
		if err != nil {
			return fmt.Errorf("failed to create %q for %q: %w", providerName, path, err)
		}
		if err := ns.Mounts.Mount(path, providerName, provider); err != nil {
			return fmt.Errorf("failed to mount %q: %w", path, err)
		}
		fs.Infof(nil, "mounted %s at %s", providerName, path)
	}
	return nil
}

func main() {
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
