package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/dropDatabas3/beout-auth/internal/auth"
	"github.com/dropDatabas3/beout-auth/internal/client"
	"github.com/dropDatabas3/beout-auth/internal/config"
	"github.com/dropDatabas3/beout-auth/internal/credcache"
	"github.com/dropDatabas3/beout-auth/internal/identity"
	"github.com/dropDatabas3/beout-auth/internal/observability/logger"
	"github.com/dropDatabas3/beout-auth/internal/pkce"
)

type cli struct {
	server   string
	cacheDir string
	out      string
	verbose  bool
}

func (c *cli) api() *client.API {
	return client.NewAPI(c.server, nil)
}

func (c *cli) cache() *credcache.Cache {
	return credcache.New(credcache.Config{
		Dir:          c.cacheDir,
		DeviceSecret: []byte(os.Getenv("BEOUT_DEVICE_SECRET")),
		Logger:       logger.L(),
	})
}

func (c *cli) orchestrator(plat client.PlatformCapabilities, timeout time.Duration) *client.Orchestrator {
	return client.New(client.Config{
		Platform: plat,
		API:      c.api(),
		Cache:    c.cache(),
		Timeout:  timeout,
		OnState: func(s client.State) {
			if c.verbose {
				fmt.Fprintf(os.Stderr, "· %s\n", s)
			}
		},
	})
}

func (c *cli) print(v any) {
	if c.out == "json" {
		b, _ := json.MarshalIndent(v, "", "  ")
		fmt.Println(string(b))
		return
	}
	switch x := v.(type) {
	case *auth.PublicUser:
		fmt.Printf("%s <%s> provider=%s id=%s\n", strings.TrimSpace(x.FirstName+" "+x.LastName), x.Email, x.Provider, x.ID)
	case map[string]string:
		for _, k := range sortedKeys(x) {
			fmt.Printf("%s=%s\n", k, x[k])
		}
	default:
		fmt.Printf("%+v\n", v)
	}
}

func main() {
	c := &cli{
		server:   envOr("BEOUT_SERVER", "http://localhost:8080"),
		cacheDir: envOr("BEOUT_CACHE_DIR", defaultCacheDir()),
		out:      envOr("BEOUT_OUT", "text"),
	}

	root := &cobra.Command{
		Use:           "beoutctl",
		Short:         "CLI de login BeOut (flujo nativo con browser del sistema)",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			level := "warn"
			if c.verbose {
				level = "debug"
			}
			logger.Init(logger.Config{Env: "dev", Level: level, ServiceName: "beoutctl"})
		},
	}
	root.PersistentFlags().StringVar(&c.server, "server", c.server, "URL base del backend (env BEOUT_SERVER)")
	root.PersistentFlags().StringVar(&c.cacheDir, "cache-dir", c.cacheDir, "Directorio del cache de credenciales (env BEOUT_CACHE_DIR)")
	root.PersistentFlags().StringVar(&c.out, "out", c.out, "Formato de salida: json|text")
	root.PersistentFlags().BoolVarP(&c.verbose, "verbose", "v", false, "Muestra transiciones y logs de debug")

	root.AddCommand(pkceCmd(c), loginCmd(c), whoamiCmd(c), logoutCmd(c), pollCmd(c), migrateCmd(c))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func pkceCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "pkce",
		Short: "Genera un par verifier/challenge S256 y un state",
		RunE: func(cmd *cobra.Command, args []string) error {
			pair, err := pkce.Generate()
			if err != nil {
				return err
			}
			state, err := pkce.NewState()
			if err != nil {
				return err
			}
			c.print(map[string]string{
				"verifier":  pair.Verifier,
				"challenge": pair.Challenge,
				"method":    "S256",
				"state":     state,
			})
			return nil
		},
	}
}

func loginCmd(c *cli) *cobra.Command {
	var (
		provider string
		timeout  time.Duration
		remember bool
	)
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Login con el browser del sistema; el resultado llega por deep link o polling",
		RunE: func(cmd *cobra.Command, args []string) error {
			p, ok := auth.ParseProvider(provider)
			if !ok || p == auth.ProviderFacebook {
				return fmt.Errorf("provider no soportado en el flujo nativo: %q", provider)
			}

			hub := client.NewHub()
			lb, err := listenLoopback(cmd.Context(), hub)
			if err != nil {
				return err
			}
			defer lb.Close()
			if c.verbose {
				fmt.Fprintf(os.Stderr, "deep links: %s\n", lb.URL())
			}

			c.cache().SetRememberMe(remember)
			plat := client.NativeShellPlatform{Browser: systemBrowser(), Links: hub}
			sess, err := c.orchestrator(plat, timeout).SignIn(cmd.Context(), p)
			if err != nil {
				var ce *client.Error
				if errors.As(err, &ce) {
					return fmt.Errorf("%s (%s)", ce.Message, ce.Code)
				}
				return err
			}
			c.print(&sess.User)
			return nil
		},
	}
	cmd.Flags().StringVar(&provider, "provider", "google", "Provider: google")
	cmd.Flags().DurationVar(&timeout, "timeout", client.DefaultTimeout, "Tiempo máximo de espera")
	cmd.Flags().BoolVar(&remember, "remember", true, "Guarda la sesión para whoami (false = solo esta ejecución)")
	return cmd
}

func whoamiCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Restaura la sesión guardada y muestra el usuario",
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := c.orchestrator(client.NativeShellPlatform{}, 0).Restore(cmd.Context())
			if err != nil {
				return err
			}
			c.print(&sess.User)
			return nil
		},
	}
}

func logoutCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Borra las credenciales locales",
		RunE: func(cmd *cobra.Command, args []string) error {
			c.orchestrator(client.NativeShellPlatform{}, 0).Logout()
			fmt.Println("ok")
			return nil
		},
	}
}

func pollCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "poll <challenge>",
		Short: "Hace un único poll de /mobile/poll/{challenge}",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !pkce.ValidStateKey(args[0]) {
				return fmt.Errorf("challenge inválido")
			}
			res, err := c.api().Poll(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			// el token no se imprime en modo texto
			if c.out != "json" {
				fmt.Printf("status=%s", res.Status)
				if res.Error != "" {
					fmt.Printf(" error=%s", res.Error)
				}
				if res.User != nil {
					fmt.Printf(" user=%s", res.User.ID)
				}
				fmt.Println()
				return nil
			}
			c.print(res)
			return nil
		},
	}
}

func migrateCmd(c *cli) *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Aplica las migraciones embebidas a la base configurada",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			var repo identity.Repository
			switch cfg.Storage.Driver {
			case "postgres":
				repo, err = identity.OpenPG(ctx, cfg.Storage.DSN, true)
			case "sqlite":
				repo, err = identity.OpenSQLite(ctx, cfg.Storage.SQLitePath)
			default:
				return fmt.Errorf("driver desconocido: %q", cfg.Storage.Driver)
			}
			if err != nil {
				return err
			}
			defer repo.Close()
			logger.L().Info("migrations applied", logger.String("driver", cfg.Storage.Driver))
			fmt.Printf("migrations applied (%s)\n", cfg.Storage.Driver)
			return nil
		},
	}
	cmd.Flags().StringVar(&configPath, "config", os.Getenv("CONFIG_PATH"), "Path al YAML de config")
	return cmd
}

func defaultCacheDir() string {
	if d, err := os.UserConfigDir(); err == nil {
		return filepath.Join(d, "beout")
	}
	return ".beout"
}

func envOr(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
