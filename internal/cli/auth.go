package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/ewilliams-labs/pulselight/internal/adapters/spotify"
	"github.com/ewilliams-labs/pulselight/internal/platform/config"
)

var authTimeout time.Duration

var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Authorize with Spotify and print a refresh token",
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.SpotifyClientID == "" || cfg.SpotifyClientSecret == "" {
			return fmt.Errorf("%w: SPOTIFY_CLIENT_ID and SPOTIFY_CLIENT_SECRET are required", config.ErrMissingCredentials)
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), authTimeout)
		defer cancel()

		conf := spotify.OAuthConfig(cfg.SpotifyClientID, cfg.SpotifyClientSecret, cfg.SpotifyRedirectURL)
		tok, err := authorize(ctx, conf, func(authURL string) {
			fmt.Fprintf(cmd.OutOrStdout(), "Open this URL in a browser to authorize pulselight:\n\n%s\n\n", authURL)
		})
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "SPOTIFY_REFRESH_TOKEN=%s\n", tok.RefreshToken)
		return nil
	},
}

func init() {
	authCmd.Flags().DurationVar(&authTimeout, "timeout", 5*time.Minute, "how long to wait for the browser callback")
	rootCmd.AddCommand(authCmd)
}

// authorize runs the authorization-code flow with a one-shot callback server
// bound to the redirect URL's host.
func authorize(ctx context.Context, conf *oauth2.Config, prompt func(authURL string)) (*oauth2.Token, error) {
	redirect, err := url.Parse(conf.RedirectURL)
	if err != nil || redirect.Host == "" {
		return nil, fmt.Errorf("cli: bad redirect url %q", conf.RedirectURL)
	}
	callbackPath := redirect.Path
	if callbackPath == "" {
		callbackPath = "/"
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", redirect.Host)
	if err != nil {
		return nil, fmt.Errorf("cli: callback listener: %w", err)
	}

	state := uuid.NewString()
	codes := make(chan string, 1)
	failures := make(chan error, 1)

	r := chi.NewRouter()
	r.Get(callbackPath, func(w http.ResponseWriter, req *http.Request) {
		q := req.URL.Query()
		switch {
		case q.Get("state") != state:
			http.Error(w, "state mismatch", http.StatusBadRequest)
			return
		case q.Get("error") != "":
			http.Error(w, "authorization denied", http.StatusForbidden)
			select {
			case failures <- fmt.Errorf("cli: authorization denied: %s", q.Get("error")):
			default:
			}
			return
		case q.Get("code") == "":
			http.Error(w, "missing code", http.StatusBadRequest)
			return
		}
		fmt.Fprintln(w, "pulselight is authorized. You can close this tab.")
		select {
		case codes <- q.Get("code"):
		default:
		}
	})

	srv := &http.Server{Handler: r, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Warn("callback server failed", zap.Error(err))
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	prompt(conf.AuthCodeURL(state))

	select {
	case code := <-codes:
		tok, err := conf.Exchange(ctx, code)
		if err != nil {
			return nil, fmt.Errorf("cli: token exchange: %w", err)
		}
		return tok, nil
	case err := <-failures:
		return nil, err
	case <-ctx.Done():
		return nil, fmt.Errorf("cli: waiting for authorization: %w", ctx.Err())
	}
}
