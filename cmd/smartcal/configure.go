package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"

	"github.com/guilherme-santos/smartcal"
)

var ConfigureCommand = Command{
	Name:        "configure",
	Description: "Give access to a calendar platform and import its calendars",
	Run:         runConfigure,
}

func runConfigure(ctx context.Context, a *app, args []string) error {
	var (
		userID   string
		email    string
		timezone string
		platform string
		listen   string
	)
	fs := newFlagSet("configure")
	fs.StringVar(&userID, "user", "", "user id")
	fs.StringVar(&email, "email", "", "user email")
	fs.StringVar(&timezone, "tz", a.cfg.Parser.Timezone, "user timezone")
	fs.StringVar(&platform, "platform", "", fmt.Sprintf("calendar platform %v", a.calendars.Platforms()))
	fs.StringVar(&listen, "listen", ":8080", "address receiving the oauth callback")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if userID == "" || platform == "" {
		fs.Usage()
		return errors.New("-user and -platform are required")
	}

	backend, err := a.calendars.Get(platform)
	if err != nil {
		return err
	}

	w := a.out
	if err := a.storage.AddUser(ctx, userID, email, timezone); err != nil {
		return fmt.Errorf("saving user: %v", err)
	}

	if auth, ok := backend.(smartcal.Authenticator); ok {
		if err := a.requireVault(); err != nil {
			return err
		}
		grant, err := login(ctx, auth, listen, func(authURL string) {
			fmt.Fprintf(w, "Go to the following link in your browser\n%s\n", authURL)
		})
		if err != nil {
			return fmt.Errorf("%s: logging in: %w", platform, err)
		}
		if _, err := a.vault.Store(ctx, userID, platform, *grant); err != nil {
			return fmt.Errorf("saving credential: %w", err)
		}
		fmt.Fprintf(w, "Credential for %q saved for user %q.\n", platform, userID)
	}

	cals, err := a.importCalendars(ctx, userID, platform)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "%d calendar(s) imported from %q.\n", len(cals), platform)
	return nil
}

// login runs the authorization code flow, receiving the callback on listen.
func login(ctx context.Context, auth smartcal.Authenticator, listen string, show func(authURL string)) (*smartcal.Grant, error) {
	state := "smartcal-" + uuid.NewString()
	show(auth.AuthCodeURL(state))

	mux := http.NewServeMux()
	server := &http.Server{
		Addr:    listen,
		Handler: mux,
	}

	var (
		grant   *smartcal.Grant
		authErr error
	)

	mux.HandleFunc("/", func(w http.ResponseWriter, req *http.Request) {
		query := req.URL.Query()
		if query.Get("code") == "" && query.Get("error") == "" {
			http.NotFound(w, req)
			return
		}
		defer func() {
			go server.Shutdown(context.Background())
		}()

		if query.Get("state") != state {
			authErr = errors.New("oauth link is not valid")
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if e := query.Get("error"); e != "" {
			authErr = fmt.Errorf("authorization denied: %s", e)
			w.WriteHeader(http.StatusForbidden)
			fmt.Fprintln(w, "Access was not granted.")
			return
		}

		grant, authErr = auth.Exchange(req.Context(), query.Get("code"))
		if authErr != nil {
			w.WriteHeader(http.StatusBadRequest)
			fmt.Fprintln(w, "Unable to retrieve token:", authErr)
			return
		}

		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "All good, you can close this window!")
	})

	serverCh := make(chan struct{})
	var svrErr error
	go func() {
		svrErr = server.ListenAndServe()
		close(serverCh)
	}()

	select {
	case <-serverCh:
	case <-ctx.Done():
		server.Close()
		<-serverCh
		return nil, ctx.Err()
	}

	if svrErr != nil && !errors.Is(svrErr, http.ErrServerClosed) {
		return nil, svrErr
	}
	if authErr != nil {
		return nil, authErr
	}
	return grant, nil
}
