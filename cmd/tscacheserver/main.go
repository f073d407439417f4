// Command tscacheserver serves the timeseries cache over HTTP:
// POST /timeseries accepts a form-encoded request and returns the first
// (cache) snapshot immediately, plus a side-channel URL under
// /_/status/ for subsequent snapshots as remote slices complete.
package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tlemo/catapult/go/httpfetch"
	"github.com/tlemo/catapult/tscache/cachemodel"
	"github.com/tlemo/catapult/tscache/coalesce"
	"github.com/tlemo/catapult/tscache/planner"
	"github.com/tlemo/catapult/tscache/request"
	"github.com/tlemo/catapult/tscache/resultgen"
	"github.com/tlemo/catapult/tscache/streamtracker"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		logrus.WithError(err).Fatal("tscacheserver exited with an error")
	}
}

var rootCmd = &cobra.Command{
	Use:   "tscacheserver",
	Short: "Serves the client-side timeseries cache over HTTP",
	RunE:  run,
}

func init() {
	flags := rootCmd.Flags()
	flags.String("listen", ":8000", "address to listen on")
	flags.String("data-dir", "./tscache-data", "directory holding one bbolt file per timeseries identity")
	flags.String("backend-url", "", "base URL of the remote timeseries backend (required)")
	flags.Duration("poll-timeout", 20*time.Second, "how long a status poll long-polls before returning with nothing new")
	flags.Duration("stream-cache-duration", 5*time.Minute, "how long a finished stream's status stays pollable")
	flags.Duration("dial-timeout", httpfetch.DialTimeout, "dial timeout for remote slice fetches")
	flags.Duration("request-timeout", httpfetch.RequestTimeout, "per-request timeout for remote slice fetches")
	flags.String("log-level", "info", "log level (debug, info, warn, error)")

	for _, name := range []string{"listen", "data-dir", "backend-url", "poll-timeout", "stream-cache-duration", "dial-timeout", "request-timeout", "log-level"} {
		if err := viper.BindPFlag(name, flags.Lookup(name)); err != nil {
			panic(err)
		}
	}
	viper.SetEnvPrefix("TSCACHESERVER")
	viper.AutomaticEnv()
}

func run(cmd *cobra.Command, args []string) error {
	level, err := logrus.ParseLevel(viper.GetString("log-level"))
	if err != nil {
		return err
	}
	logrus.SetLevel(level)

	backendURL := viper.GetString("backend-url")
	if backendURL == "" {
		return errors.New("backend-url is required")
	}

	tracker, err := streamtracker.New("/_/status/", viper.GetDuration("poll-timeout"), viper.GetDuration("stream-cache-duration"))
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	tracker.Start(ctx)

	s := &server{
		stores:   newStoreManager(viper.GetString("data-dir")),
		fetcher:  httpfetch.NewWithTimeouts(viper.GetDuration("dial-timeout"), viper.GetDuration("request-timeout")),
		registry: coalesce.NewRegistry(),
		tracker:  tracker,
		backend:  backendURL,
	}

	router := chi.NewRouter()
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)
	router.Post("/timeseries", s.handleTimeseries)
	router.Get("/_/status/{id}", tracker.Handler)

	httpServer := &http.Server{Addr: viper.GetString("listen"), Handler: router}
	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
		<-sig
		cancel()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	logrus.WithField("addr", httpServer.Addr).Info("tscacheserver listening")
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// server bundles the collaborators every request handler needs.
type server struct {
	stores   *storeManager
	fetcher  *httpfetch.Client
	registry *coalesce.Registry
	tracker  *streamtracker.Tracker
	backend  string
}

// firstResponse is the body of the immediate HTTP response: the cached
// snapshot plus the side-channel URL for what follows.
type firstResponse struct {
	cachemodel.Snapshot
	StatusURL string `json:"status_url,omitempty"`
}

// channelName derives the side-channel name for r: request-url + "?" +
// urlencode(body). It relies on request.Parse having already called
// r.ParseForm(), which populates r.PostForm from the form-encoded body.
// url.Values.Encode() sorts by key, so the same submitted fields always
// encode to the same string regardless of the order they arrived in.
func channelName(r *http.Request) string {
	return r.URL.Path + "?" + r.PostForm.Encode()
}

func (s *server) handleTimeseries(w http.ResponseWriter, r *http.Request) {
	req, err := request.Parse(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	db, err := s.stores.get(req.Identity)
	if err != nil {
		logrus.WithError(err).WithField("store", req.Identity.StoreName()).Error("failed to open store")
		http.Error(w, "failed to open store", http.StatusInternalServerError)
		return
	}

	deps := resultgen.Deps{
		DB:       db,
		Fetcher:  s.fetcher,
		Registry: s.registry,
		Planner: planner.Options{
			Identity:  req.Identity,
			Statistic: req.Statistic,
			URL:       s.backend,
			Method:    http.MethodPost,
		},
	}

	out := make(chan cachemodel.Snapshot, 8)
	go resultgen.Run(context.Background(), req, deps, time.Now(), out)

	first, ok := <-out
	if !ok {
		// Run closed out without sending, which it never does today, but
		// an empty snapshot is a safe response if that ever changes.
		first = cachemodel.Snapshot{}
	}
	statusURL := s.tracker.Add(channelName(r), out)

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(firstResponse{Snapshot: first, StatusURL: statusURL}); err != nil {
		logrus.WithError(err).Error("failed to encode response")
	}
}
