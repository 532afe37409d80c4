// Command pipedl-serve runs one download and exposes its progress over a
// thin HTTP status frontend, for embedding pipedl behind a process
// supervisor that polls rather than tailing stderr.
package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"

	"github.com/sirupsen/logrus"
	"gopkg.in/alecthomas/kingpin.v2"

	"pipedl"
)

var (
	rawURL     = kingpin.Arg("url", "URL to download from, optionally ending in .link").Required().String()
	targetPath = kingpin.Flag("target", "Output path; inferred from the url when omitted").Short('C').String()
	listenAddr = kingpin.Flag("listen", "Address to serve the status frontend on").Default(":8080").String()
)

func main() {
	kingpin.Parse()

	cfg := pipedl.DefaultConfig()
	dl := pipedl.New(cfg)

	if err := dl.Start(context.Background(), *rawURL, *targetPath); err != nil {
		logrus.WithError(err).Fatal("failed to start download")
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/progress", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(dl.Progress())
	})
	mux.HandleFunc("/pause", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		dl.Pause()
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("/resume", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		dl.Resume()
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("/stop", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		dl.SignalStop()
		w.WriteHeader(http.StatusNoContent)
	})

	logrus.WithField("addr", *listenAddr).Info("serving pipedl status frontend")
	if err := http.ListenAndServe(*listenAddr, mux); err != nil {
		logrus.WithError(err).Error("status server exited")
		os.Exit(1)
	}
}
