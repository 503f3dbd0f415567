// logserver collects the metrics posted by the "external" sink, and stores the agent checkpoints
// saved to a remote store, in a LevelDB database.
//
// Example:
//
//	$ logserver --db=/var/lib/activego --port=8090
//	$ alearn -sink=local,external -server=http://localhost:8090
package main

import (
	"fmt"
	"github.com/alexflint/go-arg"
	"github.com/janpfeifer/activeGo/internal/logserver"
	"github.com/janpfeifer/must"
	"k8s.io/klog/v2"
	"net/http"
	"os"
	"os/signal"
)

func main() {
	args := struct {
		DB   string `arg:"help:directory of the LevelDB database"`
		Port int    `arg:"help:port to listen on"`
	}{
		DB:   "logserver.db",
		Port: 8090,
	}
	arg.MustParse(&args)

	s := must.M1(logserver.Open(args.DB))
	defer func() { _ = s.Close() }()

	// Close the database on Control+C, so it is left consistent.
	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)
	go func() {
		<-interrupt
		klog.Infof("Closing %q", args.DB)
		_ = s.Close()
		os.Exit(0)
	}()

	addr := fmt.Sprintf(":%d", args.Port)
	klog.Infof("Serving logs and models from %q at http://localhost%s", args.DB, addr)
	klog.Fatal(http.ListenAndServe(addr, s.Handler()))
}
