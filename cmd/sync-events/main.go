// Command sync-events pulls one batch of provider events into the record store and exits.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"tracked-mail-relay-go/internal/app"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	report, err := app.SyncOnce(ctx)
	if err != nil {
		logrus.Errorf("event sync failed: %v", err)
		os.Exit(1)
	}

	logrus.WithFields(logrus.Fields{
		"pages":      report.Pages,
		"items":      report.Items,
		"recorded":   report.Recorded,
		"duplicates": report.Duplicates,
		"malformed":  report.Malformed,
		"warnings":   len(report.Warnings),
		"duration":   report.Duration,
	}).Info("Event sync finished")
}
