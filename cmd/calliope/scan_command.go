package main

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/calliope-audio/calliope/internal/database"
	"github.com/calliope-audio/calliope/internal/events"
)

func RunScanCommand() *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "scan <library-id>",
		Short: "Scan a library into the track store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			libraryID, err := strconv.Atoi(args[0])
			if err != nil {
				return errors.New("library id must be a number")
			}

			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()

			sub, err := a.bus.Subscribe(cmd.Context(), events.EventFilter{
				Types: []events.EventType{events.EventScanProgress},
			}, func(event events.Event) error {
				if data, ok := event.Data["progress"].(events.ScanProgressData); ok {
					fmt.Printf("\rScanned %d/%d files", data.FilesScanned, data.FilesTotal)
				}
				return nil
			})
			if err != nil {
				return err
			}
			defer a.bus.Unsubscribe(sub.ID)

			job, err := a.manager.ScanLibrary(libraryID, !all)
			if err != nil {
				return err
			}

			finished, err := waitForJob(cmd, a, job.ID)
			if err != nil {
				return err
			}
			job = &finished

			fmt.Println()
			switch job.Status {
			case database.ScanJobCompleted:
				cmd.Printf("Scan complete: %d files, %d tracks added, %d updated\n",
					job.FilesProcessed, job.TracksAdded, job.TracksUpdated)
			case database.ScanJobPaused:
				cmd.Println("Scan paused before finishing.")
			default:
				return fmt.Errorf("scan %s: %s", job.Status, job.StatusMessage)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "Re-read every file, not only changed ones")
	return cmd
}

// waitForJob polls the scan job until it leaves the pending and running
// states. Interrupting the command stops the scan first.
func waitForJob(cmd *cobra.Command, a *app, jobID uint) (database.ScanJob, error) {
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	var job database.ScanJob
	for {
		select {
		case <-cmd.Context().Done():
			return job, cmd.Context().Err()
		case <-ticker.C:
			if err := a.db.First(&job, jobID).Error; err != nil {
				return job, err
			}
			if job.Status != database.ScanJobPending && job.Status != database.ScanJobRunning {
				return job, nil
			}
		}
	}
}
