package main

import (
	"errors"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"
)

func RunMonitorCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "monitor [library-id...]",
		Short: "Watch libraries for filesystem changes",
		Long:  "Installs filesystem watches over the given libraries (all of them when none are named) and rescans changed directories until interrupted.",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()

			if len(args) == 0 {
				if err := a.manager.SetupWatchers(); err != nil {
					return err
				}
				cmd.Println("Monitoring all libraries")
			} else {
				ids, err := monitorTargets(args)
				if err != nil {
					return err
				}
				for _, id := range ids {
					if err := a.manager.Monitor(id); err != nil {
						return err
					}
					cmd.Printf("Monitoring library %d\n", id)
				}
			}

			stop := make(chan os.Signal, 1)
			signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
			select {
			case <-stop:
			case <-cmd.Context().Done():
			}

			cmd.Println("Stopping monitors.")
			return nil
		},
	}
}

func monitorTargets(args []string) ([]int, error) {
	ids := make([]int, 0, len(args))
	for _, arg := range args {
		id, err := strconv.Atoi(arg)
		if err != nil {
			return nil, errors.New("library id must be a number")
		}
		ids = append(ids, id)
	}
	return ids, nil
}
