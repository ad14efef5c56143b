package main

import (
	"errors"
	"path/filepath"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/calliope-audio/calliope/internal/database"
)

func RunLibraryCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "library",
		Short: "Manage music libraries",
	}

	cmd.AddCommand(runLibraryAddCommand())
	cmd.AddCommand(runLibraryListCommand())
	cmd.AddCommand(runLibraryRemoveCommand())
	return cmd
}

func runLibraryAddCommand() *cobra.Command {
	var name string

	cmd := &cobra.Command{
		Use:   "add <path>",
		Short: "Register a directory as a music library",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := filepath.Abs(args[0])
			if err != nil {
				return err
			}
			if name == "" {
				name = filepath.Base(path)
			}

			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()

			library := database.Library{
				Path:   path,
				Name:   name,
				Status: database.LibraryIdle,
			}
			if err := a.db.Create(&library).Error; err != nil {
				return err
			}

			cmd.Printf("Added library %d: %s (%s)\n", library.ID, library.Name, library.Path)
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "Display name (defaults to the directory name)")
	return cmd
}

func runLibraryListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List registered libraries",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()

			libraries, err := database.NewTrackStore(a.db).Libraries()
			if err != nil {
				return err
			}
			if len(libraries) == 0 {
				cmd.Println("No libraries registered.")
				return nil
			}

			for _, library := range libraries {
				var count int64
				a.db.Model(&database.Track{}).Where("library_id = ?", library.ID).Count(&count)
				cmd.Printf("%3d  %-20s %-10s %6d tracks  %s\n",
					library.ID, library.Name, library.Status, count, library.Path)
			}
			return nil
		},
	}
}

func runLibraryRemoveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <library-id>",
		Short: "Remove a library, unlinking its tracks",
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

			// Tracks survive removal in unlinked, disabled form so play
			// history is preserved if the library comes back.
			err = a.db.Model(&database.Track{}).
				Where("library_id = ?", libraryID).
				Updates(map[string]interface{}{"library_id": -1, "enabled": false}).Error
			if err != nil {
				return err
			}
			if err := a.db.Delete(&database.Library{}, libraryID).Error; err != nil {
				return err
			}

			cmd.Printf("Removed library %d\n", libraryID)
			return nil
		},
	}
}
