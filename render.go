package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"mediarender/api"
)

// newRenderCommand runs a single job from a JSON file shaped like the
// POST /generate-video body, without starting the HTTP server.
func newRenderCommand() *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "render",
		Short: "Render one job described by a JSON file and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(file)
			if err != nil {
				return fmt.Errorf("read job file: %w", err)
			}
			var body api.GenerateRequest
			if err := json.Unmarshal(data, &body); err != nil {
				return fmt.Errorf("parse job file: %w", err)
			}

			a, err := loadApp()
			if err != nil {
				return err
			}
			defer a.close()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			a.manager.Start(ctx)

			res, err := a.manager.Run(ctx, body.JobRequest())
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(api.GenerateResponse{
				Success:      true,
				DriveFileID:  res.RemoteFileID,
				DriveFileURL: res.RemoteFileURL,
			})
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "Path to the job JSON file")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}
