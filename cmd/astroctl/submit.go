package main

import (
	"AstroCal/internal/domain/models"
	xhttp "AstroCal/pkg/http"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

func newSubmitCmd(e *env, opts *rootOptions) *cobra.Command {
	var (
		flags searchFlags
		jobID string
	)
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Queue a conjunction search for the astrocal workers",
		Long: `
Submit a conjunction search to a running deployment. The job goes to the Redis
queue when queue.enabled is set, otherwise to kafka.topics.search_jobs. Found
events are stored against the chart and published to kafka.topics.events.
`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			req, err := flags.request(cmd)
			if err != nil {
				return err
			}
			if flags.chartID != "" {
				req.ChartID = flags.chartID
			}
			if jobID == "" {
				jobID = uuid.NewString()
			}
			job := models.SearchJob{JobID: jobID, ConjunctionRequest: req}
			if err := xhttp.ValidateStruct(cmd.Context(), &job); err != nil {
				return err
			}

			cfg, err := opts.load()
			if err != nil {
				return err
			}
			id, err := e.enqueue(cmd.Context(), cfg, job)
			if err != nil {
				return err
			}
			return opts.print(cmd.OutOrStdout(), map[string]string{"job_id": job.JobID, "message_id": id})
		},
	}
	flags.bind(cmd)
	cmd.Flags().StringVar(&flags.chartID, "chart-id", "", "search a stored chart instead of a birth")
	cmd.Flags().StringVar(&jobID, "job-id", "", "job id (random when empty)")
	return cmd
}
