package main

import (
	"AstroCal/internal/domain/models"
	"AstroCal/pkg/util"

	"github.com/spf13/cobra"
)

func newPositionCmd(e *env, opts *rootOptions) *cobra.Command {
	var (
		birth birthFlags
		date  string
		body  string
	)
	cmd := &cobra.Command{
		Use:   "position",
		Short: "Secondary progressed longitude of a body on a date",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			br := birth.request(cmd)
			if br == nil {
				return models.NewValidationError("datetime", "is required")
			}
			b, err := br.Resolve()
			if err != nil {
				return err
			}
			target, ok := util.ParseTime(date)
			if !ok {
				return models.NewValidationError("date", "invalid time %q", date)
			}
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			l, err := opts.logger()
			if err != nil {
				return err
			}
			svc, err := e.services(cfg, l)
			if err != nil {
				return err
			}
			pos, err := svc.search.Position(cmd.Context(), b, target, models.Body(body))
			if err != nil {
				return err
			}
			return opts.print(cmd.OutOrStdout(), pos)
		},
	}
	birth.bind(cmd)
	cmd.Flags().StringVar(&date, "date", "", "target date, RFC3339 or 2006-01-02")
	cmd.Flags().StringVar(&body, "body", string(models.Moon), "progressed body")
	_ = cmd.MarkFlagRequired("datetime")
	_ = cmd.MarkFlagRequired("date")
	return cmd
}
