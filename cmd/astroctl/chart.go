package main

import (
	"AstroCal/internal/domain/models"
	"AstroCal/internal/usecase"
	xhttp "AstroCal/pkg/http"

	"github.com/spf13/cobra"
)

func newChartCmd(e *env, opts *rootOptions) *cobra.Command {
	var (
		birth birthFlags
		req   models.ChartRequest
	)
	cmd := &cobra.Command{
		Use:   "chart",
		Short: "Compute a natal chart with houses and aspects",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if b := birth.request(cmd); b != nil {
				req.Birth = *b
			}
			if err := xhttp.ValidateStruct(cmd.Context(), &req); err != nil {
				return err
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
			in, err := usecase.ChartInputFrom(req)
			if err != nil {
				return err
			}
			c, err := svc.charts.Create(cmd.Context(), in)
			if err != nil {
				return err
			}
			return opts.print(cmd.OutOrStdout(), c)
		},
	}
	birth.bind(cmd)
	f := cmd.Flags()
	f.StringSliceVar(&req.Points, "points", nil, "points to compute (default set when empty)")
	f.StringSliceVar(&req.AspectBodies, "aspect-bodies", nil, "restrict aspects to these points")
	f.BoolVar(&req.AllPoints, "all-points", false, "compute every supported point")
	f.StringVar(&req.HouseSystem, "house-system", "", "placidus, koch, whole_sign, equal or regiomontanus")
	f.BoolVar(&req.Draconic, "draconic", false, "rotate the chart so the true node sits at 0 Aries")
	_ = cmd.MarkFlagRequired("datetime")
	return cmd
}
