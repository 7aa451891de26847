package main

import (
	"fmt"

	"AstroCal/internal/domain/models"
	"AstroCal/internal/services/conjunction"
	"AstroCal/internal/usecase"
	xhttp "AstroCal/pkg/http"

	"github.com/spf13/cobra"
)

// searchFlags build a conjunction request from flags, or from a JSON file
// given with --request.
type searchFlags struct {
	birth       birthFlags
	requestFile string
	chartID     string
	natal       map[string]string
	req         models.ConjunctionRequest
	fallback    bool
}

func (s *searchFlags) bind(cmd *cobra.Command) {
	s.birth.bind(cmd)
	f := cmd.Flags()
	f.StringVar(&s.requestFile, "request", "", "JSON conjunction request; other search flags are ignored")
	f.StringVar(&s.req.Start, "start", "", "window start, RFC3339 or 2006-01-02")
	f.StringVar(&s.req.End, "end", "", "window end, inclusive")
	f.StringSliceVar(&s.req.Bodies, "bodies", nil, "progressed bodies (default Moon)")
	f.StringSliceVar(&s.req.Targets, "targets", nil, "natal targets (default every chart point)")
	f.StringToStringVar(&s.natal, "natal", nil, "natal longitude overrides, e.g. Sun=275.27,Asc=100")
	f.Float64Var(&s.req.MaxOrb, "max-orb", 0, "maximum orb in degrees (configured default when 0)")
	f.Float64Var(&s.req.StepHours, "step-hours", 0, "scan step in hours (configured default when 0)")
	f.BoolVar(&s.req.IncludeSelf, "include-self", false, "also match a body against its own natal position")
	f.BoolVar(&s.fallback, "fallback", false, "allow the mean motion fallback when the ephemeris is down")
}

func (s *searchFlags) request(cmd *cobra.Command) (models.ConjunctionRequest, error) {
	if s.requestFile != "" {
		var req models.ConjunctionRequest
		if err := readJSON(s.requestFile, &req); err != nil {
			return req, err
		}
		return req, nil
	}
	req := s.req
	req.Birth = s.birth.request(cmd)
	natal, err := parseNatal(s.natal)
	if err != nil {
		return req, err
	}
	req.Natal = natal
	if cmd.Flags().Changed("fallback") {
		fb := s.fallback
		req.Fallback = &fb
	}
	return req, nil
}

func newConjunctionsCmd(e *env, opts *rootOptions) *cobra.Command {
	var (
		flags    searchFlags
		progress bool
	)
	cmd := &cobra.Command{
		Use:     "conjunctions",
		Aliases: []string{"search"},
		Short:   "Find dates a progressed body conjoins natal points",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			req, err := flags.request(cmd)
			if err != nil {
				return err
			}
			if err := xhttp.ValidateStruct(cmd.Context(), &req); err != nil {
				return err
			}
			in, err := usecase.SearchInputFrom(req)
			if err != nil {
				return err
			}
			// a local run has no chart store to read from or write to
			in.ChartID, in.Save = "", false
			if progress {
				w := cmd.ErrOrStderr()
				in.Progress = func(body models.Body, p conjunction.Progress) {
					if p.Step == 1 || p.Step == p.Total || p.Step%30 == 0 {
						fmt.Fprintf(w, "%s %s %d/%d %.4f\n", body, p.Date.Format("2006-01-02"), p.Step, p.Total, p.Longitude)
					}
				}
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
			res, err := svc.search.Search(cmd.Context(), in)
			if err != nil {
				return err
			}
			return opts.print(cmd.OutOrStdout(), res)
		},
	}
	flags.bind(cmd)
	cmd.Flags().BoolVar(&progress, "progress", false, "report scan progress on stderr")
	return cmd
}
