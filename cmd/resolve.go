package main

import (
	"encoding/json"
	"io"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/soilmap/internal/api"
	"github.com/sells-group/soilmap/internal/resolve"
)

var (
	resolveLat string
	resolveLon string
)

var resolveCmd = &cobra.Command{
	Use:   "resolve",
	Short: "Resolve one coordinate to a soil profile",
	Example: `  soilmap resolve --lat 8.50 --lon 76.95
  SOILMAP_RESOLVE_METRIC=haversine soilmap resolve --lat 8.9 --lon 76.95`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("resolve"); err != nil {
			return err
		}
		e, err := buildEngine(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		return runResolve(cmd.OutOrStdout(), e, resolveLat, resolveLon)
	},
}

func init() {
	resolveCmd.Flags().StringVar(&resolveLat, "lat", "", "latitude in decimal degrees")
	resolveCmd.Flags().StringVar(&resolveLon, "lon", "", "longitude in decimal degrees")
	_ = resolveCmd.MarkFlagRequired("lat")
	_ = resolveCmd.MarkFlagRequired("lon")
	rootCmd.AddCommand(resolveCmd)
}

// runResolve prints the response body the API would return. Soft outcomes
// print a failure body and succeed; invalid input and internal errors fail
// the command after printing.
func runResolve(w io.Writer, e *resolve.Engine, lat, lon string) error {
	q, err := resolve.ParseQueryStrings(lat, lon)
	if err == nil {
		var res resolve.Result
		res, err = e.ResolveQuery(q)
		if err == nil {
			return printJSON(w, api.FromResult(res))
		}
	}

	_, f := api.FromError(err)
	if perr := printJSON(w, f); perr != nil {
		return perr
	}
	return err
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return eris.Wrap(err, "encode output")
	}
	return nil
}
