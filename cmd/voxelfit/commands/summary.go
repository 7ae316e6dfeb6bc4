package commands

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"

	"voxelfit/pkg/apply"
)

var (
	bold   = color.New(color.Bold)
	green  = color.New(color.FgGreen)
	yellow = color.New(color.FgYellow)
	red    = color.New(color.FgRed)
)

// printSummary renders the pass statistics as a table
func printSummary(alg apply.Algorithm, st apply.Stats, dir string) {
	fmt.Println()
	bold.Printf("Fit complete: %s\n", strings.Join(apply.OutputNames(alg), ", "))

	fitted := st.Voxels - st.Masked - st.Failures
	pct := func(n int) string {
		if st.Voxels == 0 {
			return "-"
		}
		return fmt.Sprintf("%.1f%%", 100*float64(n)/float64(st.Voxels))
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Metric", "Value", "Share")
	_ = table.Append("Voxels", fmt.Sprint(st.Voxels), "")
	_ = table.Append("Masked", fmt.Sprint(st.Masked), pct(st.Masked))
	_ = table.Append("Fitted", green.Sprint(fitted), pct(fitted))
	_ = table.Append("Failed", failureColor(st).Sprint(st.Failures), pct(st.Failures))
	_ = table.Append("Panics", fmt.Sprint(st.Panics), "")
	_ = table.Append("Evaluations", fmt.Sprint(st.Evaluations), "")
	_ = table.Append("Mean eval time", st.MeanEvalTime.String(), "")
	_ = table.Append("Elapsed", st.Elapsed.Round(time.Millisecond).String(), "")
	_ = table.Render()

	fmt.Printf("Run %s, outputs in %s\n", st.RunID, dir)
}

func failureColor(st apply.Stats) *color.Color {
	switch {
	case st.Failures == 0:
		return green
	case st.Panics > 0 || st.Failures*10 > st.Voxels-st.Masked:
		return red
	default:
		return yellow
	}
}
