package figure

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"github.com/nvandessel/pullsim/internal/experiment"
)

// AddSeries plots the mean convergence time of s against population size.
// The coordinates are stored as data blocks "populationSize<i>" and
// "data<i>", so i must be unique within the figure.
func (f *Figure) AddSeries(i int, s experiment.Series, attrs ...string) error {
	x := "populationSize" + strconv.Itoa(i)
	y := "data" + strconv.Itoa(i)
	if err := f.Plot(x, y, attrs...); err != nil {
		return fmt.Errorf("series %s: %w", s.Name, err)
	}
	f.AddInts(x, s.Sizes)
	f.AddData(y, s.Means)
	return nil
}

// CSVHeader is the first record written by WriteCSV.
var CSVHeader = []string{"series", "population", "mean", "stddev", "median", "min", "max", "not_converged", "trials"}

// WriteCSV writes one record per series and population size.
func WriteCSV(w io.Writer, series []experiment.Series) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(CSVHeader); err != nil {
		return err
	}
	for _, s := range series {
		for _, sum := range s.Summaries {
			rec := []string{
				s.Name,
				strconv.Itoa(sum.Population),
				formatFloat(sum.Mean),
				formatFloat(sum.StdDev),
				formatFloat(sum.Median),
				formatFloat(sum.Min),
				formatFloat(sum.Max),
				strconv.Itoa(sum.NotConverged),
				strconv.Itoa(sum.Trials),
			}
			if err := cw.Write(rec); err != nil {
				return err
			}
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("writing csv: %w", err)
	}
	return nil
}
