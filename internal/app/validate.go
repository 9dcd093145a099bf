package app

import (
	"fmt"
	"io"
	"text/tabwriter"

	"irs-keeper/internal/oracle"
)

// ValidateConfig checks every configured oracle's buffer policy offline and
// prints one line per oracle. It makes no network calls.
func (a *App) ValidateConfig(out io.Writer) error {
	network := a.network()
	if len(network.RateOracles) == 0 {
		fmt.Fprintf(out, "network %s: no rate oracles configured\n", a.Config.Network)
		return nil
	}

	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Oracle\tAddress\tBuffer\tMin interval\tMax duration\tGrowth calls\tResult")

	invalid := 0
	for _, o := range network.RateOracles {
		cfg := bufferConfig(o)
		result := "ok"
		if err := oracle.CheckBufferConfig(cfg); err != nil {
			invalid++
			result = err.Error()
		}
		fmt.Fprintf(writer, "%s\t%s\t%d\t%ds\t%ds\t<= %d\t%s\n",
			o.Name, o.Address, cfg.MinBufferSize, cfg.MinSecondsSinceLastUpdate, cfg.MaxDurationSeconds,
			maxGrowthCalls(cfg.MinBufferSize), result)
	}
	writer.Flush()

	if invalid > 0 {
		return fmt.Errorf("%d of %d rate oracles have an unsafe buffer configuration", invalid, len(network.RateOracles))
	}
	return nil
}

// maxGrowthCalls bounds the growth transactions needed from an empty buffer.
func maxGrowthCalls(size uint64) int {
	return len(oracle.PlanGrowth(0, size, oracle.MaxGrowthPerCall))
}
