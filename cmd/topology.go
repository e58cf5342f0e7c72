package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/deployr-hpc/deployr/deploy"
	"github.com/deployr-hpc/deployr/deploy/engine/local"
	"github.com/deployr-hpc/deployr/deploy/engine/probe"
)

var (
	topologyEmulationPath string // Emulation file to expand instead of probing
	topologyExtrasPath    string // Extra devices merged into the probed topology
)

// topologyCmd prints the topology a participant would report: the probed
// machine by default, or the expansion of an emulation file.
var topologyCmd = &cobra.Command{
	Use:   "topology",
	Short: "Print detected or emulated host topologies",
	Run: func(cmd *cobra.Command, args []string) {
		var topologies []deploy.Topology
		if topologyEmulationPath != "" {
			em, err := local.LoadEmulation(topologyEmulationPath)
			if err != nil {
				logrus.Fatalf("Unable to load emulation: %v", err)
			}
			topologies = em.Topologies()
		} else {
			machine, err := probe.DetectWith(topologyExtrasPath)
			if err != nil {
				logrus.Fatalf("Unable to probe this machine: %v", err)
			}
			topologies = []deploy.Topology{machine}
		}

		out, err := json.MarshalIndent(topologies, "", "  ")
		if err != nil {
			logrus.Fatalf("Unable to render topologies: %v", err)
		}
		fmt.Println(string(out))
	},
}

func init() {
	topologyCmd.Flags().StringVar(&topologyEmulationPath, "emulation", "", "Expand this emulation file instead of probing")
	topologyCmd.Flags().StringVar(&topologyExtrasPath, "extras", "", "Merge this extras file into the probed topology")
	rootCmd.AddCommand(topologyCmd)
}
