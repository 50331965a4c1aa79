package main

import (
	"fmt"
	"strconv"

	"confvideo/internal/core/domain"
	"confvideo/internal/core/streamid"

	"github.com/spf13/cobra"
)

func newRatioCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "ratio <participant-id> [stream-name]",
		Short: "Decode the aspect ratio carried by a stream name",
		Long: "Prints width/height decoded from the stream name a participant publishes.\n" +
			"Names without usable dimensions print -1.",
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.Atoi(args[0])
			if err != nil || id < 0 {
				return fmt.Errorf("invalid participant id %q", args[0])
			}
			var name domain.StreamName
			if len(args) == 2 {
				name = domain.StreamName(args[1])
			}

			pid := domain.ParticipantID(id)
			ratio := streamid.DecodeAspectRatio(pid, name)
			if dims, ok := streamid.Parse(pid, name); ok {
				fmt.Fprintf(cmd.OutOrStdout(), "%s %g\n", dims, ratio)
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%g\n", ratio)
			return nil
		},
	}
}
