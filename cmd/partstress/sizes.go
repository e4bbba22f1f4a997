package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"github.com/vkngwrapper/partalloc/partition"
	"golang.org/x/exp/slog"
)

func init() {
	rootCmd.AddCommand(newSizesCmd())
}

func newSizesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sizes <size>...",
		Short: "Show the usable size a generic root gives each request size",
		Long: `The sizes command prints the bucket each request size lands in, or the size
of its direct mapping, along with the bytes wasted by rounding.

Example:
  partstress sizes 1 100 1000 1000000`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			requests := make([]int, 0, len(args))
			for _, arg := range args {
				size, err := strconv.Atoi(arg)
				if err != nil {
					return errors.Wrapf(err, "%q is not a size", arg)
				}
				requests = append(requests, size)
			}

			return printSizes(newLogger(), requests)
		},
	}
	return cmd
}

func printSizes(logger *slog.Logger, requests []int) error {
	rt, err := partition.DefaultRuntime()
	if err != nil {
		return err
	}

	root := partition.NewGenericRoot(rt, partition.CreateOptions{Name: "sizes"})
	defer func() {
		if err := root.Shutdown(); err != nil {
			logger.Error("could not shut down the sizes root", slog.String("error", err.Error()))
		}
	}()

	fmt.Fprintf(os.Stdout, "%12s %12s %8s %s\n", "REQUEST", "USABLE", "WASTE", "KIND")
	for _, size := range requests {
		if size < 0 || size > partition.GenericMaxDirectMapped {
			return errors.Newf("%d is outside of the allocatable range [0, %d]", size, partition.GenericMaxDirectMapped)
		}

		usable := root.ActualSize(size)
		kind := "bucket"
		if size > partition.GenericMaxBucketed {
			kind = "direct map"
		}
		fmt.Fprintf(os.Stdout, "%12d %12d %8d %s\n", size, usable, usable-size, kind)
	}

	return nil
}
