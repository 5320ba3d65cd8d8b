package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	xerrors "SmartBI-Agent/internal/errors"
	"SmartBI-Agent/internal/llm"
	"SmartBI-Agent/internal/llm/providers"
	"SmartBI-Agent/internal/observability/metrics"
	"SmartBI-Agent/pkg/logger"
)

func newExtractCommand(root *rootOptions) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "extract <image>",
		Short: "把表格图片转换为 CSV",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.loadConfig()
			if err != nil {
				return err
			}
			if err := initLogger(cfg, "stderr"); err != nil {
				return err
			}
			defer logger.Sync()

			image, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			extractor, err := providers.Vision(cmd.Context(), *cfg, metrics.Default(), logger.Named("vision"))
			if err != nil {
				return err
			}
			text := extractor.Extract(cmd.Context(), image)
			if text == "" || llm.IsExtractionError(text) {
				if text == "" {
					text = "Failed to extract CSV data from the image"
				}
				return xerrors.New(xerrors.CodeUpstreamFailure, text)
			}
			if output != "" {
				return os.WriteFile(output, []byte(text+"\n"), 0o644)
			}
			fmt.Fprintln(cmd.OutOrStdout(), text)
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "写入的 CSV 文件，为空时输出到终端")
	return cmd
}
