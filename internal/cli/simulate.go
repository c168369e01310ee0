package cli

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"coin-price-alerts/internal/app"
	"coin-price-alerts/internal/storage"
)

var (
	simulateSymbol    string
	simulateKind      string
	simulateThreshold float64
	simulatePrice     float64
)

var simulateCmd = &cobra.Command{
	Use:   "simulate-alert",
	Short: "模拟一次规则触发并推送告警",
	RunE: func(cmd *cobra.Command, args []string) error {
		if simulateSymbol == "" {
			return errors.New("--symbol 必须提供")
		}
		if simulatePrice <= 0 {
			return errors.New("--price 必须大于 0")
		}

		kind := storage.RuleKind(simulateKind)
		switch kind {
		case storage.KindPriceAbove, storage.KindPriceBelow:
		default:
			return fmt.Errorf("unsupported --kind %q (use %s or %s)", simulateKind, storage.KindPriceAbove, storage.KindPriceBelow)
		}

		opts := app.SimulateOptions{
			Symbol:    simulateSymbol,
			Kind:      kind,
			Threshold: decimal.NewFromFloat(simulateThreshold),
			Price:     decimal.NewFromFloat(simulatePrice),
		}
		return getApp().SimulateAlert(cmd.Context(), opts)
	},
}

func init() {
	simulateCmd.Flags().StringVar(&simulateSymbol, "symbol", "", "资产符号")
	simulateCmd.Flags().StringVar(&simulateKind, "kind", string(storage.KindPriceAbove), "规则类型 (price_above/price_below)")
	simulateCmd.Flags().Float64Var(&simulateThreshold, "threshold", 0, "阈值价格")
	simulateCmd.Flags().Float64Var(&simulatePrice, "price", 0, "模拟当前价格")
}
