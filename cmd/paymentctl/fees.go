package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"savings/internal/config"
	"savings/internal/domain"
	"savings/internal/service"
)

func feesCmd() *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "fees",
		Short: "Print the fee schedule in effect",
		Long: `Prints the fee schedule as YAML. Without --file the schedule comes from
FEE_SCHEDULE_PATH or the built-in defaults. The output can be edited and fed
back through FEE_SCHEDULE_PATH.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			schedule, err := loadSchedule(file)
			if err != nil {
				return err
			}
			return printSchedule(cmd.OutOrStdout(), schedule)
		},
	}
	cmd.PersistentFlags().StringVarP(&file, "file", "f", "", "Fee schedule YAML file to use instead of FEE_SCHEDULE_PATH")

	cmd.AddCommand(quoteCmd(&file))
	return cmd
}

func quoteCmd(file *string) *cobra.Command {
	var (
		amount int64
		kind   string
		months int
	)

	cmd := &cobra.Command{
		Use:   "quote",
		Short: "Compute the fee for a payment",
		RunE: func(cmd *cobra.Command, args []string) error {
			schedule, err := loadSchedule(*file)
			if err != nil {
				return err
			}

			paymentType := domain.PaymentType(kind)
			fee, err := service.NewFeeCalculator(schedule).Calculate(amount, paymentType, months)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "base fee:     %d\n", fee.BaseFee)
			fmt.Fprintf(out, "duration fee: %d\n", fee.DurationFee)
			fmt.Fprintf(out, "total fee:    %d (%s%%)\n", fee.TotalFee, fee.Percentage.String())
			fmt.Fprintf(out, "charge:       %d\n", service.ChargeAmount(paymentType, amount, fee))
			return nil
		},
	}

	cmd.Flags().Int64Var(&amount, "amount", 0, "Principal in minor units")
	cmd.Flags().StringVar(&kind, "type", string(domain.PaymentTypeGoalContribution), "Payment type")
	cmd.Flags().IntVar(&months, "months", 0, "Duration in months (creation payments)")
	_ = cmd.MarkFlagRequired("amount")
	return cmd
}

func loadSchedule(file string) (config.FeeSchedule, error) {
	if file != "" {
		return config.LoadFeeSchedule(file)
	}
	cfg, err := config.Load()
	if err != nil {
		return config.FeeSchedule{}, err
	}
	return cfg.Fees, nil
}

func printSchedule(w io.Writer, schedule config.FeeSchedule) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(schedule); err != nil {
		return fmt.Errorf("encode fee schedule: %w", err)
	}
	return enc.Close()
}
