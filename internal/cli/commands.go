package cli

import (
	"context"
	"fmt"
	"strconv"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/utafrali/cartsync/internal/domain"
	"github.com/utafrali/cartsync/internal/engine"
	"github.com/utafrali/cartsync/internal/service"
)

func newShowCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the cart and its totals",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.run(cmd, func(ctx context.Context, carts *service.CartService) (*service.CartView, error) {
				return carts.Get(ctx, localSubject())
			})
		},
	}
}

func newAddCommand(opts *RootOptions) *cobra.Command {
	var (
		name  string
		price string
		image string
		qty   int
	)
	cmd := &cobra.Command{
		Use:   "add <product-id>",
		Short: "Add a product, or increase its quantity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := decimal.NewFromString(price)
			if err != nil {
				return fmt.Errorf("invalid price %q", price)
			}
			item := domain.LineItem{ProductID: args[0], Name: name, Price: p, Image: image, Quantity: qty}
			return opts.run(cmd, func(ctx context.Context, carts *service.CartService) (*service.CartView, error) {
				return carts.Mutate(ctx, localSubject(), engine.AddOp(item))
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "product name")
	cmd.Flags().StringVar(&price, "price", "0", "unit price")
	cmd.Flags().StringVar(&image, "image", "", "image URL")
	cmd.Flags().IntVarP(&qty, "qty", "q", 1, "quantity to add")
	return cmd
}

func newSetCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "set <product-id> <quantity>",
		Short: "Set the quantity of a product; 0 removes it",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("invalid quantity %q", args[1])
			}
			return opts.run(cmd, func(ctx context.Context, carts *service.CartService) (*service.CartView, error) {
				return carts.Mutate(ctx, localSubject(), engine.SetQuantityOp(args[0], n))
			})
		},
	}
}

func newRemoveCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "remove <product-id>",
		Aliases: []string{"rm"},
		Short:   "Remove a product",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.run(cmd, func(ctx context.Context, carts *service.CartService) (*service.CartView, error) {
				return carts.Mutate(ctx, localSubject(), engine.RemoveOp(args[0]))
			})
		},
	}
}

func newClearCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Remove every product",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.run(cmd, func(ctx context.Context, carts *service.CartService) (*service.CartView, error) {
				return carts.Clear(ctx, localSubject())
			})
		},
	}
}
