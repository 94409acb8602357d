// Package cli implements cartctl, a command-line client for a single local
// cart kept in SQLite.
package cli

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/utafrali/cartsync/internal/domain"
	"github.com/utafrali/cartsync/internal/pricing"
	"github.com/utafrali/cartsync/internal/repository"
	"github.com/utafrali/cartsync/internal/repository/sqlite"
	"github.com/utafrali/cartsync/internal/service"
	pkgconfig "github.com/utafrali/cartsync/pkg/config"
	"github.com/utafrali/cartsync/pkg/logger"
)

// Slot is the guest session the local cart is stored under.
const Slot = "local"

// ValidFormats are the accepted values of --format.
var ValidFormats = []string{"text", "json", "yaml"}

// Config is read from CARTCTL_* environment variables.
type Config struct {
	DBPath                string `env:"DB_PATH" envDefault:"cartctl.db"`
	FreeShippingThreshold string `env:"FREE_SHIPPING_THRESHOLD" envDefault:"50"`
	FlatShippingFee       string `env:"FLAT_SHIPPING_FEE" envDefault:"10"`
	Currency              string `env:"CURRENCY" envDefault:"USD"`
}

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose bool
	Format  string
	DBPath  string

	cfg Config
}

// NewRootCommand creates the cartctl root command.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:           "cartctl",
		Short:         "Inspect and edit the local cart",
		Long:          "cartctl edits a single cart stored in a local SQLite file, priced with the same rules as the cartsync service.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			if err := pkgconfig.LoadWithPrefix(&opts.cfg, "CARTCTL_"); err != nil {
				return err
			}
			if opts.DBPath == "" {
				opts.DBPath = opts.cfg.DBPath
			}
			return nil
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output on stderr")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (text|json|yaml)")
	cmd.PersistentFlags().StringVar(&opts.DBPath, "db", "", "path of the SQLite cart file (default $CARTCTL_DB_PATH or cartctl.db)")

	cmd.AddCommand(newShowCommand(opts))
	cmd.AddCommand(newAddCommand(opts))
	cmd.AddCommand(newSetCommand(opts))
	cmd.AddCommand(newRemoveCommand(opts))
	cmd.AddCommand(newClearCommand(opts))

	return cmd
}

// session is an open cart service over the local store.
type session struct {
	carts *service.CartService
	close func() error
}

func (o *RootOptions) open(ctx context.Context, cmd *cobra.Command) (*session, error) {
	level := "warn"
	if o.Verbose {
		level = "debug"
	}
	log := logger.NewWithWriter("cartctl", level, cmd.ErrOrStderr())

	policy, err := o.policy()
	if err != nil {
		return nil, err
	}

	store, err := sqlite.Open(ctx, o.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", o.DBPath, err)
	}
	log.Debug("opened local cart", slog.String("path", o.DBPath))

	carts := service.NewCartService(service.CartDeps{
		Carts:  repository.CartStores{Guest: store},
		Logger: log,
	}, service.CartConfig{
		Pricing:  pricing.Policies{Authenticated: policy, Guest: policy},
		Currency: o.cfg.Currency,
	})
	return &session{carts: carts, close: store.Close}, nil
}

func (o *RootOptions) policy() (pricing.Policy, error) {
	threshold, err := decimal.NewFromString(o.cfg.FreeShippingThreshold)
	if err != nil {
		return pricing.Policy{}, fmt.Errorf("CARTCTL_FREE_SHIPPING_THRESHOLD: %w", err)
	}
	fee, err := decimal.NewFromString(o.cfg.FlatShippingFee)
	if err != nil {
		return pricing.Policy{}, fmt.Errorf("CARTCTL_FLAT_SHIPPING_FEE: %w", err)
	}
	return pricing.Policy{FreeThreshold: threshold, FlatFee: fee}, nil
}

// run opens the store, calls fn and prints the cart it returns.
func (o *RootOptions) run(cmd *cobra.Command, fn func(context.Context, *service.CartService) (*service.CartView, error)) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	s, err := o.open(ctx, cmd)
	if err != nil {
		return err
	}
	defer func() { _ = s.close() }()

	view, err := fn(ctx, s.carts)
	if err != nil {
		return err
	}
	return Render(cmd.OutOrStdout(), o.Format, view)
}

func localSubject() domain.Subject { return domain.GuestSession(Slot) }
