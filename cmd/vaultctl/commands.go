package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"VaultLedger/internal/auth"
	"VaultLedger/internal/config"
	"VaultLedger/internal/core"
	"VaultLedger/internal/observability"
	"VaultLedger/internal/oracle"
	"VaultLedger/internal/server"
	"VaultLedger/internal/storage"
	"VaultLedger/internal/vault"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"google.golang.org/grpc/status"
)

// cliFlags are the persistent flags shared by every subcommand.
type cliFlags struct {
	configPath string
	backend    string
	path       string
	principal  string
	admin      bool
	verbose    bool
}

// session is the ledger stack opened for one subcommand.
type session struct {
	store   storage.Backend
	service *server.VaultService
	ctx     context.Context
}

// newRootCmd builds the command tree. The returned closer releases the store
// opened by whichever subcommand ran and must be called after Execute.
func newRootCmd() (*cobra.Command, func() error) {
	flags := &cliFlags{}
	var sess *session

	root := &cobra.Command{
		Use:   "vaultctl",
		Short: "Operate a vault ledger in an embedded store",
		Long: `vaultctl opens the configured store directly and applies one ledger
operation per invocation. Do not point it at a store the daemon has open.

Every mutation acts as the principal given by --as. Price overrides also
need the principal to be an administrator, either from the config or
granted with --admin.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			s, err := openSession(cmd, flags)
			if err != nil {
				return err
			}
			sess = s
			return nil
		},
	}
	closer := func() error {
		if sess == nil {
			return nil
		}
		err := sess.store.Close()
		sess = nil
		return err
	}

	pf := root.PersistentFlags()
	pf.StringVar(&flags.configPath, "config", os.Getenv("VAULT_CONFIG"), "YAML config file")
	pf.StringVar(&flags.backend, "store", "", "Storage backend override (memory, leveldb, bolt, postgres)")
	pf.StringVar(&flags.path, "path", "", "Storage path override for embedded backends")
	pf.StringVar(&flags.principal, "as", os.Getenv("VAULT_PRINCIPAL"), "Principal the operation acts as")
	pf.BoolVar(&flags.admin, "admin", false, "Treat the principal as an administrator")
	pf.BoolVarP(&flags.verbose, "verbose", "v", false, "Log to stderr at debug level")

	current := func() *session { return sess }

	root.AddCommand(
		accountCmd("init", "Create an empty vault for the principal", current,
			func(s *session, account string) (any, error) {
				return s.service.Init(s.ctx, &server.AccountRequest{Account: account})
			}),
		amountCmd("deposit", "Add collateral to the principal's vault", current, (*server.VaultService).Deposit),
		amountCmd("withdraw", "Remove collateral from the principal's vault", current, (*server.VaultService).Withdraw),
		amountCmd("borrow", "Take on debt against the principal's collateral", current, (*server.VaultService).Borrow),
		amountCmd("repay", "Reduce the principal's debt", current, (*server.VaultService).Repay),
		liquidateCmd(current),
		getCmd(current),
		priceCmd(current),
	)
	return root, closer
}

func openSession(cmd *cobra.Command, flags *cliFlags) (*session, error) {
	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return nil, err
	}
	if flags.backend != "" {
		cfg.Storage.Backend = flags.backend
	}
	if flags.path != "" {
		cfg.Storage.Path = flags.path
	}

	level := zerolog.WarnLevel
	if flags.verbose {
		level = zerolog.DebugLevel
	}
	component := func(name string) zerolog.Logger {
		return observability.NewLoggerTo(cmd.ErrOrStderr(), name, level)
	}

	admins := cfg.Auth.Admins
	if flags.admin && flags.principal != "" {
		admins = append(admins, flags.principal)
	}

	ctx := cmd.Context()
	store, err := storage.Open(ctx, cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.Storage.Backend, err)
	}

	authorizer := auth.NewContextAuthorizer(admins)
	prices := oracle.NewSlot(store, authorizer, component("oracle"))
	ledger := vault.NewLedger(store, prices, authorizer, component("vault"))
	proc := core.NewProcessor(ledger, prices, core.Options{Logger: component("core")})

	if flags.principal != "" {
		ctx = auth.WithPrincipal(ctx, flags.principal)
	}
	return &session{
		store:   store,
		service: server.NewVaultService(proc, nil, component("service")),
		ctx:     ctx,
	}, nil
}

// principal returns the acting identity or explains how to supply one.
func (s *session) principal() (string, error) {
	p, ok := auth.PrincipalFrom(s.ctx)
	if !ok {
		return "", fmt.Errorf("no principal: pass --as or set VAULT_PRINCIPAL")
	}
	return p, nil
}

func accountCmd(use, short string, current func() *session, call func(*session, string) (any, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s := current()
			account, err := s.principal()
			if err != nil {
				return err
			}
			return respond(cmd, func() (any, error) { return call(s, account) })
		},
	}
}

type amountMethod func(*server.VaultService, context.Context, *server.AmountRequest) (*server.OperationResponse, error)

func amountCmd(use, short string, current func() *session, method amountMethod) *cobra.Command {
	return &cobra.Command{
		Use:   use + " AMOUNT",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s := current()
			account, err := s.principal()
			if err != nil {
				return err
			}
			return respond(cmd, func() (any, error) {
				return method(s.service, s.ctx, &server.AmountRequest{Account: account, Amount: args[0]})
			})
		},
	}
}

func liquidateCmd(current func() *session) *cobra.Command {
	return &cobra.Command{
		Use:   "liquidate BORROWER",
		Short: "Seize an undercollateralized vault's collateral",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s := current()
			liquidator, err := s.principal()
			if err != nil {
				return err
			}
			return respond(cmd, func() (any, error) {
				return s.service.Liquidate(s.ctx, &server.LiquidateRequest{Liquidator: liquidator, Borrower: args[0]})
			})
		},
	}
}

func getCmd(current func() *session) *cobra.Command {
	return &cobra.Command{
		Use:   "get [ACCOUNT]",
		Short: "Show a vault and its health at the current price",
		Long:  "Show a vault. ACCOUNT defaults to the principal. Unknown accounts report zero balances.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s := current()
			var account string
			if len(args) == 1 {
				account = args[0]
			} else {
				p, err := s.principal()
				if err != nil {
					return err
				}
				account = p
			}
			return respond(cmd, func() (any, error) {
				return s.service.GetVault(s.ctx, &server.GetVaultRequest{Account: account})
			})
		},
	}
}

func priceCmd(current func() *session) *cobra.Command {
	price := &cobra.Command{
		Use:   "price",
		Short: "Read or override the collateral price",
	}
	price.AddCommand(
		&cobra.Command{
			Use:   "get",
			Short: "Show the current price",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				s := current()
				return respond(cmd, func() (any, error) {
					return s.service.GetPrice(s.ctx, &server.GetPriceRequest{})
				})
			},
		},
		&cobra.Command{
			Use:   "set PRICE",
			Short: "Override the price (administrators only)",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				s := current()
				return respond(cmd, func() (any, error) {
					return s.service.SetPrice(s.ctx, &server.SetPriceRequest{Price: args[0]})
				})
			},
		},
	)
	return price
}

// respond prints the result as indented JSON. gRPC status errors are
// unwrapped to their message so the CLI reads like the API.
func respond(cmd *cobra.Command, call func() (any, error)) error {
	out, err := call()
	if err != nil {
		if st, ok := status.FromError(err); ok {
			return fmt.Errorf("%s: %s", st.Code(), st.Message())
		}
		return err
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
