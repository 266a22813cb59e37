package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"go.uber.org/zap"

	"github.com/canopy-network/certifier/app/aggregator"
	"github.com/canopy-network/certifier/app/aggregator/types"
	genesiskey "github.com/canopy-network/certifier/pkg/crypto/genesis"
	"github.com/canopy-network/certifier/pkg/crypto/multisig"
	"github.com/canopy-network/certifier/pkg/db"
	"github.com/canopy-network/certifier/pkg/entities"
	"github.com/canopy-network/certifier/pkg/epoch"
	"github.com/canopy-network/certifier/pkg/genesis"
	"github.com/canopy-network/certifier/pkg/logging"
	"github.com/canopy-network/certifier/pkg/rpc"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := run(ctx, os.Args)
	cancel()
	os.Exit(code)
}

func run(ctx context.Context, args []string) int {
	if len(args) < 2 {
		usage(args)
		return 1
	}

	switch args[1] {
	case "generate-keypair":
		return runGenerateKeypair()
	case "sign":
		return runSign(args[2:])
	case "export", "import", "bootstrap":
		return runWithStore(ctx, args[1], args[2:])
	}

	usage(args)
	return 1
}

func usage(args []string) {
	name := "genesis"
	if len(args) > 0 && args[0] != "" {
		name = filepath.Base(args[0])
	}
	fmt.Fprintf(os.Stderr, "usage:\n")
	fmt.Fprintf(os.Stderr, "  %s generate-keypair\n", name)
	fmt.Fprintf(os.Stderr, "  %s export [--epoch <n>] [--out <payload.json>]\n", name)
	fmt.Fprintf(os.Stderr, "  %s sign --in <payload.json> [--out <signed.json>]   (GENESIS_SECRET_KEY)\n", name)
	fmt.Fprintf(os.Stderr, "  %s import --in <signed.json>\n", name)
	fmt.Fprintf(os.Stderr, "  %s bootstrap [--epoch <n>]   (GENESIS_SECRET_KEY)\n", name)
}

func runGenerateKeypair() int {
	signer, err := genesiskey.GenerateKeypair()
	if err != nil {
		fmt.Fprintf(os.Stderr, "generate keypair: %v\n", err)
		return 1
	}
	fmt.Printf("GENESIS_SECRET_KEY=%s\n", signer.SecretKey())
	fmt.Printf("GENESIS_VERIFICATION_KEY=%s\n", signer.VerificationKey())
	return 0
}

func runSign(args []string) int {
	fs := flag.NewFlagSet("sign", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	var inPath, outPath string
	fs.StringVar(&inPath, "in", "", "exported payload")
	fs.StringVar(&outPath, "out", "", "signed payload (default stdout)")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if inPath == "" {
		fmt.Fprintln(os.Stderr, "--in is required")
		return 2
	}

	signer, err := secretSigner()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	in, err := os.Open(inPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open payload: %v\n", err)
		return 1
	}
	defer in.Close()

	out, closeOut, err := output(outPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open output: %v\n", err)
		return 1
	}
	defer closeOut()

	if err := genesis.SignPayload(in, out, signer); err != nil {
		fmt.Fprintf(os.Stderr, "sign payload: %v\n", err)
		return 1
	}
	return 0
}

// runWithStore runs the actions that read or write the aggregator store.
func runWithStore(ctx context.Context, action string, args []string) int {
	fs := flag.NewFlagSet(action, flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	var epochFlag uint64
	var inPath, outPath string
	fs.Uint64Var(&epochFlag, "epoch", 0, "genesis epoch (default: current chain epoch)")
	fs.StringVar(&inPath, "in", "", "signed payload to import")
	fs.StringVar(&outPath, "out", "", "exported payload (default stdout)")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	logger, err := logging.New()
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()

	cfg, err := types.LoadConfig()
	if err != nil {
		logger.Error("Unable to load configuration", zap.Error(err))
		return 1
	}
	store, err := aggregator.NewStore(ctx, logger, cfg)
	if err != nil {
		logger.Error("Unable to open certifier database", zap.Error(err))
		return 1
	}
	defer func() { _ = store.Close() }()

	var verifier *genesiskey.Verifier
	if cfg.GenesisVerificationKey != "" {
		if verifier, err = genesiskey.NewVerifierFromHex(cfg.GenesisVerificationKey); err != nil {
			logger.Error("Invalid genesis verification key", zap.Error(err))
			return 1
		}
	}

	if action == "import" {
		tools := genesis.NewTools(nil, store, verifier, cfg.ProtocolVersion, logger)
		if err := importSignature(ctx, tools, inPath); err != nil {
			logger.Error("Unable to import genesis signature", zap.Error(err))
			return 1
		}
		return 0
	}

	e, err := resolveEpoch(ctx, cfg, epochFlag)
	if err != nil {
		logger.Error("Unable to resolve genesis epoch", zap.Error(err))
		return 1
	}
	tools, err := newTools(ctx, cfg, store, verifier, e, logger)
	if err != nil {
		logger.Error("Unable to prepare genesis tools", zap.Error(err))
		return 1
	}

	switch action {
	case "export":
		out, closeOut, err := output(outPath)
		if err != nil {
			logger.Error("Unable to open output", zap.Error(err))
			return 1
		}
		defer closeOut()
		if err := tools.ExportPayload(ctx, e, out); err != nil {
			logger.Error("Unable to export genesis payload", zap.Error(err))
			return 1
		}
	case "bootstrap":
		signer, err := secretSigner()
		if err != nil {
			logger.Error("Unable to load genesis secret key", zap.Error(err))
			return 1
		}
		cert, err := tools.Bootstrap(ctx, e, signer)
		if err != nil {
			logger.Error("Unable to bootstrap genesis certificate", zap.Error(err))
			return 1
		}
		fmt.Println(cert.ID)
	}
	return 0
}

func resolveEpoch(ctx context.Context, cfg types.Config, flagValue uint64) (entities.Epoch, error) {
	if flagValue > 0 {
		return entities.Epoch(flagValue), nil
	}
	obs := rpc.NewObserver(rpc.NewHTTPWithOpts(rpc.Opts{Endpoints: cfg.RPCEndpoints}))
	return obs.CurrentEpoch(ctx)
}

// newTools informs an epoch service of e so the parameters the payload commits to exist in the store.
func newTools(ctx context.Context, cfg types.Config, store db.Store, verifier *genesiskey.Verifier, e entities.Epoch, logger *zap.Logger) (*genesis.Tools, error) {
	epochs := epoch.NewService(epoch.Config{
		ProtocolParameters:       cfg.ProtocolParameters,
		AllowedSignedEntityTypes: cfg.SignedEntityTypes,
	}, store, multisig.NewStakeScheme(), logger)
	if err := epochs.InformEpoch(ctx, e); err != nil {
		return nil, err
	}
	return genesis.NewTools(epochs, store, verifier, cfg.ProtocolVersion, logger), nil
}

func importSignature(ctx context.Context, tools *genesis.Tools, inPath string) error {
	if inPath == "" {
		return fmt.Errorf("--in is required")
	}
	in, err := os.Open(inPath)
	if err != nil {
		return err
	}
	defer in.Close()
	cert, err := tools.ImportSignature(ctx, in)
	if err != nil {
		return err
	}
	fmt.Println(cert.ID)
	return nil
}

func secretSigner() (*genesiskey.Signer, error) {
	secret := os.Getenv("GENESIS_SECRET_KEY")
	if secret == "" {
		return nil, fmt.Errorf("GENESIS_SECRET_KEY is not set")
	}
	return genesiskey.NewSignerFromHex(secret)
}

func output(path string) (io.Writer, func(), error) {
	if path == "" {
		return os.Stdout, func() {}, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, err
	}
	return f, func() { _ = f.Close() }, nil
}
