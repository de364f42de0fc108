package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/DGrayArea/matt-sol-nft-airdrops/airdrop"
	"github.com/DGrayArea/matt-sol-nft-airdrops/bubblegum"
	"github.com/DGrayArea/matt-sol-nft-airdrops/das"
	"github.com/DGrayArea/matt-sol-nft-airdrops/fees"
	"github.com/DGrayArea/matt-sol-nft-airdrops/solanarpc"
	"github.com/DGrayArea/matt-sol-nft-airdrops/wallet"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(argv []string) error {
	if len(argv) == 0 || argv[0] == "-h" || argv[0] == "--help" || argv[0] == "help" {
		usage(os.Stdout)
		return nil
	}

	switch argv[0] {
	case "send":
		return cmdSend(argv[1:])
	case "estimate":
		return cmdEstimate(argv[1:])
	case "check":
		return cmdCheck(argv[1:])
	case "keygen":
		return cmdKeygen(argv[1:])
	case "faucet":
		return cmdFaucet(argv[1:])
	default:
		return fmt.Errorf("unknown command: %s", argv[0])
	}
}

func usage(w io.Writer) {
	fmt.Fprintln(w, "nft-airdrop: send compressed NFTs from one wallet to many recipients")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage:")
	fmt.Fprintln(w, "  nft-airdrop send     --transfers <path> [--keypair <path>] [--cu-limit <u32>] [--priority-level <level>] [--commitment <level>] [--delay <duration>] [--no-prefetch] [--skip-preflight] [--verbose]")
	fmt.Fprintln(w, "  nft-airdrop estimate --transfers <path> [--keypair <path>] [--cu-limit <u32>] [--priority-level <level>]")
	fmt.Fprintln(w, "  nft-airdrop check    [--keypair <path>]")
	fmt.Fprintln(w, "  nft-airdrop keygen   --out <path> [--force]")
	fmt.Fprintln(w, "  nft-airdrop faucet   [--keypair <path>] [--lamports <n>]   (devnet only)")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Environment:")
	fmt.Fprintln(w, "  HELIUS_RPC_URL or HELIUS_API_KEY/HELIUS_CLUSTER (DAS + submission)")
	fmt.Fprintln(w, "  SOLANA_RPC_URL optionally overrides the submission endpoint")
}

func newLogger(verbose bool) *logrus.Logger {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if verbose {
		log.SetLevel(logrus.DebugLevel)
	}
	return log
}

func cmdSend(argv []string) error {
	fs := flag.NewFlagSet("send", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var (
		transfersPath string
		keypairPath   string
		cuLimit       uint
		priorityLevel string
		commitment    string
		delay         time.Duration
		noPrefetch    bool
		skipPreflight bool
		verbose       bool
	)
	fs.StringVar(&transfersPath, "transfers", "", "Transfer list path (one \"<asset-id>,<recipient>\" per line)")
	fs.StringVar(&keypairPath, "keypair", wallet.DefaultKeypairPath(), "Sender keypair path (Solana CLI JSON format)")
	fs.UintVar(&cuLimit, "cu-limit", 300_000, "Compute unit limit per transfer (0 disables compute budget)")
	fs.StringVar(&priorityLevel, "priority-level", string(das.PriorityMedium), "Priority level (Min/Low/Medium/High/VeryHigh)")
	fs.StringVar(&commitment, "commitment", "confirmed", "Confirmation commitment (processed/confirmed/finalized)")
	fs.DurationVar(&delay, "delay", time.Second, "Minimum delay between transfers")
	fs.BoolVar(&noPrefetch, "no-prefetch", false, "Skip the batched asset prefetch")
	fs.BoolVar(&skipPreflight, "skip-preflight", false, "Skip sendTransaction preflight simulation")
	fs.BoolVar(&verbose, "verbose", false, "Debug logging")

	if err := fs.Parse(argv); err != nil {
		return err
	}
	if transfersPath == "" {
		return errors.New("--transfers is required")
	}
	if cuLimit > 0xffff_ffff {
		return errors.New("--cu-limit must fit in u32")
	}

	requests, err := loadTransferList(transfersPath)
	if err != nil {
		return err
	}
	kp, err := wallet.Load(keypairPath)
	if err != nil {
		return fmt.Errorf("load keypair: %w", err)
	}

	dasClient, err := das.ClientFromEnv()
	if err != nil {
		return err
	}
	rpc, err := solanarpc.ClientFromEnv()
	if err != nil {
		return err
	}

	log := newLogger(verbose)

	probeCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	supported, err := dasClient.SupportsDAS(probeCtx)
	cancel()
	if err != nil {
		return fmt.Errorf("probe DAS endpoint: %w", err)
	}
	if !supported {
		return errors.New("configured endpoint does not support DAS methods (getAsset/getAssetProof)")
	}

	orch, err := airdrop.New(dasClient, rpc, kp, airdrop.Config{
		InterJobDelay:    delay,
		Commitment:       commitment,
		ComputeUnitLimit: uint32(cuLimit),
		PriorityLevel:    das.PriorityLevel(priorityLevel),
		Prefetch:         !noPrefetch,
		SkipPreflight:    skipPreflight,
		FeeEstimator:     dasClient,
		Logger:           log,
	})
	if err != nil {
		return err
	}

	log.WithFields(logrus.Fields{
		"transfers": len(requests),
		"sender":    kp.Pubkey().Base58(),
	}).Info("starting batch")

	result, err := orch.Run(context.Background(), requests)
	if err != nil {
		return err
	}

	for _, job := range result.Jobs {
		fmt.Println(job.String())
	}
	fmt.Println(result.Summary())
	return nil
}

func cmdEstimate(argv []string) error {
	fs := flag.NewFlagSet("estimate", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var (
		transfersPath string
		keypairPath   string
		cuLimit       uint
		priorityLevel string
	)
	fs.StringVar(&transfersPath, "transfers", "", "Transfer list path (one \"<asset-id>,<recipient>\" per line)")
	fs.StringVar(&keypairPath, "keypair", wallet.DefaultKeypairPath(), "Sender keypair path (Solana CLI JSON format)")
	fs.UintVar(&cuLimit, "cu-limit", 300_000, "Compute unit limit per transfer")
	fs.StringVar(&priorityLevel, "priority-level", string(das.PriorityMedium), "Priority level (Min/Low/Medium/High/VeryHigh)")

	if err := fs.Parse(argv); err != nil {
		return err
	}
	if transfersPath == "" {
		return errors.New("--transfers is required")
	}
	if cuLimit > 0xffff_ffff {
		return errors.New("--cu-limit must fit in u32")
	}

	requests, err := loadTransferList(transfersPath)
	if err != nil {
		return err
	}
	kp, err := wallet.Load(keypairPath)
	if err != nil {
		return fmt.Errorf("load keypair: %w", err)
	}
	dasClient, err := das.ClientFromEnv()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	perSig, err := dasClient.LamportsPerSignature(ctx)
	if err != nil {
		return err
	}

	var microLamports uint64
	keys := []string{kp.Pubkey().Base58(), bubblegum.ProgramID.Base58()}
	if est, err := dasClient.GetPriorityFeeEstimate(ctx, keys, das.PriorityLevel(priorityLevel)); err == nil {
		microLamports = est
	}

	estimate, err := fees.EstimateBatch(uint64(len(requests)), perSig, uint32(cuLimit), microLamports)
	if err != nil {
		return err
	}
	fmt.Println(estimate.String())
	return nil
}

func cmdCheck(argv []string) error {
	fs := flag.NewFlagSet("check", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var keypairPath string
	fs.StringVar(&keypairPath, "keypair", wallet.DefaultKeypairPath(), "Sender keypair path (Solana CLI JSON format)")

	if err := fs.Parse(argv); err != nil {
		return err
	}

	dasClient, err := das.ClientFromEnv()
	if err != nil {
		return err
	}
	rpc, err := solanarpc.ClientFromEnv()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	supported, err := dasClient.SupportsDAS(ctx)
	if err != nil {
		return fmt.Errorf("probe DAS endpoint: %w", err)
	}
	fmt.Printf("das_supported: %v\n", supported)

	slot, err := rpc.Slot(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("slot: %d\n", slot)

	if keypairPath != "" {
		kp, err := wallet.Load(keypairPath)
		if err != nil {
			return fmt.Errorf("load keypair: %w", err)
		}
		balance, err := rpc.BalanceLamports(ctx, kp.Pubkey().Base58())
		if err != nil {
			return err
		}
		fmt.Printf("sender: %s\n", kp.Pubkey().Base58())
		fmt.Printf("balance_lamports: %d\n", balance)
	}
	return nil
}

func cmdKeygen(argv []string) error {
	fs := flag.NewFlagSet("keygen", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var (
		outPath string
		force   bool
	)
	fs.StringVar(&outPath, "out", "", "Output keypair path")
	fs.BoolVar(&force, "force", false, "Overwrite an existing keypair file")

	if err := fs.Parse(argv); err != nil {
		return err
	}
	if outPath == "" {
		return errors.New("--out is required")
	}

	pub, err := wallet.GenerateKeypairFile(outPath, force)
	if err != nil {
		return err
	}
	fmt.Println(pub.Base58())
	return nil
}

func cmdFaucet(argv []string) error {
	fs := flag.NewFlagSet("faucet", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var (
		keypairPath string
		lamports    uint64
	)
	fs.StringVar(&keypairPath, "keypair", wallet.DefaultKeypairPath(), "Keypair path to fund (Solana CLI JSON format)")
	fs.Uint64Var(&lamports, "lamports", 1_000_000_000, "Lamports to request")

	if err := fs.Parse(argv); err != nil {
		return err
	}

	kp, err := wallet.Load(keypairPath)
	if err != nil {
		return fmt.Errorf("load keypair: %w", err)
	}
	rpc, err := solanarpc.ClientFromEnv()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	sig, err := rpc.RequestAirdrop(ctx, kp.Pubkey().Base58(), lamports)
	if err != nil {
		return err
	}
	fmt.Println(sig)
	return nil
}
