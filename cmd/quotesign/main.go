// Command quotesign signs a quote file for settlement and can submit the
// result to a running settlementd.
//
//	quotesign -quote quote.toml                      # sign with QUOTESIGN_PRIVATE_KEY
//	quotesign -quote quote.toml -signer desk-1       # key from {ENV}/desk-1/signer
//	quotesign -quote quote.toml -submit http://localhost:9020 -mode user -mm-sig 0x...
//	quotesign -list
package main

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/fatih/color"
	"go.uber.org/zap"

	internalsecrets "github.com/Checker-Finance/settlement/internal/secrets"
	"github.com/Checker-Finance/settlement/pkg/client"
	"github.com/Checker-Finance/settlement/pkg/config"
	"github.com/Checker-Finance/settlement/pkg/logger"
	"github.com/Checker-Finance/settlement/pkg/model"
	"github.com/Checker-Finance/settlement/pkg/secrets"
)

const keyEnv = "QUOTESIGN_PRIVATE_KEY"

func main() {
	var (
		quotePath = flag.String("quote", "", "quote TOML file")
		signer    = flag.String("signer", "", "signer name in AWS Secrets Manager; defaults to $"+keyEnv)
		list      = flag.Bool("list", false, "list signers configured in AWS Secrets Manager")
		submit    = flag.String("submit", "", "settlementd base URL to submit to")
		mode      = flag.String("mode", "user", "submission model: user (RFQ-T) or relayer (RFQ-M)")
		mmSig     = flag.String("mm-sig", "", "market maker signature, hex")
		userSig   = flag.String("user-sig", "", "user signature for relayer submissions, hex")
		value     = flag.String("value", "", "native value attached to a user submission, base units")
		timeout   = flag.Duration("timeout", 30*time.Second, "overall deadline")
	)
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()

	cfg := config.Load()
	logger.Init("quotesign", cfg.Env, "warn")
	defer logger.Sync()

	if *list {
		resolver, err := awsResolver(ctx, cfg)
		if err != nil {
			fatal(err)
		}
		names, err := resolver.DiscoverSigners(ctx)
		if err != nil {
			fatal(err)
		}
		for _, n := range names {
			fmt.Println(n)
		}
		return
	}

	if *quotePath == "" {
		flag.Usage()
		os.Exit(2)
	}
	if cfg.EngineAddress == (common.Address{}) {
		fatal(errors.New("ENGINE_ADDRESS must be set to derive the signing domain"))
	}

	payload, err := loadQuote(*quotePath)
	if err != nil {
		fatal(err)
	}
	key, err := loadKey(ctx, cfg, *signer)
	if err != nil {
		fatal(err)
	}

	if *submit != "" && *mode == "relayer" {
		c := client.New(*submit, key, client.WithLogger(logger.L()))
		view, err := c.SettleRelayer(ctx, model.RelayerSettlementRequest{
			Quote:                payload,
			MarketMakerSignature: *mmSig,
			UserSignature:        *userSig,
		})
		if err != nil {
			fatal(err)
		}
		printSettlement(view)
		return
	}

	hasher, err := newHasher(cfg)
	if err != nil {
		fatal(err)
	}
	s, err := signQuote(hasher, key, payload)
	if err != nil {
		fatal(err)
	}
	render(os.Stdout, s)

	if *submit == "" {
		return
	}
	if *mode != "user" {
		fatal(fmt.Errorf("unknown mode %q", *mode))
	}
	c := client.New(*submit, key, client.WithLogger(logger.L()))
	view, err := c.SettleUser(ctx, model.UserSettlementRequest{
		Quote:                payload,
		MarketMakerSignature: *mmSig,
		Value:                *value,
	})
	if err != nil {
		fatal(err)
	}
	printSettlement(view)
}

func loadKey(ctx context.Context, cfg *config.Config, signer string) (*ecdsa.PrivateKey, error) {
	if signer == "" {
		raw := os.Getenv(keyEnv)
		if raw == "" {
			return nil, fmt.Errorf("set %s or pass -signer", keyEnv)
		}
		return internalsecrets.ParsePrivateKey(raw)
	}
	resolver, err := awsResolver(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return resolver.Resolve(ctx, signer)
}

func awsResolver(ctx context.Context, cfg *config.Config) (*internalsecrets.SignerResolver, error) {
	provider, err := secrets.NewAWSProvider(ctx, cfg.AWSRegion)
	if err != nil {
		return nil, fmt.Errorf("aws secrets manager: %w", err)
	}
	cache := secrets.NewCache[*ecdsa.PrivateKey](cfg.CacheTTL)
	return internalsecrets.NewSignerResolver(logger.L().With(zap.String("component", "signer")), cfg.Env, provider, cache), nil
}

func printSettlement(v *model.SettlementView) {
	ok := color.New(color.FgGreen, color.Bold)
	ok.Printf("settled %s (%s)\n", v.QuoteID, v.Model)
	fmt.Printf("  user received %s of %s, fee %s\n", v.UserReceived, v.TokenOut, v.Fee)
}

func fatal(err error) {
	var apiErr *client.APIError
	if errors.As(err, &apiErr) && apiErr.Reason != "" {
		color.New(color.FgRed).Fprintf(os.Stderr, "error: %s (%s)\n", apiErr.Message, apiErr.Reason)
	} else {
		color.New(color.FgRed).Fprintf(os.Stderr, "error: %v\n", err)
	}
	os.Exit(1)
}
