package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
)

var (
	port           = flag.Int("port", 9100, "HTTP port the simulated peer listens on")
	baseURL        = flag.String("base-url", "", "Public base URL of this peer (defaults to http://localhost:<port>)")
	countryCode    = flag.String("country", "DE", "Country code of the simulated party")
	partyID        = flag.String("party", "CPO", "Party id of the simulated party")
	role           = flag.String("role", "CPO", "Role of the simulated party (CPO, EMSP, ...)")
	businessName   = flag.String("name", "Simulated Operator", "Business name of the simulated party")
	versions       = flag.String("versions", "2.1.1,2.2.1,2.3", "Comma-separated protocol versions the peer supports")
	bootstrapToken = flag.String("token", "peersim-bootstrap", "Bootstrap token accepted for registration")
	resultDelay    = flag.Duration("result-delay", 2*time.Second, "Delay before the asynchronous command result is posted")
	resultType     = flag.String("result", "ACCEPTED", "CommandResult type the peer answers with (ACCEPTED, REJECTED, TIMEOUT, ...)")
	dropResults    = flag.Bool("drop-results", false, "Accept commands but never post a result, to exercise sender timeouts")
	verbose        = flag.Bool("verbose", false, "Enable verbose logging")
)

func main() {
	flag.Parse()

	var logger *zap.Logger
	var err error
	if *verbose {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	url := *baseURL
	if url == "" {
		url = fmt.Sprintf("http://localhost:%d", *port)
	}

	sim, err := NewPeerSim(PeerSimConfig{
		Port:           *port,
		BaseURL:        url,
		CountryCode:    *countryCode,
		PartyID:        *partyID,
		Role:           *role,
		BusinessName:   *businessName,
		Versions:       *versions,
		BootstrapToken: *bootstrapToken,
		ResultDelay:    *resultDelay,
		ResultType:     *resultType,
		DropResults:    *dropResults,
	}, logger)
	if err != nil {
		logger.Fatal("Failed to build peer simulator", zap.Error(err))
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		fmt.Println("\nShutting down peer simulator...")
		sim.Stop()
		os.Exit(0)
	}()

	logger.Info("Peer simulator listening",
		zap.Int("port", *port),
		zap.String("party", *countryCode+"*"+*partyID),
		zap.String("bootstrap_token", *bootstrapToken),
	)
	if err := sim.Run(); err != nil {
		logger.Fatal("Peer simulator failed", zap.Error(err))
	}
}
