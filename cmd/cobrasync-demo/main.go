// Command cobrasync-demo wires the full sync stack against a server and
// walks through the offline-first flow: create a client, record a credit and
// a payment, then drain the pending queue.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/cobranzas-app/cobrasync"
	"github.com/cobranzas-app/cobrasync/connectivity"
	"github.com/cobranzas-app/cobrasync/domain"
	"github.com/cobranzas-app/cobrasync/logging"
	"github.com/cobranzas-app/cobrasync/remote"
	"github.com/cobranzas-app/cobrasync/store/sqlite"
)

func main() {
	var (
		baseURL = flag.String("api", envOr("COBRASYNC_API", "http://localhost:3000"), "base URL of the collections server")
		dbPath  = flag.String("db", envOr("COBRASYNC_DB", "file:cobranzas.db"), "SQLite data source")
		token   = flag.String("token", os.Getenv("COBRASYNC_TOKEN"), "bearer token")
	)
	flag.Parse()

	logging.Init(logging.Config{Level: "debug", Format: "text", Environment: "dev"})
	log := logging.Default()

	if err := run(*baseURL, *dbPath, *token, log); err != nil {
		log.Error("demo failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(baseURL, dbPath, token string, log *logging.Logger) error {
	store, err := sqlite.NewWithDataSource(dbPath)
	if err != nil {
		return fmt.Errorf("opening local store: %w", err)
	}

	monitor, err := connectivity.NewProbe(
		connectivity.HTTPProbe(baseURL+"/api/clients", nil),
		30*time.Second,
	)
	if err != nil {
		return fmt.Errorf("starting connectivity monitor: %w", err)
	}
	defer monitor.Close()

	api := remote.New(baseURL,
		remote.WithTokenProvider(func() string { return token }),
		remote.WithSessionExpiredHandler(func() {
			log.Warn("session expired, a re-login is required")
		}),
	)

	manager, err := cobrasync.New(api,
		cobrasync.WithLocalStore(store),
		cobrasync.WithMonitor(monitor),
		cobrasync.WithTimeout(15*time.Second),
		cobrasync.WithDrainInterval(time.Minute),
	)
	if err != nil {
		return err
	}
	defer manager.Close()

	ctx := context.Background()
	if err := manager.StartAutoDrain(ctx); err != nil {
		return err
	}
	defer manager.StopAutoDrain()

	client, err := manager.CreateClient(ctx, domain.ClientInput{
		Nombre:   "Cliente Demo",
		Telefono: "3001234567",
		Negocio:  "Tienda La Esquina",
	})
	if err != nil {
		return fmt.Errorf("creating client: %w", err)
	}
	log.Info("client created", slog.String("id", client.ID))

	credit, err := manager.CreateCredit(ctx, client.ID, domain.CreditInput{
		Amount:    1000,
		Interest:  20,
		Frequency: domain.FrequencyMonthly,
	})
	if err != nil {
		return fmt.Errorf("creating credit: %w", err)
	}
	log.Info("credit created",
		slog.String("id", credit.ID),
		slog.Float64("total", credit.Total),
		slog.Float64("valor_cuota", credit.ValorCuota))

	payment, err := manager.CreatePayment(ctx, client.ID, domain.PaymentInput{
		CreditID: credit.ID,
		Amount:   200,
	})
	if err != nil {
		return fmt.Errorf("recording payment: %w", err)
	}
	log.Info("payment recorded",
		slog.String("id", payment.ID),
		slog.Float64("amount", payment.Amount))

	result, err := manager.Drain(ctx)
	if err != nil {
		return fmt.Errorf("draining queue: %w", err)
	}
	log.Info("drain finished",
		slog.Int("replayed", result.Replayed),
		slog.Int("pending", result.Pending))

	clients, err := manager.GetClients(ctx)
	if err != nil {
		return fmt.Errorf("listing clients: %w", err)
	}
	for _, c := range clients {
		log.Info("client",
			slog.String("id", c.ID),
			slog.String("nombre", c.Nombre),
			slog.Float64("deuda", c.Deuda))
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
