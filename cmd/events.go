package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os/signal"
	"syscall"

	"ms-ticket-market/internal/kafka"
	"ms-ticket-market/internal/logger"
	"ms-ticket-market/internal/models"

	"github.com/spf13/cobra"
)

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Inspect the ticket event topic",
}

var eventsTailCmd = &cobra.Command{
	Use:   "tail",
	Short: "Print ticket events as they are published",
	RunE:  runEventsTail,
}

var eventsTopicsCmd = &cobra.Command{
	Use:   "topics",
	Short: "List topics on the configured brokers",
	RunE:  runEventsTopics,
}

func init() {
	eventsCmd.AddCommand(eventsTailCmd)
	eventsCmd.AddCommand(eventsTopicsCmd)
}

func runEventsTail(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log := logger.NewLogger(cfg.LogDir)
	defer log.Close()
	log.SetLevel(logger.ParseLevel(cfg.LogLevel))

	consumer := kafka.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TicketEvents, cfg.Kafka.GroupID, log)
	defer consumer.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	out := json.NewEncoder(cmd.OutOrStdout())
	return consumer.Start(ctx, func(event models.TicketEvent) {
		if err := out.Encode(event); err != nil {
			log.Error("KAFKA", fmt.Sprintf("Failed to print event %s: %v", event.EventID, err))
		}
	})
}

func runEventsTopics(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	topics, err := kafka.ListTopics(cfg.Kafka.Brokers)
	if err != nil {
		return fmt.Errorf("list topics: %w", err)
	}
	for _, topic := range topics {
		fmt.Fprintln(cmd.OutOrStdout(), topic)
	}
	if len(topics) == 0 {
		fmt.Fprintln(cmd.ErrOrStderr(), "no topics")
	}
	return nil
}
