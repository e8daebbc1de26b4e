package main

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/virtualbank/backend/internal/notification"
	"github.com/virtualbank/backend/pkg/config"
	"github.com/virtualbank/backend/pkg/messaging"
	"github.com/virtualbank/backend/pkg/observability"
)

var (
	sendUserID   string
	sendType     string
	sendChannel  string
	sendTitle    string
	sendMessage  string
	sendPriority string
	sendEmailTo  string
)

// sendCmd publishes a single notification through the log, for smoke
// testing the pipeline end to end.
var sendCmd = &cobra.Command{
	Use:   "send",
	Short: "Publish a test notification to the event log",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return err
		}

		n, err := notification.New(sendUserID,
			notification.Type(sendType),
			notification.Channel(sendChannel),
			sendTitle, sendMessage,
			notification.Priority(sendPriority))
		if err != nil {
			return err
		}

		writer := messaging.NewKafkaProducer(cfg.KafkaBrokers, notification.TopicNotifications)
		defer writer.Close()
		emailWriter := messaging.NewKafkaProducer(cfg.KafkaBrokers, notification.TopicEmailTasks)
		defer emailWriter.Close()

		producer := notification.NewProducer(writer, emailWriter, observability.NewLogger("notifications-cli"))

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := producer.Publish(ctx, n); err != nil {
			return err
		}
		fmt.Printf("Published %s notification for user %s\n", n.Type, n.UserID)

		if sendEmailTo != "" {
			if err := producer.PublishEmailTask(ctx, uuid.New().String(), sendEmailTo, sendTitle, sendMessage); err != nil {
				return err
			}
			fmt.Printf("Published email task for %s\n", sendEmailTo)
		}
		return nil
	},
}

func init() {
	sendCmd.Flags().StringVar(&sendUserID, "user", "", "recipient user id (required)")
	sendCmd.Flags().StringVar(&sendType, "type", string(notification.TypeSystemAnnouncement), "notification type")
	sendCmd.Flags().StringVar(&sendChannel, "channel", string(notification.ChannelInApp), "delivery channel (IN_APP, EMAIL, BOTH)")
	sendCmd.Flags().StringVar(&sendTitle, "title", "Test Notification", "notification title")
	sendCmd.Flags().StringVar(&sendMessage, "message", "This is a test notification.", "notification message")
	sendCmd.Flags().StringVar(&sendPriority, "priority", string(notification.PriorityLow), "priority (LOW, MEDIUM, HIGH, URGENT)")
	sendCmd.Flags().StringVar(&sendEmailTo, "email", "", "also publish an email task to this address")
	sendCmd.MarkFlagRequired("user")
}
